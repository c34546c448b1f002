package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"time"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultDebounce = 10 * time.Second
	MinInterval     = time.Second
)

// ErrLocked means another watcher holds the workspace lock.
var ErrLocked = errors.New("watcher already running")

// Runner performs one sync and returns its exit code.
type Runner interface {
	Run(ctx context.Context) (int, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Targets is called on every poll so newly created files are picked up.
	Targets  func() []string
	Runner   Runner
	Interval time.Duration
	Debounce time.Duration
	// Jitter spreads poll intervals by up to this ratio (0.0-1.0).
	Jitter float64
	// Notify enables early polls on filesystem events.
	Notify bool
	Out    io.Writer
	ErrOut io.Writer
	Logger Logger
	Now    func() time.Time
}

type Watcher struct {
	targets  func() []string
	runner   Runner
	interval time.Duration
	debounce time.Duration
	jitter   float64
	notify   bool
	out      io.Writer
	errOut   io.Writer
	logger   Logger
	now      func() time.Time

	current    []string
	prev       map[string]FileState
	pending    bool
	lastChange time.Time
}

func New(opts Options) (*Watcher, error) {
	if opts.Targets == nil {
		return nil, fmt.Errorf("targets func is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	debounce := opts.Debounce
	if debounce < 0 {
		debounce = 0
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = out
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Watcher{
		targets:  opts.Targets,
		runner:   opts.Runner,
		interval: interval,
		debounce: debounce,
		jitter:   ClampJitterRatio(opts.Jitter),
		notify:   opts.Notify,
		out:      out,
		errOut:   errOut,
		logger:   opts.Logger,
		now:      now,
	}, nil
}

// Start lists the current targets and records their baseline state.
func (w *Watcher) Start() []string {
	targets := w.targets()
	fmt.Fprintf(w.out, "WATCH_TARGETS=%d\n", len(targets))
	for _, p := range targets {
		fmt.Fprintf(w.out, " - %s\n", p)
	}
	w.current = targets
	w.prev = Snapshot(targets)
	w.pending = false
	return targets
}

// Poll re-collects targets and compares them with the previous poll. A
// change marks a sync as pending; due reports that the pending sync has
// seen no further change for the debounce period.
func (w *Watcher) Poll(now time.Time) (changed []string, due bool) {
	if w.prev == nil {
		w.prev = map[string]FileState{}
	}
	w.current = w.targets()
	cur := Snapshot(w.current)
	changed = DetectChanges(w.prev, cur)
	w.prev = cur
	if len(changed) > 0 {
		w.pending = true
		w.lastChange = now
		fmt.Fprintln(w.out, "WATCH_CHANGED:")
		for _, p := range changed {
			fmt.Fprintf(w.out, " - %s\n", p)
		}
		return changed, false
	}
	if w.pending && now.Sub(w.lastChange) >= w.debounce {
		return nil, true
	}
	return nil, false
}

// Pending reports whether a change is waiting for its sync.
func (w *Watcher) Pending() bool {
	return w.pending
}

// Sync runs the runner once and reports its status.
func (w *Watcher) Sync(ctx context.Context) int {
	code, err := w.runner.Run(ctx)
	if err != nil {
		w.logf("sync command failed: %v", err)
		code = 1
	}
	if code != 0 {
		fmt.Fprintln(w.errOut, "WATCH_SYNC_STATUS=FAILED")
	} else {
		fmt.Fprintln(w.out, "WATCH_SYNC_STATUS=SUCCESS")
	}
	return code
}

// Run polls until ctx is cancelled, syncing whenever a change has settled.
// A failed sync is reported and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) error {
	targets := w.Start()

	var notifier *dirNotifier
	var events <-chan struct{}
	if w.notify {
		var err error
		notifier, err = newDirNotifier(w.logger)
		if err != nil {
			w.logf("filesystem notifications disabled: %v", err)
			notifier = nil
		} else {
			defer notifier.Close()
			notifier.Watch(parentDirs(targets))
			events = notifier.C()
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(w.nextDelay(rng.Float64()))
	defer timer.Stop()

	poll := func() {
		_, due := w.Poll(w.now())
		if notifier != nil {
			notifier.Watch(parentDirs(w.current))
		}
		if due {
			fmt.Fprintln(w.out, "WATCH_DEBOUNCE_OK=YES")
			w.Sync(ctx)
			w.pending = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w.out, "WATCH_STOPPED=BY_USER")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-events:
			poll()
		case <-timer.C:
			poll()
			timer.Reset(w.nextDelay(rng.Float64()))
		}
	}
}

// nextDelay returns the jittered poll interval, never below MinInterval.
func (w *Watcher) nextDelay(sample float64) time.Duration {
	delay := JitteredIntervalWithSample(w.interval, w.jitter, sample)
	if delay < MinInterval {
		return MinInterval
	}
	return delay
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}

func parentDirs(paths []string) []string {
	seen := map[string]struct{}{}
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// JitteredIntervalWithSample scales base by a factor in
// [1-jitterRatio, 1+jitterRatio] picked by sample in [0, 1].
func JitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

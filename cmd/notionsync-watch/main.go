package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentworkforce/notionsync/internal/snapshot"
	"github.com/agentworkforce/notionsync/internal/watch"
	"github.com/agentworkforce/notionsync/internal/workspace"
)

func main() {
	log.SetPrefix("")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("notionsync-watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workspaceRoot := fs.String("workspace", strings.TrimSpace(os.Getenv("NOTIONSYNC_WORKSPACE")), "workspace root (default: current directory)")
	codexHome := fs.String("codex-home", strings.TrimSpace(os.Getenv("NOTIONSYNC_CODEX_HOME")), "global codex root")
	layoutPath := fs.String("layout", strings.TrimSpace(os.Getenv("NOTIONSYNC_LAYOUT")), "snapshot layout file (.toml or .yaml)")
	interval := secondsFlag(fs, "interval", durationEnv("NOTIONSYNC_WATCH_INTERVAL", watch.DefaultInterval), "polling interval in seconds or as a duration (15, 1m)")
	intervalJitter := fs.Float64("interval-jitter", floatEnv("NOTIONSYNC_WATCH_INTERVAL_JITTER", 0), "polling interval jitter ratio (0.0-1.0)")
	debounce := secondsFlag(fs, "debounce", durationEnv("NOTIONSYNC_WATCH_DEBOUNCE", watch.DefaultDebounce), "quiet period before a sync, in seconds or as a duration")
	once := fs.Bool("once", false, "run one sync immediately and exit")
	dryRun := fs.Bool("dry-run", false, "report changes without running the sync")
	noGlobal := fs.Bool("no-global", false, "ignore files under the global codex root")
	noNotify := fs.Bool("no-notify", false, "disable filesystem notifications and rely on polling")
	syncCommand := fs.String("sync-command", envOrDefault("NOTIONSYNC_WATCH_SYNC_COMMAND", ""), "notionsync binary (default: next to this binary or on PATH)")
	logFile := fs.String("log-file", strings.TrimSpace(os.Getenv("NOTIONSYNC_WATCH_LOG_FILE")), "also write output to this rotating log file")
	lockFile := fs.String("lock-file", strings.TrimSpace(os.Getenv("NOTIONSYNC_WATCH_LOCK_FILE")), "single-instance lock (default: <workspace>/.bootstrap/notion-watch.lock)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	logger := log.New(stderr, "", 0)
	if strings.TrimSpace(*logFile) != "" {
		rotating := &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		defer rotating.Close()
		stdout = io.MultiWriter(stdout, rotating)
		stderr = io.MultiWriter(stderr, rotating)
		logger.SetOutput(stderr)
	}

	roots, err := workspace.DefaultRoots(*workspaceRoot, *codexHome)
	if err != nil {
		logger.Printf("resolve roots: %v", err)
		return 1
	}
	layout := snapshot.DefaultLayout()
	if strings.TrimSpace(*layoutPath) != "" {
		if layout, err = snapshot.LoadLayout(*layoutPath); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	}

	binary, err := resolveSyncCommand(*syncCommand)
	if err != nil && !*dryRun {
		logger.Printf("%v", err)
		return 1
	}
	runner := watch.CommandRunner{
		Command: append([]string{binary}, pushArgs(roots, *layoutPath)...),
		Dir:     roots.Workspace,
		DryRun:  *dryRun,
		Out:     stdout,
		ErrOut:  stderr,
	}

	if *once {
		code, err := runner.Run(ctx)
		if err != nil {
			logger.Printf("sync command failed: %v", err)
			return 1
		}
		return code
	}

	lockPath := strings.TrimSpace(*lockFile)
	if lockPath == "" {
		lockPath = filepath.Join(roots.Workspace, ".bootstrap", "notion-watch.lock")
	}
	release, err := watch.AcquireLock(lockPath)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	defer release()

	includeGlobal := !*noGlobal
	w, err := watch.New(watch.Options{
		Targets: func() []string {
			return snapshot.Targets(layout, roots, includeGlobal)
		},
		Runner:   runner,
		Interval: *interval,
		Debounce: *debounce,
		Jitter:   *intervalJitter,
		Notify:   !*noNotify,
		Out:      stdout,
		ErrOut:   stderr,
		Logger:   logger,
	})
	if err != nil {
		logger.Printf("failed to initialize watcher: %v", err)
		return 1
	}
	if err := w.Run(ctx); err != nil {
		logger.Printf("watcher stopped: %v", err)
		return 2
	}
	return 0
}

// resolveSyncCommand prefers an explicit command, then a notionsync binary
// next to the running executable, then PATH.
func resolveSyncCommand(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := exec.LookPath(explicit); err != nil {
			return "", fmt.Errorf("sync command not found: %s", explicit)
		}
		return explicit, nil
	}
	name := "notionsync"
	if self, err := os.Executable(); err == nil {
		if sibling, err := exec.LookPath(filepath.Join(filepath.Dir(self), name)); err == nil {
			return sibling, nil
		}
	}
	found, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("sync command not found: %s", name)
	}
	return found, nil
}

func pushArgs(roots workspace.Roots, layoutPath string) []string {
	args := []string{"push", "--workspace", roots.Workspace, "--codex-home", roots.GlobalCodex}
	if strings.TrimSpace(layoutPath) != "" {
		args = append(args, "--layout", layoutPath)
	}
	return args
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := parseSeconds(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

// parseSeconds reads a bare number as seconds and anything else as a Go
// duration string.
func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, fmt.Errorf("invalid seconds %q", raw)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return value, nil
}

type secondsValue time.Duration

func secondsFlag(fs *flag.FlagSet, name string, value time.Duration, usage string) *time.Duration {
	p := new(time.Duration)
	*p = value
	fs.Var((*secondsValue)(p), name, usage)
	return p
}

func (v *secondsValue) Set(raw string) error {
	value, err := parseSeconds(raw)
	if err != nil {
		return err
	}
	*v = secondsValue(value)
	return nil
}

func (v *secondsValue) String() string {
	if v == nil {
		return ""
	}
	return time.Duration(*v).String()
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

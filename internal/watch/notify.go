package watch

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// dirNotifier turns fsnotify events on a set of directories into coalesced
// wakeups.
type dirNotifier struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	logger  Logger

	mu      sync.Mutex
	watched map[string]struct{}
}

func newDirNotifier(logger Logger) (*dirNotifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	n := &dirNotifier{
		watcher: watcher,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
		watched: map[string]struct{}{},
	}
	n.wg.Add(1)
	go n.processEvents()
	return n, nil
}

// Watch adds directories that are not watched yet. Directories that
// cannot be watched are skipped; the poll timer still covers them.
func (n *dirNotifier) Watch(dirs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, dir := range dirs {
		if _, ok := n.watched[dir]; ok {
			continue
		}
		if err := n.watcher.Add(dir); err != nil {
			continue
		}
		n.watched[dir] = struct{}{}
	}
}

func (n *dirNotifier) C() <-chan struct{} {
	return n.wake
}

func (n *dirNotifier) Close() error {
	close(n.done)
	err := n.watcher.Close()
	n.wg.Wait()
	return err
}

func (n *dirNotifier) processEvents() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			if n.logger != nil {
				n.logger.Printf("fsnotify error: %v", err)
			}
		}
	}
}

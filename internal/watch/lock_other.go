//go:build !unix

package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AcquireLock creates path exclusively. A stale lock file left by a crashed
// watcher has to be removed by hand.
func AcquireLock(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return func() error {
		closeErr := f.Close()
		if err := os.Remove(path); err != nil {
			return err
		}
		return closeErr
	}, nil
}

package scanrun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked reports that another scan on this host holds the lock file.
var ErrLocked = errors.New("another scan holds the lock")

// acquireLock takes the optional host-local lock. An empty path disables it.
// The returned release func is always non-nil.
func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return func() {}, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return func() {}, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return func() {}, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() { _ = lock.Unlock() }, nil
}

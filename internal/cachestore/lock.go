package cachestore

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/eventlens/eventlens/core"
)

// dirLock guards a CacheStore root against concurrent use by a second
// process: two processes must not share a CacheStore directory. A thin
// lock/flock composition, simplified to the single startup-acquire /
// close-release cycle a CacheStore needs: no in-process channel token,
// since Store itself already serializes writers per digest.
type dirLock struct {
	path string
	fl   *flock.Flock
}

// acquireDirLock takes an exclusive, non-blocking flock on path. A second
// process (or a second Store pointed at the same directory) gets
// ErrAlreadyLocked immediately rather than blocking.
func acquireDirLock(path string) (*dirLock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache directory %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock cache directory %s: %w", path, core.ErrAlreadyLocked)
	}
	return &dirLock{path: path, fl: fl}, nil
}

func (l *dirLock) release() error {
	if l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("unlock cache directory %s: %w", l.path, err)
	}
	return nil
}

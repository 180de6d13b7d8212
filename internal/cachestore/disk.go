package cachestore

import (
	"errors"
	"syscall"
)

// isDiskFull reports whether err (from a rename/write syscall) indicates
// the target filesystem is out of space: disk full during admit maps to
// Rejected(StorageFull) rather than a hard error.
func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

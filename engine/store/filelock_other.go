//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package store

import (
	"os"
	"time"
)

// FileLock is a no-op on platforms without flock support.
type FileLock struct {
	file *os.File
}

// AcquireFileLock returns a no-op lock.
func AcquireFileLock(file *os.File, timeout time.Duration) (*FileLock, error) {
	return &FileLock{file: file}, nil
}

// Release is a no-op.
func (l *FileLock) Release() error {
	return nil
}

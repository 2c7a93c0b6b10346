//go:build linux || darwin || freebsd || netbsd || openbsd

package store

import (
	"os"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

// FileLock holds an exclusive OS advisory lock on an open page file. The
// lock lives for the lifetime of the file handle and keeps other processes
// from opening the same file.
type FileLock struct {
	file *os.File
}

// AcquireFileLock tries to take the exclusive lock, retrying until the
// timeout elapses.
func AcquireFileLock(file *os.File, timeout time.Duration) (*FileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &FileLock{file: file}, nil
		}
		if err != unix.EWOULDBLOCK {
			return nil, errors.Annotatef(basic.ErrFileLock, "flock %s: %v", file.Name(), err)
		}
		if time.Now().After(deadline) {
			return nil, errors.Annotatef(basic.ErrFileLock, "timeout after %s on %s", timeout, file.Name())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Release gives the lock back.
func (l *FileLock) Release() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}

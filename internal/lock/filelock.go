package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned when a file lock is already held elsewhere.
var ErrLocked = errors.New("lock held by another process")

// FileLock is an exclusive cross-process lock backed by flock(2). It
// covers the gap the in-process Registry leaves open: two separate
// processes mutating documents for the same identity.
type FileLock struct {
	path string
	file *os.File
}

// AcquireFile takes the exclusive lock at path, creating the file and
// its parent directory as needed. It does not block: when the lock is
// held elsewhere it returns ErrLocked.
func AcquireFile(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// Record the holder so stale locks can be diagnosed by hand.
	_ = f.Truncate(0)
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	return &FileLock{path: path, file: f}, nil
}

// AcquireFileWait retries acquisition until the lock is free or the
// timeout elapses.
func AcquireFileWait(path string, timeout time.Duration) (*FileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		fl, err := AcquireFile(path)
		if err == nil {
			return fl, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("waiting for %s: %w", path, ErrLocked)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Path returns the lock file's path.
func (l *FileLock) Path() string {
	return l.path
}

// Release drops the lock and closes the underlying file. The lock file
// itself stays in place; the flock state dies with the descriptor.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// Package lock implements the sentinel-file lock that serializes
// read-modify-write access to shared case files across processes.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults for FileLock.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultStaleAfter    = 30 * time.Second
)

// ErrTimeout is returned when the lock could not be acquired before the
// timeout. It is retryable by the caller.
var ErrTimeout = errors.New("could not acquire lock")

// Info is the metadata written into the sentinel file.
type Info struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	Holder    string    `json:"holder,omitempty"`
}

// FileLock is an advisory lock backed by a sentinel file created with
// O_CREATE|O_EXCL. A sentinel older than StaleAfter is treated as abandoned.
type FileLock struct {
	Path          string
	Timeout       time.Duration
	RetryInterval time.Duration
	StaleAfter    time.Duration
	Now           func() time.Time
}

// New returns a FileLock on path with the default timings.
func New(path string) FileLock {
	return FileLock{
		Path:          path,
		Timeout:       DefaultTimeout,
		RetryInterval: DefaultRetryInterval,
		StaleAfter:    DefaultStaleAfter,
		Now:           time.Now,
	}
}

// Acquire blocks until the lock is held, the timeout elapses (ErrTimeout) or
// ctx is done. holder is recorded in the sentinel for debugging.
// The returned unlock function removes the sentinel and ignores "already gone".
func (l FileLock) Acquire(ctx context.Context, holder string) (unlock func() error, err error) {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := l.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		ok, err := l.tryCreate(now(), holder)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.release, nil
		}

		if l.removeIfStale(now()) {
			// Retry immediately after clearing an abandoned sentinel.
			continue
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			wait.Stop()
			return nil, fmt.Errorf("%w: %s held for more than %s", ErrTimeout, l.Path, timeout)
		case <-wait.C:
		}
	}
}

// tryCreate attempts the exclusive create. Returns false, nil when the
// sentinel already exists.
func (l FileLock) tryCreate(at time.Time, holder string) (bool, error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	data, _ := json.Marshal(Info{PID: os.Getpid(), CreatedAt: at, Holder: holder})
	if _, werr := f.Write(data); werr != nil {
		f.Close()
		os.Remove(l.Path)
		return false, fmt.Errorf("write lock file: %w", werr)
	}
	if cerr := f.Close(); cerr != nil {
		os.Remove(l.Path)
		return false, fmt.Errorf("close lock file: %w", cerr)
	}
	return true, nil
}

// removeIfStale deletes the sentinel when its age exceeds StaleAfter.
//
// Two processes can both judge the same sentinel stale; the second Remove may
// then delete the first one's fresh lock. The sentinel is re-read right before
// removal to shrink that window, but it is not closed. Acceptable at the
// contention levels of a CLI tool.
func (l FileLock) removeIfStale(at time.Time) bool {
	staleAfter := l.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	created, ok := l.createdAt()
	if !ok || at.Sub(created) <= staleAfter {
		return false
	}
	again, ok := l.createdAt()
	if !ok || !again.Equal(created) {
		return false
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return false
	}
	return true
}

// createdAt reads the sentinel's creation time, falling back to its mtime
// when the content is unreadable (e.g. a writer crashed mid-write).
func (l FileLock) createdAt() (time.Time, bool) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return time.Time{}, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err == nil && !info.CreatedAt.IsZero() {
		return info.CreatedAt, true
	}
	st, err := os.Stat(l.Path)
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}

func (l FileLock) release() error {
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadInfo returns the metadata of the current holder, or nil if unlocked.
func (l FileLock) ReadInfo() (*Info, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

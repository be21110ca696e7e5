// Package flock implements an advisory, directory-based mutual exclusion
// primitive for coordinating multiple shuttle processes on one host.
//
// A lock is a directory created with os.Mkdir (atomic on POSIX) containing
// an "owner" file with the holder's pid. Acquisition polls with a bounded
// wait and fails with a retryable error on timeout rather than blocking
// indefinitely.
//
// Stale lock self-healing is part of the contract, not an incidental retry:
// before trusting an on-disk lock, waiters probe the recorded pid with a
// non-destructive signal; a lock held by a non-live process is reclaimed.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within the
// configured wait. Callers should treat it as retryable.
var ErrTimeout = errors.New("flock: timed out waiting for lock")

const (
	// DefaultTimeout bounds how long Lock waits before failing.
	DefaultTimeout = 10 * time.Second

	// DefaultPoll is the interval between acquisition attempts.
	DefaultPoll = 25 * time.Millisecond

	ownerFile = "owner"
)

// Mutex is an advisory lock backed by a directory.
// The zero value is not usable; create instances with New.
type Mutex struct {
	dir     string
	timeout time.Duration
	poll    time.Duration
	held    bool
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithTimeout overrides the bounded acquisition wait.
func WithTimeout(d time.Duration) Option {
	return func(m *Mutex) { m.timeout = d }
}

// WithPoll overrides the acquisition poll interval.
func WithPoll(d time.Duration) Option {
	return func(m *Mutex) { m.poll = d }
}

// New creates a Mutex backed by the given lock directory path.
// The parent directory must exist or be creatable.
func New(dir string, opts ...Option) *Mutex {
	m := &Mutex{
		dir:     dir,
		timeout: DefaultTimeout,
		poll:    DefaultPoll,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock acquires the lock, waiting up to the configured timeout.
// Returns ErrTimeout (wrapped) if the lock stayed held, or the context
// error if ctx is cancelled first.
func (m *Mutex) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.dir), 0o755); err != nil {
		return fmt.Errorf("create lock parent: %w", err)
	}

	deadline := time.Now().Add(m.timeout)
	for {
		err := os.Mkdir(m.dir, 0o755)
		if err == nil {
			if werr := os.WriteFile(filepath.Join(m.dir, ownerFile), []byte(strconv.Itoa(os.Getpid())), 0o644); werr != nil {
				_ = os.RemoveAll(m.dir)
				return fmt.Errorf("write lock owner: %w", werr)
			}
			m.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock %s: %w", m.dir, err)
		}

		// Held by someone. Reclaim if the recorded owner is dead.
		if m.reclaimStale() {
			continue
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s (held by pid %d)", ErrTimeout, m.dir, m.ownerPID())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Unlock releases the lock. Calling Unlock on a lock this Mutex does not
// hold is a no-op.
func (m *Mutex) Unlock() error {
	if !m.held {
		return nil
	}
	m.held = false
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("release lock %s: %w", m.dir, err)
	}
	return nil
}

// ownerPID returns the pid recorded in the lock's owner file, or 0.
func (m *Mutex) ownerPID() int {
	data, err := os.ReadFile(filepath.Join(m.dir, ownerFile))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// reclaimStale removes the lock directory if its recorded owner is not a
// live process. Returns true if the lock was reclaimed and acquisition
// should be retried immediately.
//
// A lock directory without a readable owner file is in a transient state
// (the holder is between Mkdir and WriteFile), so it is left alone.
func (m *Mutex) reclaimStale() bool {
	pid := m.ownerPID()
	if pid == 0 {
		return false
	}
	if PIDAlive(pid) {
		return false
	}
	// Owner is dead; reclaim. RemoveAll races between waiters are fine,
	// only one Mkdir will win afterwards.
	return os.RemoveAll(m.dir) == nil
}

// PIDAlive probes a pid with signal 0 and reports whether the process
// exists. EPERM counts as alive: the process exists but belongs to
// another user.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

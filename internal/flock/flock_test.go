package flock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks", "queue")
	m := New(dir)

	require.NoError(t, m.Lock(context.Background()))
	_, err := os.Stat(dir)
	require.NoError(t, err, "lock directory should exist while held")

	require.NoError(t, m.Unlock())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "lock directory should be removed on unlock")
}

func TestUnlockWithoutLockIsNoop(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "l"))
	require.NoError(t, m.Unlock())
}

func TestContention(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "l")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m := New(dir, WithTimeout(5*time.Second), WithPoll(time.Millisecond))
			require.NoError(t, m.Lock(context.Background()))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			require.NoError(t, m.Unlock())
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, 8, "every goroutine should eventually hold the lock")
}

func TestLockTimeout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "l")

	holder := New(dir)
	require.NoError(t, holder.Lock(context.Background()))
	defer func() { _ = holder.Unlock() }()

	waiter := New(dir, WithTimeout(50*time.Millisecond), WithPoll(5*time.Millisecond))
	err := waiter.Lock(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestContextCancellation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "l")

	holder := New(dir)
	require.NoError(t, holder.Lock(context.Background()))
	defer func() { _ = holder.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	waiter := New(dir, WithTimeout(10*time.Second), WithPoll(5*time.Millisecond))
	err := waiter.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleLockReclaimed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "l")

	// Fabricate a lock held by a pid that cannot be alive.
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owner"), []byte("999999999"), 0o644))

	m := New(dir, WithTimeout(time.Second), WithPoll(time.Millisecond))
	require.NoError(t, m.Lock(context.Background()), "dead owner should be reclaimed")
	require.NoError(t, m.Unlock())
}

func TestLiveLockNotReclaimed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "l")

	// A lock held by our own (live) pid must be respected.
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owner"), []byte(strconv.Itoa(os.Getpid())), 0o644))

	m := New(dir, WithTimeout(50*time.Millisecond), WithPoll(5*time.Millisecond))
	assert.ErrorIs(t, m.Lock(context.Background()), ErrTimeout)
}

func TestPIDAlive(t *testing.T) {
	assert.True(t, PIDAlive(os.Getpid()))
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-1))
	assert.False(t, PIDAlive(999999999))
}

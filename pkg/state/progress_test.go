package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/pkg/artifact"
)

func TestProgressLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewProgressStore(newTestPaths(t))

	require.NoError(t, p.MarkQueued(ctx, "g", "n", 100, "/data/n"))

	rec, ok, err := p.Get("g", "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, artifact.StatusQueued, rec.Status)
	assert.Equal(t, int64(100), rec.TotalSize)

	require.NoError(t, p.MarkDownloading(ctx, "g", "n", "attempt-1"))
	require.NoError(t, p.Advance(ctx, "g", "n", "attempt-1", 40))

	rec, _, err = p.Get("g", "n")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusDownloading, rec.Status)
	assert.Equal(t, int64(40), rec.Downloaded)

	require.NoError(t, p.MarkTerminal(ctx, "g", "n", "attempt-1", artifact.StatusCompleted, ""))

	rec, _, err = p.Get("g", "n")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCompleted, rec.Status)
	assert.Equal(t, int64(100), rec.Downloaded, "completion snaps downloaded to total")
}

func TestStaleAttemptCannotRevertTerminal(t *testing.T) {
	ctx := context.Background()
	p := NewProgressStore(newTestPaths(t))

	require.NoError(t, p.MarkQueued(ctx, "g", "n", 100, "/data/n"))
	require.NoError(t, p.MarkDownloading(ctx, "g", "n", "attempt-1"))

	// A newer attempt takes over and finishes.
	require.NoError(t, p.MarkDownloading(ctx, "g", "n", "attempt-2"))
	require.NoError(t, p.MarkTerminal(ctx, "g", "n", "attempt-2", artifact.StatusCompleted, ""))

	// The superseded attempt's writes must be dropped.
	require.NoError(t, p.Advance(ctx, "g", "n", "attempt-1", 10))
	require.NoError(t, p.MarkTerminal(ctx, "g", "n", "attempt-1", artifact.StatusFailed, "late failure"))

	rec, _, err := p.Get("g", "n")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Reason)
}

func TestForcedCancelOfQueuedTask(t *testing.T) {
	ctx := context.Background()
	p := NewProgressStore(newTestPaths(t))

	require.NoError(t, p.MarkQueued(ctx, "g", "n", 0, "/data/n"))

	// A queued task has no owning attempt; cancellation forces the record.
	require.NoError(t, p.MarkTerminal(ctx, "g", "n", "", artifact.StatusCancelled, "cancelled before start"))

	rec, _, err := p.Get("g", "n")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCancelled, rec.Status)

	// But a forced write never flips one terminal status into another.
	require.NoError(t, p.MarkTerminal(ctx, "g", "n", "", artifact.StatusFailed, "nope"))
	rec, _, err = p.Get("g", "n")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCancelled, rec.Status)
}

func TestMarkTerminalRejectsNonTerminalStatus(t *testing.T) {
	p := NewProgressStore(newTestPaths(t))
	err := p.MarkTerminal(context.Background(), "g", "n", "", artifact.StatusDownloading, "")
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

func TestGetByPathAndActive(t *testing.T) {
	ctx := context.Background()
	p := NewProgressStore(newTestPaths(t))

	require.NoError(t, p.MarkQueued(ctx, "g", "a", 10, "/data/a"))
	require.NoError(t, p.MarkQueued(ctx, "g", "b", 20, "/data/b"))
	require.NoError(t, p.MarkTerminal(ctx, "g", "b", "", artifact.StatusCancelled, ""))

	rec, ok, err := p.GetByPath("/data/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), rec.TotalSize)

	_, ok, err = p.GetByPath("/data/zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := p.Active()
	require.NoError(t, err)
	require.Len(t, active["g"], 1)
	assert.Contains(t, active["g"], "a")
}

package state

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/pkg/artifact"
)

func newTestPaths(t *testing.T) Paths {
	t.Helper()
	return NewPaths(t.TempDir())
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestPaths(t))

	added, err := q.Enqueue(ctx, artifact.Task{
		Group: "checkpoints", Name: "m1", RemoteRef: "models/m1", LocalPath: "/data/m1",
	})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, artifact.Task{
		Group: "checkpoints", Name: "m2", RemoteRef: "models/m2", LocalPath: "/data/m2",
	})
	require.NoError(t, err)
	assert.True(t, added)

	task, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", task.Name)
	assert.False(t, task.EnqueuedAt.IsZero())

	task, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2", task.Name)

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestPaths(t))

	task := artifact.Task{Group: "g", Name: "n", RemoteRef: "r", LocalPath: "/p"}

	added, err := q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.False(t, added, "duplicate enqueue should be a no-op")

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueRejectsIncompleteTask(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestPaths(t))

	_, err := q.Enqueue(ctx, artifact.Task{Group: "g", Name: "n", RemoteRef: "r"})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	_, err = q.Enqueue(ctx, artifact.Task{Group: "g", Name: "n", LocalPath: "/p"})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newTestPaths(t))

	_, err := q.Enqueue(ctx, artifact.Task{Group: "g", Name: "a", RemoteRef: "r", LocalPath: "/a"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, artifact.Task{Group: "g", Name: "b", RemoteRef: "r", LocalPath: "/b"})
	require.NoError(t, err)

	removed, err := q.Remove(ctx, "g", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "g", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	tasks, err := q.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].Name)
}

func TestCorruptQueueTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	paths := newTestPaths(t)
	q := NewQueue(paths)

	require.NoError(t, os.WriteFile(paths.Queue(), []byte("{not json"), 0o644))

	tasks, err := q.List()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// And the document recovers on the next write.
	added, err := q.Enqueue(ctx, artifact.Task{Group: "g", Name: "n", RemoteRef: "r", LocalPath: "/p"})
	require.NoError(t, err)
	assert.True(t, added)
}

package state

import (
	"context"
	"time"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/pkg/artifact"
)

// Queue is the persistent download queue. Tasks are unique by (group, name);
// re-enqueueing an already queued task is a no-op so callers can submit the
// same artifact set repeatedly without duplicating work.
type Queue struct {
	doc *Document[[]artifact.Task]
}

// NewQueue opens the queue document under the given state root.
func NewQueue(paths Paths) *Queue {
	lock := flock.New(paths.Lock("queue"))
	return &Queue{
		doc: NewDocument(paths.Queue(), lock, func() []artifact.Task {
			return nil
		}),
	}
}

// Path returns the queue document's file path, for change watchers.
func (q *Queue) Path() string {
	return q.doc.Path()
}

// Enqueue appends a task unless an identical (group, name) task is already
// queued. Returns true if the task was added.
func (q *Queue) Enqueue(ctx context.Context, task artifact.Task) (bool, error) {
	if task.LocalPath == "" || task.RemoteRef == "" {
		return false, artifact.NewConfigError(
			"task %s/%s is missing localPath or remoteRef", task.Group, task.Name)
	}

	added := false
	err := q.doc.Update(ctx, func(tasks []artifact.Task) ([]artifact.Task, error) {
		for _, t := range tasks {
			if t.Group == task.Group && t.Name == task.Name {
				return tasks, nil
			}
		}
		if task.EnqueuedAt.IsZero() {
			task.EnqueuedAt = time.Now().UTC()
		}
		added = true
		return append(tasks, task), nil
	})
	return added, err
}

// Dequeue removes and returns the oldest task. The second return value is
// false when the queue is empty; an empty queue is not an error.
func (q *Queue) Dequeue(ctx context.Context) (artifact.Task, bool, error) {
	var (
		task artifact.Task
		ok   bool
	)
	err := q.doc.Update(ctx, func(tasks []artifact.Task) ([]artifact.Task, error) {
		if len(tasks) == 0 {
			return tasks, nil
		}
		task, ok = tasks[0], true
		return tasks[1:], nil
	})
	return task, ok, err
}

// Remove deletes a queued task by key. Returns true if a task was removed.
func (q *Queue) Remove(ctx context.Context, group, name string) (bool, error) {
	removed := false
	err := q.doc.Update(ctx, func(tasks []artifact.Task) ([]artifact.Task, error) {
		out := tasks[:0]
		for _, t := range tasks {
			if t.Group == group && t.Name == name {
				removed = true
				continue
			}
			out = append(out, t)
		}
		return out, nil
	})
	return removed, err
}

// List returns a snapshot of all queued tasks in FIFO order.
func (q *Queue) List() ([]artifact.Task, error) {
	return q.doc.Load()
}

// Len returns the number of queued tasks.
func (q *Queue) Len() (int, error) {
	tasks, err := q.doc.Load()
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

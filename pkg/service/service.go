// Package service is the operation facade shared by the CLI and the HTTP
// API: download submission in its four modes, progress queries,
// cancellation, and worker lifecycle passthroughs.
package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/metrics"
	"github.com/stackdrop/shuttle/pkg/state"
	"github.com/stackdrop/shuttle/pkg/worker"
)

// Mode selects what a download request covers.
type Mode string

const (
	// ModeAll enqueues every primary catalog entry.
	ModeAll Mode = "all"

	// ModeMissing enqueues only primaries whose local file is absent.
	ModeMissing Mode = "missing"

	// ModeList enqueues an explicit array of descriptors.
	ModeList Mode = "list"

	// ModeSingle enqueues one descriptor.
	ModeSingle Mode = "single"
)

// Descriptor is one artifact submitted for download.
type Descriptor struct {
	Group      string `json:"group"      validate:"required"`
	Name       string `json:"name"       validate:"required"`
	RemotePath string `json:"remotePath" validate:"required"`
	LocalPath  string `json:"localPath"  validate:"required"`
	Size       int64  `json:"size"       validate:"gte=0"`
}

// Service wires the stores and the worker manager behind one API.
type Service struct {
	catalog  *catalog.Store
	queue    *state.Queue
	progress *state.ProgressStore
	flags    *state.Flags
	manager  *worker.Manager
	metrics  *metrics.SyncMetrics
	validate *validator.Validate

	// autoStartWorker makes download submissions ensure a worker is
	// running.
	autoStartWorker bool
}

// Option configures a Service.
type Option func(*Service)

// WithAutoStartWorker makes Download start the background worker after
// enqueueing.
func WithAutoStartWorker(on bool) Option {
	return func(s *Service) { s.autoStartWorker = on }
}

// WithMetrics attaches sync metrics.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service.
func New(
	cat *catalog.Store,
	queue *state.Queue,
	progress *state.ProgressStore,
	flags *state.Flags,
	manager *worker.Manager,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:  cat,
		queue:    queue,
		progress: progress,
		flags:    flags,
		manager:  manager,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Download validates and enqueues work for the given mode. Validation
// failures are synchronous ConfigErrors and nothing is enqueued. Returns
// the number of tasks enqueued.
func (s *Service) Download(ctx context.Context, mode Mode, payload []Descriptor) (int, error) {
	var descriptors []Descriptor

	switch mode {
	case ModeAll:
		entries, err := s.catalog.Primaries()
		if err != nil {
			return 0, err
		}
		descriptors = entriesToDescriptors(entries)

	case ModeMissing:
		entries, err := s.catalog.Missing()
		if err != nil {
			return 0, err
		}
		descriptors = entriesToDescriptors(entries)

	case ModeSingle:
		if len(payload) != 1 {
			return 0, artifact.NewConfigError(
				"single mode requires exactly one descriptor, got %d", len(payload))
		}
		if err := s.validateDescriptors(payload); err != nil {
			return 0, err
		}
		descriptors = payload

	case ModeList:
		if len(payload) == 0 {
			return 0, artifact.NewConfigError("list mode requires a non-empty descriptor array")
		}
		if err := s.validateDescriptors(payload); err != nil {
			return 0, err
		}
		descriptors = payload

	default:
		return 0, artifact.NewConfigError("unknown download mode %q", mode)
	}

	enqueued := 0
	for _, d := range descriptors {
		added, err := s.enqueue(ctx, d)
		if err != nil {
			return enqueued, err
		}
		if added {
			enqueued++
		}
	}

	if n, err := s.queue.Len(); err == nil {
		s.metrics.SetQueueDepth(n)
	}

	if enqueued > 0 && s.autoStartWorker {
		if _, _, err := s.manager.Start(ctx, false); err != nil {
			logger.Warn("failed to start worker after enqueue", "error", err)
		}
	}

	logger.Info("download submitted", "mode", mode, "enqueued", enqueued)
	return enqueued, nil
}

// enqueue records one descriptor in the queue, the progress store and (for
// explicit submissions) the catalog, so dedup resolution can find it later.
func (s *Service) enqueue(ctx context.Context, d Descriptor) (bool, error) {
	if _, ok, err := s.catalog.Get(d.Group, d.Name); err != nil {
		return false, err
	} else if !ok {
		err := s.catalog.Upsert(ctx, artifact.Entry{
			Group:       d.Group,
			Name:        d.Name,
			LocalPath:   d.LocalPath,
			RemotePath:  d.RemotePath,
			Size:        d.Size,
			DownloadRef: d.RemotePath,
		})
		if err != nil {
			return false, err
		}
	}

	added, err := s.queue.Enqueue(ctx, artifact.Task{
		Group:        d.Group,
		Name:         d.Name,
		RemoteRef:    d.RemotePath,
		LocalPath:    d.LocalPath,
		ExpectedSize: d.Size,
		EnqueuedAt:   time.Now().UTC(),
	})
	if err != nil || !added {
		return added, err
	}

	if err := s.progress.MarkQueued(ctx, d.Group, d.Name, d.Size, d.LocalPath); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Service) validateDescriptors(ds []Descriptor) error {
	for i, d := range ds {
		if err := s.validate.Struct(d); err != nil {
			return artifact.NewConfigError("descriptor %d is malformed: %v", i, err)
		}
	}
	return nil
}

func entriesToDescriptors(entries []artifact.Entry) []Descriptor {
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		ref := e.DownloadRef
		if ref == "" {
			ref = e.RemotePath
		}
		out = append(out, Descriptor{
			Group:      e.Group,
			Name:       e.Name,
			RemotePath: ref,
			LocalPath:  e.LocalPath,
			Size:       e.Size,
		})
	}
	return out
}

// GetProgress looks up one record by group+name.
func (s *Service) GetProgress(group, name string) (artifact.Progress, bool, error) {
	return s.progress.Get(group, name)
}

// GetProgressByPath looks up one record by local path.
func (s *Service) GetProgressByPath(localPath string) (artifact.Progress, bool, error) {
	return s.progress.GetByPath(localPath)
}

// GetAllProgress returns every record, grouped.
func (s *Service) GetAllProgress() (state.ProgressDoc, error) {
	return s.progress.All()
}

// Cancel cancels one task. A still-queued task is removed immediately and
// marked cancelled; an in-flight task gets a cancel marker the worker
// observes. Unknown tasks fail with a QueueError.
func (s *Service) Cancel(ctx context.Context, group, name string) error {
	removed, err := s.queue.Remove(ctx, group, name)
	if err != nil {
		return err
	}
	if removed {
		logger.Info("queued task cancelled", "group", group, "name", name)
		return s.progress.MarkTerminal(ctx, group, name, "",
			artifact.StatusCancelled, "cancelled while queued")
	}

	rec, ok, err := s.progress.Get(group, name)
	if err != nil {
		return err
	}
	if !ok {
		return artifact.NewQueueError("no task %s/%s to cancel", group, name)
	}
	if rec.Status.Terminal() {
		return artifact.NewQueueError("task %s/%s already %s", group, name, rec.Status)
	}

	logger.Info("cancel requested for in-flight task", "group", group, "name", name)
	return s.flags.RaiseCancel(group, name)
}

// CancelByPath cancels the task whose local path matches.
func (s *Service) CancelByPath(ctx context.Context, localPath string) error {
	tasks, err := s.queue.List()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.LocalPath == localPath {
			return s.Cancel(ctx, t.Group, t.Name)
		}
	}

	all, err := s.progress.All()
	if err != nil {
		return err
	}
	for group, names := range all {
		for name, rec := range names {
			if rec.LocalPath == localPath {
				return s.Cancel(ctx, group, name)
			}
		}
	}
	return artifact.NewQueueError("no task with local path %s to cancel", localPath)
}

// CancelAll removes every queued task, marks each cancelled, and raises
// cancel markers for everything in flight.
func (s *Service) CancelAll(ctx context.Context) error {
	tasks, err := s.queue.List()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if _, err := s.queue.Remove(ctx, t.Group, t.Name); err != nil {
			return err
		}
		if err := s.progress.MarkTerminal(ctx, t.Group, t.Name, "",
			artifact.StatusCancelled, "cancelled by cancel-all"); err != nil {
			return err
		}
	}

	active, err := s.progress.Active()
	if err != nil {
		return err
	}
	for group, names := range active {
		for name, rec := range names {
			if rec.Status != artifact.StatusDownloading {
				continue
			}
			if err := s.flags.RaiseCancel(group, name); err != nil {
				return err
			}
		}
	}

	s.metrics.SetQueueDepth(0)
	logger.Info("cancel-all issued", "queued_removed", len(tasks))
	return nil
}

// StartWorker ensures a worker is running.
func (s *Service) StartWorker(ctx context.Context, clearStop bool) (int, bool, error) {
	return s.manager.Start(ctx, clearStop)
}

// StopWorker stops the worker.
func (s *Service) StopWorker(ctx context.Context, force bool) (bool, error) {
	return s.manager.Stop(ctx, force)
}

// WorkerStatus reports worker liveness.
func (s *Service) WorkerStatus() (artifact.WorkerState, error) {
	return s.manager.Status()
}

// ClearStop clears the global stop flag without starting a worker.
func (s *Service) ClearStop() error {
	return s.manager.ClearStop()
}

// QueueLen reports the current queue depth.
func (s *Service) QueueLen() (int, error) {
	return s.queue.Len()
}

// QueueList returns a snapshot of queued tasks.
func (s *Service) QueueList() ([]artifact.Task, error) {
	return s.queue.List()
}

// RemoveFromQueue removes one queued task.
func (s *Service) RemoveFromQueue(ctx context.Context, group, name string) error {
	removed, err := s.queue.Remove(ctx, group, name)
	if err != nil {
		return err
	}
	if !removed {
		return artifact.NewQueueError("no queued task %s/%s", group, name)
	}
	return nil
}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAll, ModeMissing, ModeList, ModeSingle:
		return Mode(s), nil
	}
	return "", artifact.NewConfigError("unknown download mode %q", s)
}

// Package engine implements the download loop the background worker runs:
// dequeue one task at a time, transfer it, record progress, and trigger
// dedup resolution on success.
//
// Cancellation is cooperative. Callers raise marker files (per task or
// global); the engine checks them before starting a task and polls them
// during the transfer, cancelling the transfer's context when one appears.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/dedup"
	"github.com/stackdrop/shuttle/pkg/metrics"
	"github.com/stackdrop/shuttle/pkg/objstore"
	"github.com/stackdrop/shuttle/pkg/state"
)

// Options configures an Engine.
type Options struct {
	// GracePeriod is how long the engine tolerates an empty queue before
	// returning on its own.
	GracePeriod time.Duration

	// PollInterval is how often the engine re-checks the queue and the
	// cancellation flags.
	PollInterval time.Duration

	// TransferTimeout bounds one artifact transfer. Zero means no limit.
	TransferTimeout time.Duration

	// SkipGlobalStop disables global-stop enforcement. Test-only.
	SkipGlobalStop bool

	// ProgressInterval throttles progress-store writes during a transfer.
	ProgressInterval time.Duration

	// Metrics is optional.
	Metrics *metrics.SyncMetrics
}

// Engine drains the download queue.
type Engine struct {
	queue    *state.Queue
	progress *state.ProgressStore
	flags    *state.Flags
	catalog  *catalog.Store
	resolver *dedup.Resolver
	client   objstore.Client
	opts     Options
}

// New creates an Engine.
func New(
	queue *state.Queue,
	progress *state.ProgressStore,
	flags *state.Flags,
	cat *catalog.Store,
	resolver *dedup.Resolver,
	client objstore.Client,
	opts Options,
) *Engine {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Second
	}
	return &Engine{
		queue:    queue,
		progress: progress,
		flags:    flags,
		catalog:  cat,
		resolver: resolver,
		client:   client,
		opts:     opts,
	}
}

// Run drains the queue until ctx is cancelled, the global stop flag is
// raised, or the queue has stayed empty for the grace period. Per-task
// failures are recorded in the progress store and never abort the loop.
func (e *Engine) Run(ctx context.Context) error {
	wake := e.watchQueue(ctx)

	lastBusy := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.opts.SkipGlobalStop && e.flags.StopAllRaised() {
			logger.Info("global stop flag raised, worker exiting")
			return nil
		}

		task, ok, err := e.queue.Dequeue(ctx)
		if err != nil {
			logger.Error("dequeue failed", "error", err)
			time.Sleep(e.opts.PollInterval)
			continue
		}
		e.recordQueueDepth()

		if !ok {
			if time.Since(lastBusy) >= e.opts.GracePeriod {
				logger.Info("queue idle past grace period, worker exiting",
					"grace", e.opts.GracePeriod)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wake:
			case <-time.After(e.opts.PollInterval):
			}
			continue
		}

		lastBusy = time.Now()
		e.processTask(ctx, task)
	}
}

// processTask runs one task end to end. Never returns an error; every
// outcome lands in the progress store.
func (e *Engine) processTask(ctx context.Context, task artifact.Task) {
	log := logger.With("group", task.Group, "name", task.Name)

	if e.flags.CancelRaised(task.Group, task.Name) {
		_ = e.flags.ClearCancel(task.Group, task.Name)
		if err := e.progress.MarkTerminal(ctx, task.Group, task.Name, "",
			artifact.StatusCancelled, "cancelled before transfer started"); err != nil {
			log.Error("failed to record cancellation", "error", err)
		}
		e.opts.Metrics.RecordDownload("cancelled")
		log.Info("task cancelled before transfer")
		return
	}

	attempt := uuid.NewString()
	if err := e.progress.MarkDownloading(ctx, task.Group, task.Name, attempt); err != nil {
		log.Error("failed to mark task downloading", "error", err)
		return
	}

	transferCtx, cancel := context.WithCancel(ctx)
	if e.opts.TransferTimeout > 0 {
		transferCtx, cancel = context.WithTimeout(ctx, e.opts.TransferTimeout)
	}
	defer cancel()

	// Poll the per-task cancel marker for the duration of the transfer and
	// cancel its context when it appears. The global stop flag is only
	// observed between items; force-stop raises per-task markers.
	cancelled := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		ticker := time.NewTicker(e.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-transferCtx.Done():
				return
			case <-ticker.C:
				if e.flags.CancelRaised(task.Group, task.Name) {
					close(cancelled)
					cancel()
					return
				}
			}
		}
	}()

	var lastReport time.Time
	written, err := e.client.GetToFile(transferCtx, task.RemoteRef, task.LocalPath,
		func(n int64) {
			if time.Since(lastReport) < e.opts.ProgressInterval {
				return
			}
			lastReport = time.Now()
			if perr := e.progress.Advance(ctx, task.Group, task.Name, attempt, n); perr != nil {
				log.Debug("progress update failed", "error", perr)
			}
		})
	cancel()
	<-pollDone

	wasCancelled := false
	select {
	case <-cancelled:
		wasCancelled = true
	default:
	}

	switch {
	case err == nil:
		e.finishTask(ctx, task, attempt, written, log)

	case wasCancelled || errors.Is(err, context.Canceled):
		_ = e.flags.ClearCancel(task.Group, task.Name)
		if merr := e.progress.MarkTerminal(ctx, task.Group, task.Name, attempt,
			artifact.StatusCancelled, "transfer cancelled"); merr != nil {
			log.Error("failed to record cancellation", "error", merr)
		}
		e.opts.Metrics.RecordDownload("cancelled")
		log.Info("transfer cancelled", "written", written)

	default:
		reason := err.Error()
		if merr := e.progress.MarkTerminal(ctx, task.Group, task.Name, attempt,
			artifact.StatusFailed, reason); merr != nil {
			log.Error("failed to record failure", "error", merr)
		}
		e.opts.Metrics.RecordDownload("failed")
		log.Warn("transfer failed", "error", err)
	}
}

// finishTask records completion and kicks off dedup resolution.
func (e *Engine) finishTask(ctx context.Context, task artifact.Task, attempt string, written int64, log *slog.Logger) {
	if err := e.progress.MarkTerminal(ctx, task.Group, task.Name, attempt,
		artifact.StatusCompleted, ""); err != nil {
		log.Error("failed to record completion", "error", err)
	}
	e.opts.Metrics.RecordDownload("completed")
	e.opts.Metrics.RecordBytes("download", written)
	log.Info("transfer completed", "bytes", written)

	remotePath := task.RemoteRef
	if entry, ok, err := e.catalog.Get(task.Group, task.Name); err == nil && ok && entry.RemotePath != "" {
		remotePath = entry.RemotePath
	}

	report, err := e.resolver.ResolveRemote(remotePath)
	if err != nil {
		// A missing primary entry just means nothing aliases this
		// artifact; anything else is worth a warning.
		if !artifact.IsCode(err, artifact.ErrDedup) {
			log.Warn("dedup resolution failed", "error", err)
		}
		return
	}
	if len(report.Actions) > 0 {
		log.Info("dedup resolution done",
			"links", len(report.Actions)-report.Failed, "failed", report.Failed)
	}
}

// watchQueue returns a channel that receives a tick whenever the queue
// document changes. Falls back to pure polling when the watcher cannot be
// created.
func (e *Engine) watchQueue(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("queue watcher unavailable, falling back to polling", "error", err)
		return wake
	}

	// Watch the directory: the document is replaced by rename, which
	// would drop a watch on the file itself.
	dir := filepath.Dir(e.queue.Path())
	if err := os.MkdirAll(dir, 0o755); err == nil {
		err = watcher.Add(dir)
	}
	if err != nil {
		logger.Warn("queue watcher unavailable, falling back to polling", "error", err)
		watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != e.queue.Path() {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("queue watcher error", "error", werr)
			}
		}
	}()

	return wake
}

func (e *Engine) recordQueueDepth() {
	if n, err := e.queue.Len(); err == nil {
		e.opts.Metrics.SetQueueDepth(n)
	}
}

package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/engine"
	"github.com/stackdrop/shuttle/pkg/metrics"
)

// Run is the worker process entry point: it claims the single-worker run
// lock, records its own pid, and drains the queue until the engine exits or
// a termination signal arrives.
//
// If the run lock is already held by a live process another worker exists
// and Run returns immediately without error; the queue is already being
// drained.
func (m *Manager) Run(ctx context.Context, eng *engine.Engine, syncMetrics *metrics.SyncMetrics) error {
	runLock := flock.New(m.paths.Lock("worker-run"), flock.WithTimeout(250*time.Millisecond))
	if err := runLock.Lock(ctx); err != nil {
		logger.Info("another worker is already running, exiting", "error", err)
		return nil
	}
	defer runLock.Unlock()

	if err := m.writeState(artifact.WorkerState{
		PID:       os.Getpid(),
		Status:    artifact.WorkerRunning,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	defer m.clearState()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	syncMetrics.SetWorkerRunning(true)
	defer syncMetrics.SetWorkerRunning(false)

	logger.Info("worker draining queue", "pid", os.Getpid())
	err := eng.Run(runCtx)
	if err != nil && runCtx.Err() != nil {
		logger.Info("worker interrupted", "pid", os.Getpid())
		return nil
	}
	return err
}

// Package worker manages the single background worker process that drains
// the download queue: spawning it, stopping it, and reporting its status.
//
// The liveness record is a pid file in the state root, guarded by an
// advisory lock during lifecycle transitions. A record naming a dead pid is
// self-healing: any lifecycle check that finds one clears it.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/state"
)

// ErrStopFlagRaised is returned by Start while the global stop flag is up.
// The flag must be cleared explicitly before a worker will start again.
var ErrStopFlagRaised = errors.New("worker: global stop flag is raised, clear it before starting")

// Options configures a Manager.
type Options struct {
	// SpawnArgs are the command-line arguments used to launch the worker
	// process, e.g. ["worker", "run", "--state-root", "/var/lib/shuttle"].
	// The binary is the current executable.
	SpawnArgs []string

	// StopTimeout bounds how long force-stop waits for the worker to exit
	// after SIGTERM before escalating to SIGKILL.
	StopTimeout time.Duration
}

// Manager controls the worker lifecycle for one state root.
type Manager struct {
	paths    state.Paths
	flags    *state.Flags
	progress *state.ProgressStore
	opts     Options

	// spawn launches the worker and returns its pid. Replaceable in tests.
	spawn func() (int, error)
}

// NewManager creates a Manager.
func NewManager(paths state.Paths, flags *state.Flags, progress *state.ProgressStore, opts Options) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	m := &Manager{
		paths:    paths,
		flags:    flags,
		progress: progress,
		opts:     opts,
	}
	m.spawn = m.spawnProcess
	return m
}

// Start ensures a worker is running and returns its pid. If a live worker
// already exists this is a no-op returning the existing pid (started is
// false). Start refuses to launch while the global stop flag is raised
// unless clearStop is set.
func (m *Manager) Start(ctx context.Context, clearStop bool) (pid int, started bool, err error) {
	lock := flock.New(m.paths.Lock("worker-lifecycle"))
	if err := lock.Lock(ctx); err != nil {
		return 0, false, artifact.NewLockError(err, "acquire worker lifecycle lock")
	}
	defer lock.Unlock()

	if m.flags.StopAllRaised() {
		if !clearStop {
			return 0, false, ErrStopFlagRaised
		}
		if err := m.flags.ClearStopAll(); err != nil {
			return 0, false, err
		}
	}

	if ws, ok := m.readState(); ok && flock.PIDAlive(ws.PID) {
		return ws.PID, false, nil
	}

	pid, err = m.spawn()
	if err != nil {
		return 0, false, fmt.Errorf("spawn worker: %w", err)
	}

	if err := m.writeState(artifact.WorkerState{
		PID:       pid,
		Status:    artifact.WorkerRunning,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return pid, true, err
	}

	logger.Info("worker started", "pid", pid)
	return pid, true, nil
}

// Stop raises the global stop flag and, when force is set, terminates the
// in-flight transfer: per-task cancel markers are raised for every
// downloading record, the worker gets SIGTERM, and SIGKILL after the stop
// timeout. Returns whether a live worker was found.
func (m *Manager) Stop(ctx context.Context, force bool) (bool, error) {
	lock := flock.New(m.paths.Lock("worker-lifecycle"))
	if err := lock.Lock(ctx); err != nil {
		return false, artifact.NewLockError(err, "acquire worker lifecycle lock")
	}
	defer lock.Unlock()

	if err := m.flags.RaiseStopAll(); err != nil {
		return false, err
	}

	ws, ok := m.readState()
	if !ok || !flock.PIDAlive(ws.PID) {
		m.clearState()
		return false, nil
	}

	if !force {
		logger.Info("worker asked to stop after current item", "pid", ws.PID)
		return true, nil
	}

	// Cancel whatever is in flight, then take the process down.
	if err := m.cancelInFlight(ctx); err != nil {
		logger.Warn("failed to raise cancel markers", "error", err)
	}

	proc, err := os.FindProcess(ws.PID)
	if err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}

	deadline := time.Now().Add(m.opts.StopTimeout)
	for flock.PIDAlive(ws.PID) {
		if time.Now().After(deadline) {
			logger.Warn("worker ignored SIGTERM, escalating", "pid", ws.PID)
			if proc != nil {
				_ = proc.Signal(syscall.SIGKILL)
			}
			break
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	m.clearState()
	logger.Info("worker stopped", "pid", ws.PID, "force", true)
	return true, nil
}

// Status reports the worker state, self-correcting a record whose pid is no
// longer alive.
func (m *Manager) Status() (artifact.WorkerState, error) {
	ws, ok := m.readState()
	if !ok {
		return artifact.WorkerState{Status: artifact.WorkerStopped}, nil
	}
	if !flock.PIDAlive(ws.PID) {
		logger.Debug("clearing stale worker record", "pid", ws.PID)
		m.clearState()
		return artifact.WorkerState{Status: artifact.WorkerStopped}, nil
	}
	ws.Status = artifact.WorkerRunning
	return ws, nil
}

// ClearStop clears the global stop flag.
func (m *Manager) ClearStop() error {
	return m.flags.ClearStopAll()
}

// cancelInFlight raises a cancel marker for every record currently in the
// downloading state and force-marks it cancelled in case the worker dies
// before recording the outcome itself.
func (m *Manager) cancelInFlight(ctx context.Context) error {
	active, err := m.progress.Active()
	if err != nil {
		return err
	}
	for group, names := range active {
		for name, rec := range names {
			if rec.Status != artifact.StatusDownloading {
				continue
			}
			if err := m.flags.RaiseCancel(group, name); err != nil {
				return err
			}
			if err := m.progress.MarkTerminal(ctx, group, name, rec.Attempt,
				artifact.StatusCancelled, "worker force-stopped"); err != nil {
				return err
			}
		}
	}
	return nil
}

// spawnProcess launches the worker as a detached child of this process.
func (m *Manager) spawnProcess() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	logPath := m.paths.Root + "/worker.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, m.opts.SpawnArgs...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

func (m *Manager) readState() (artifact.WorkerState, bool) {
	data, err := os.ReadFile(m.paths.WorkerPID())
	if err != nil {
		return artifact.WorkerState{}, false
	}
	var ws artifact.WorkerState
	if err := json.Unmarshal(data, &ws); err != nil {
		logger.Warn("worker record is corrupt, clearing", "error", err)
		m.clearState()
		return artifact.WorkerState{}, false
	}
	return ws, ws.PID > 0
}

func (m *Manager) writeState(ws artifact.WorkerState) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.paths.Root, 0o755); err != nil {
		return err
	}
	tmp := m.paths.WorkerPID() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.paths.WorkerPID())
}

func (m *Manager) clearState() {
	if err := os.Remove(m.paths.WorkerPID()); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to clear worker record", "error", err)
	}
}

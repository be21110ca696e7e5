// Package artifact defines the core entity types and the error taxonomy
// shared by every other shuttle package. This is a leaf package with no
// internal dependencies, designed to be imported by the stores, the engine
// and the service layer without causing circular imports.
package artifact

import (
	"time"
)

// Status represents the transfer state of an artifact.
type Status string

const (
	// StatusQueued means the task is waiting in the download queue.
	StatusQueued Status = "queued"

	// StatusDownloading means the worker is actively transferring the artifact.
	StatusDownloading Status = "downloading"

	// StatusCompleted means the artifact was downloaded and verified.
	StatusCompleted Status = "completed"

	// StatusFailed means the transfer failed; Progress.Reason carries the cause.
	StatusFailed Status = "failed"

	// StatusCancelled means the task was cancelled before or during transfer.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state for a task attempt.
// Terminal statuses are never silently reverted to non-terminal ones.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Entry describes one known artifact in the catalog (the Config Store).
//
// Invariant: an entry with DedupSource set is an alias and never carries a
// DownloadRef. Exactly one entry per distinct RemotePath is the primary
// (empty DedupSource); every other entry referencing that path is realized
// locally as a filesystem link instead of a second download.
type Entry struct {
	// Group is the namespace partitioning artifacts (e.g. a model category).
	Group string `json:"group"`

	// Name is unique within the group.
	Name string `json:"name"`

	// LocalPath is the absolute filesystem target.
	LocalPath string `json:"localPath"`

	// RemotePath is the canonical object-storage key, stored without bucket
	// prefix.
	RemotePath string `json:"remotePath"`

	// Size is the expected size in bytes (advisory).
	Size int64 `json:"size"`

	// DownloadRef is the opaque fetch descriptor handed to the storage
	// client, usually the remote key itself or a signed URL.
	DownloadRef string `json:"downloadRef,omitempty"`

	// DedupSource, when set, is the RemotePath of the entry this one
	// aliases. Alias entries are materialized as symlinks.
	DedupSource string `json:"dedupSource,omitempty"`
}

// IsAlias reports whether the entry is a dedup alias of another entry.
func (e Entry) IsAlias() bool {
	return e.DedupSource != ""
}

// Task is one pending download in the queue, unique by (group, name).
type Task struct {
	Group        string    `json:"group"`
	Name         string    `json:"name"`
	RemoteRef    string    `json:"remoteRef"`
	LocalPath    string    `json:"localPath"`
	ExpectedSize int64     `json:"expectedSize"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Progress is the transfer record for one artifact, keyed by group+name and
// indexable by local path.
//
// Attempt identifies the download attempt that owns the record while it is
// in flight; terminal statuses are only written by the owning attempt, so a
// stale writer can never revert a finished task.
type Progress struct {
	TotalSize   int64     `json:"totalSize"`
	LocalPath   string    `json:"localPath"`
	Downloaded  int64     `json:"downloaded"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Attempt     string    `json:"attempt,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// WorkerState is the liveness record for the single background worker.
type WorkerState struct {
	PID       int       `json:"pid"`
	Status    string    `json:"status"` // running or stopped
	StartedAt time.Time `json:"startedAt"`
}

// Worker status values.
const (
	WorkerRunning = "running"
	WorkerStopped = "stopped"
)

package state

import "path/filepath"

// On-disk layout under the state root.
const (
	queueFile    = "queue.json"
	progressFile = "progress.json"
	catalogFile  = "catalog.json"
	workerPID    = "worker.pid"
	locksDir     = "locks"
	cancelDir    = "cancel"
	stopAllFile  = "stop.all"
)

// Paths resolves the well-known files and directories under a state root.
type Paths struct {
	Root string
}

// NewPaths returns the layout rooted at root.
func NewPaths(root string) Paths {
	return Paths{Root: root}
}

// Queue returns the path of the download queue document.
func (p Paths) Queue() string { return filepath.Join(p.Root, queueFile) }

// Progress returns the path of the progress document.
func (p Paths) Progress() string { return filepath.Join(p.Root, progressFile) }

// Catalog returns the path of the artifact catalog document.
func (p Paths) Catalog() string { return filepath.Join(p.Root, catalogFile) }

// WorkerPID returns the path of the worker pid file.
func (p Paths) WorkerPID() string { return filepath.Join(p.Root, workerPID) }

// Lock returns the lock directory for a named lock.
func (p Paths) Lock(name string) string {
	return filepath.Join(p.Root, locksDir, name)
}

// StopAll returns the path of the global stop marker.
func (p Paths) StopAll() string { return filepath.Join(p.Root, stopAllFile) }

// CancelMarker returns the per-task cancel marker path.
func (p Paths) CancelMarker(group, name string) string {
	return filepath.Join(p.Root, cancelDir, group+"__"+name)
}

// CancelRoot returns the directory that holds per-task cancel markers.
func (p Paths) CancelRoot() string { return filepath.Join(p.Root, cancelDir) }

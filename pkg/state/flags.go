package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Flags manages the marker files that signal cancellation to the worker.
//
// A marker is an empty file whose presence is the signal. Markers survive
// process restarts, which is the point: a cancel issued while no worker is
// running still takes effect the moment one starts.
type Flags struct {
	paths Paths
}

// NewFlags returns the flag store for a state root.
func NewFlags(paths Paths) *Flags {
	return &Flags{paths: paths}
}

// RaiseStopAll creates the global stop marker. While present, the worker
// cancels the in-flight transfer and refuses to start new ones.
func (f *Flags) RaiseStopAll() error {
	return touch(f.paths.StopAll())
}

// ClearStopAll removes the global stop marker.
func (f *Flags) ClearStopAll() error {
	return remove(f.paths.StopAll())
}

// StopAllRaised reports whether the global stop marker exists.
func (f *Flags) StopAllRaised() bool {
	return exists(f.paths.StopAll())
}

// RaiseCancel creates the cancel marker for one task.
func (f *Flags) RaiseCancel(group, name string) error {
	return touch(f.paths.CancelMarker(group, name))
}

// ClearCancel removes the cancel marker for one task.
func (f *Flags) ClearCancel(group, name string) error {
	return remove(f.paths.CancelMarker(group, name))
}

// CancelRaised reports whether the cancel marker for one task exists.
func (f *Flags) CancelRaised(group, name string) bool {
	return exists(f.paths.CancelMarker(group, name))
}

// ClearAllCancels removes every per-task cancel marker.
func (f *Flags) ClearAllCancels() error {
	entries, err := os.ReadDir(f.paths.CancelRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list cancel markers: %w", err)
	}
	for _, e := range entries {
		if err := remove(filepath.Join(f.paths.CancelRoot(), e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// PendingCancels returns the (group, name) pairs with raised markers.
func (f *Flags) PendingCancels() ([][2]string, error) {
	entries, err := os.ReadDir(f.paths.CancelRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cancel markers: %w", err)
	}
	var out [][2]string
	for _, e := range entries {
		group, name, ok := strings.Cut(e.Name(), "__")
		if !ok {
			continue
		}
		out = append(out, [2]string{group, name})
	}
	return out, nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("raise marker %s: %w", path, err)
	}
	fmt.Fprintln(f, time.Now().UTC().Format(time.RFC3339))
	return f.Close()
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear marker %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package state persists the sync engine's shared mutable state as JSON
// documents under a single state root. Documents are small and rewritten
// whole; cross-process mutual exclusion uses directory locks so the CLI,
// the HTTP server, and the background worker can all mutate safely.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackdrop/shuttle/internal/flock"
	"github.com/stackdrop/shuttle/internal/logger"
)

// Document is a JSON file guarded by an advisory directory lock.
//
// Reads are lock-free: a document is always replaced atomically via rename,
// so readers see either the old or the new content, never a torn write.
// Mutations go through Update, which holds the lock for the whole
// read-modify-write cycle.
type Document[T any] struct {
	path string
	lock *flock.Mutex
	zero func() T
}

// NewDocument creates a document handle rooted at path. zero produces the
// empty value used when the file does not exist yet or cannot be decoded.
func NewDocument[T any](path string, lock *flock.Mutex, zero func() T) *Document[T] {
	return &Document[T]{path: path, lock: lock, zero: zero}
}

// Path returns the document's file path.
func (d *Document[T]) Path() string {
	return d.path
}

// Load reads the current document without taking the lock.
//
// A missing file yields the zero value. A file that fails to decode also
// yields the zero value: a corrupt document is treated as empty rather than
// wedging every caller, and the condition is logged.
func (d *Document[T]) Load() (T, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d.zero(), nil
		}
		return d.zero(), fmt.Errorf("read %s: %w", d.path, err)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("state document is corrupt, treating as empty",
			"path", d.path, "error", err)
		return d.zero(), nil
	}
	return doc, nil
}

// Update runs fn under the document lock with the freshly loaded value and
// persists whatever fn leaves behind. fn returning an error aborts the write.
func (d *Document[T]) Update(ctx context.Context, fn func(doc T) (T, error)) error {
	if err := d.lock.Lock(ctx); err != nil {
		return err
	}
	defer d.lock.Unlock()

	doc, err := d.Load()
	if err != nil {
		return err
	}

	doc, err = fn(doc)
	if err != nil {
		return err
	}

	return d.write(doc)
}

// write persists doc atomically: serialize to a temp file in the same
// directory, then rename over the destination.
func (d *Document[T]) write(doc T) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", d.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("stage %s: %w", d.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage %s: %w", d.path, err)
	}

	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("replace %s: %w", d.path, err)
	}
	return nil
}

// Package memory provides an in-memory objstore.Client for tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/stackdrop/shuttle/pkg/objstore"
)

// Store is an in-memory implementation of objstore.Client.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailGet, when set for a key, makes Get/GetToFile return the error.
	// Used by tests to simulate transfer failures.
	failGet map[string]error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		failGet: make(map[string]error),
	}
}

// Seed stores an object directly, bypassing the Client interface.
func (s *Store) Seed(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// FailGetWith makes subsequent Get/GetToFile calls for key fail with err.
func (s *Store) FailGetWith(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[key] = err
}

// Raw returns a copy of the stored object, or nil if absent.
func (s *Store) Raw(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Get implements objstore.Client.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failGet[key]; ok {
		return nil, 0, err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, objstore.ErrObjectNotFound
	}
	cp := append([]byte(nil), data...)
	return io.NopCloser(bytes.NewReader(cp)), int64(len(cp)), nil
}

// GetToFile implements objstore.Client.
func (s *Store) GetToFile(ctx context.Context, key, path string, progress objstore.ProgressFunc) (int64, error) {
	r, _, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".shuttle-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var written int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return written, werr
			}
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			return written, rerr
		}
	}

	if err := tmp.Close(); err != nil {
		return written, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return written, fmt.Errorf("finalize download: %w", err)
	}
	return written, nil
}

// Put implements objstore.Client.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

// PutFile implements objstore.Client.
func (s *Store) PutFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Put(ctx, key, f)
}

// List implements objstore.Client.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements objstore.Client.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// DeleteByPrefix implements objstore.Client.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

// Head implements objstore.Client.
func (s *Store) Head(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return 0, objstore.ErrObjectNotFound
	}
	return int64(len(data)), nil
}

// Ensure Store implements objstore.Client.
var _ objstore.Client = (*Store)(nil)

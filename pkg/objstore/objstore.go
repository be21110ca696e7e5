// Package objstore defines the storage client interface the sync engine
// delegates object GET/PUT/LIST to. Shuttle does not implement its own
// object-storage protocol; implementations adapt real backends (S3) or
// in-memory fakes for tests.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("objstore: object not found")

// ProgressFunc is invoked periodically during a streaming transfer with the
// cumulative number of bytes moved so far. Implementations must tolerate a
// nil ProgressFunc.
type ProgressFunc func(written int64)

// Client is the minimal object-storage surface shuttle needs.
//
// Keys are bucket-relative; implementations own any bucket or key-prefix
// mapping. All methods honor context cancellation, which is how in-flight
// transfers are aborted.
type Client interface {
	// Get opens a reader for the object. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// GetToFile downloads the object to path, creating parent directories
	// as needed. The file appears atomically: data is staged to a temp
	// file and renamed into place only on success. Returns bytes written.
	GetToFile(ctx context.Context, key, path string, progress ProgressFunc) (int64, error)

	// Put uploads the reader's content under key.
	Put(ctx context.Context, key string, r io.Reader) error

	// PutFile uploads a local file under key.
	PutFile(ctx context.Context, key, path string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a single object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every object under prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Head returns the size of an object without fetching it.
	Head(ctx context.Context, key string) (int64, error)
}

package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/pkg/objstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "models/m1.bin", bytes.NewReader([]byte("weights"))))

	r, size, err := s.Get(ctx, "models/m1.bin")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(7), size)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, _, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, objstore.ErrObjectNotFound)

	_, err = s.Head(context.Background(), "missing")
	assert.ErrorIs(t, err, objstore.ErrObjectNotFound)
}

func TestGetToFile(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed("models/m1.bin", bytes.Repeat([]byte("x"), 1024))

	dest := filepath.Join(t.TempDir(), "nested", "dir", "m1.bin")

	var lastReported int64
	n, err := s.GetToFile(ctx, "models/m1.bin", dest, func(written int64) {
		lastReported = written
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
	assert.Equal(t, int64(1024), lastReported)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size())
}

func TestGetToFileFailureLeavesNoPartialFile(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailGetWith("models/m1.bin", errors.New("boom"))

	dest := filepath.Join(t.TempDir(), "m1.bin")
	_, err := s.GetToFile(ctx, "models/m1.bin", dest, nil)
	require.Error(t, err)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed("bundles/venv/a/chunk-000000", []byte("a"))
	s.Seed("bundles/venv/a/chunk-000001", []byte("b"))
	s.Seed("bundles/venv/b/chunk-000000", []byte("c"))

	keys, err := s.List(ctx, "bundles/venv/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"bundles/venv/a/chunk-000000", "bundles/venv/a/chunk-000001"}, keys)

	require.NoError(t, s.DeleteByPrefix(ctx, "bundles/venv/a/"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "bundles/venv/b/chunk-000000"))
	assert.Equal(t, 0, s.Len())

	// Deleting an absent key is not an error.
	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestContextCancellation(t *testing.T) {
	s := New()
	s.Seed("k", []byte("v"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(state.NewPaths(t.TempDir()))
}

func TestUpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := artifact.Entry{
		Group: "checkpoints", Name: "m1",
		LocalPath: "/data/m1.bin", RemotePath: "models/m1.bin",
		DownloadRef: "models/m1.bin", Size: 1024,
	}
	require.NoError(t, s.Upsert(ctx, e))

	got, ok, err := s.Get("checkpoints", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)

	require.NoError(t, s.Delete(ctx, "checkpoints", "m1"))
	_, ok, err = s.Get("checkpoints", "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, "checkpoints", "m1"))
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Upsert(ctx, artifact.Entry{Group: "g", LocalPath: "/p"})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	err = s.Upsert(ctx, artifact.Entry{Group: "g", Name: "n"})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	// An alias never carries a download ref.
	err = s.Upsert(ctx, artifact.Entry{
		Group: "g", Name: "n", LocalPath: "/p",
		DedupSource: "models/m1.bin", DownloadRef: "models/m1.bin",
	})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

func TestPrimariesAndAliases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	primary := artifact.Entry{
		Group: "checkpoints", Name: "m1",
		LocalPath: "/data/m1.bin", RemotePath: "models/m1.bin",
		DownloadRef: "models/m1.bin",
	}
	aliasA := artifact.Entry{
		Group: "serving", Name: "m1-copy",
		LocalPath: "/srv/m1.bin", DedupSource: "models/m1.bin",
	}
	aliasB := artifact.Entry{
		Group: "archive", Name: "m1-old",
		LocalPath: "/old/m1.bin", DedupSource: "models/m1.bin",
	}
	for _, e := range []artifact.Entry{primary, aliasA, aliasB} {
		require.NoError(t, s.Upsert(ctx, e))
	}

	primaries, err := s.Primaries()
	require.NoError(t, err)
	require.Len(t, primaries, 1)
	assert.Equal(t, "m1", primaries[0].Name)

	aliases, err := s.AliasesOf("models/m1.bin")
	require.NoError(t, err)
	assert.Len(t, aliases, 2, "aliases are found across all groups")

	got, ok, err := s.PrimaryByRemotePath("models/m1.bin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "checkpoints", got.Group)

	got, ok, err = s.PrimaryByName("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "models/m1.bin", got.RemotePath)

	_, ok, err = s.PrimaryByName("m1-copy")
	require.NoError(t, err)
	assert.False(t, ok, "aliases are not primaries")
}

func TestMarkAlias(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, artifact.Entry{
		Group: "g", Name: "n", LocalPath: "/p",
		RemotePath: "models/n.bin", DownloadRef: "models/n.bin",
	}))

	require.NoError(t, s.MarkAlias(ctx, "g", "n", "models/m1.bin"))

	e, ok, err := s.Get("g", "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.IsAlias())
	assert.Empty(t, e.DownloadRef, "converting to an alias drops the download ref")

	err = s.MarkAlias(ctx, "g", "absent", "models/m1.bin")
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

func TestMissingNeverPurges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dir := t.TempDir()
	present := filepath.Join(dir, "present.bin")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	require.NoError(t, s.Upsert(ctx, artifact.Entry{
		Group: "g", Name: "present", LocalPath: present, DownloadRef: "r1",
	}))
	require.NoError(t, s.Upsert(ctx, artifact.Entry{
		Group: "g", Name: "absent", LocalPath: filepath.Join(dir, "absent.bin"), DownloadRef: "r2",
	}))

	missing, err := s.Missing()
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "absent", missing[0].Name)

	// The entry itself stays in the catalog.
	_, ok, err := s.Get("g", "absent")
	require.NoError(t, err)
	assert.True(t, ok)
}

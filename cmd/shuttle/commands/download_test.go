package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDescriptors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"group":"checkpoints","name":"m1","remotePath":"models/m1.bin","localPath":"/data/m1.bin","size":10},
		{"group":"checkpoints","name":"m2","remotePath":"models/m2.bin","localPath":"/data/m2.bin"}
	]`), 0o644))

	ds, err := readDescriptors(path)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "m1", ds[0].Name)
	assert.Equal(t, int64(10), ds[0].Size)
	assert.Zero(t, ds[1].Size)
}

func TestReadDescriptorsErrors(t *testing.T) {
	_, err := readDescriptors("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = readDescriptors(path)
	assert.Error(t, err)
}

func TestTaskListingRendering(t *testing.T) {
	l := taskListing{}
	assert.Len(t, l.Headers(), 5)
	assert.Empty(t, l.Rows())
}

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopAllFlag(t *testing.T) {
	f := NewFlags(newTestPaths(t))

	assert.False(t, f.StopAllRaised())
	require.NoError(t, f.RaiseStopAll())
	assert.True(t, f.StopAllRaised())

	// Raising twice is fine.
	require.NoError(t, f.RaiseStopAll())

	require.NoError(t, f.ClearStopAll())
	assert.False(t, f.StopAllRaised())

	// Clearing an absent flag is fine too.
	require.NoError(t, f.ClearStopAll())
}

func TestPerTaskCancelFlags(t *testing.T) {
	f := NewFlags(newTestPaths(t))

	require.NoError(t, f.RaiseCancel("checkpoints", "m1"))
	require.NoError(t, f.RaiseCancel("tokenizers", "t1"))

	assert.True(t, f.CancelRaised("checkpoints", "m1"))
	assert.False(t, f.CancelRaised("checkpoints", "m2"))

	pending, err := f.PendingCancels()
	require.NoError(t, err)
	assert.ElementsMatch(t, [][2]string{
		{"checkpoints", "m1"},
		{"tokenizers", "t1"},
	}, pending)

	require.NoError(t, f.ClearCancel("checkpoints", "m1"))
	assert.False(t, f.CancelRaised("checkpoints", "m1"))

	require.NoError(t, f.ClearAllCancels())
	pending, err = f.PendingCancels()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

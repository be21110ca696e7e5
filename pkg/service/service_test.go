package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/internal/cli/output"
	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/state"
	"github.com/stackdrop/shuttle/pkg/worker"
)

type fixture struct {
	svc      *Service
	catalog  *catalog.Store
	queue    *state.Queue
	progress *state.ProgressStore
	flags    *state.Flags
	dataDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	paths := state.NewPaths(t.TempDir())
	f := &fixture{
		catalog:  catalog.New(paths),
		queue:    state.NewQueue(paths),
		progress: state.NewProgressStore(paths),
		flags:    state.NewFlags(paths),
		dataDir:  t.TempDir(),
	}
	manager := worker.NewManager(paths, f.flags, f.progress, worker.Options{
		StopTimeout: time.Second,
	})
	f.svc = New(f.catalog, f.queue, f.progress, f.flags, manager)
	return f
}

func (f *fixture) descriptor(name string) Descriptor {
	return Descriptor{
		Group:      "checkpoints",
		Name:       name,
		RemotePath: "models/" + name + ".bin",
		LocalPath:  filepath.Join(f.dataDir, name+".bin"),
		Size:       1024,
	}
}

func TestDownloadSingle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n, err := f.svc.Download(ctx, ModeSingle, []Descriptor{f.descriptor("m1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "m1", tasks[0].Name)

	rec, ok, err := f.progress.Get("checkpoints", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, artifact.StatusQueued, rec.Status)

	// The submission also lands in the catalog so dedup can find it.
	entry, ok, err := f.catalog.Get("checkpoints", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "models/m1.bin", entry.RemotePath)
}

func TestDownloadSingleRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := f.descriptor("m1")
	bad.LocalPath = ""

	_, err := f.svc.Download(ctx, ModeSingle, []Descriptor{bad})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "nothing may be enqueued on validation failure")
}

func TestDownloadInvalidMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Download(ctx, Mode("invalid_mode"), nil)
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDownloadListValidatesWholeArray(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := f.descriptor("m2")
	bad.RemotePath = ""

	_, err := f.svc.Download(ctx, ModeList, []Descriptor{f.descriptor("m1"), bad})
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "a malformed element must fail the whole submission")

	_, err = f.svc.Download(ctx, ModeList, nil)
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

func TestDownloadMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	present := filepath.Join(f.dataDir, "present.bin")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	require.NoError(t, f.catalog.Upsert(ctx, artifact.Entry{
		Group: "checkpoints", Name: "present",
		LocalPath: present, RemotePath: "models/present.bin", DownloadRef: "models/present.bin",
	}))
	require.NoError(t, f.catalog.Upsert(ctx, artifact.Entry{
		Group: "checkpoints", Name: "absent",
		LocalPath: filepath.Join(f.dataDir, "absent.bin"),
		RemotePath: "models/absent.bin", DownloadRef: "models/absent.bin",
	}))

	n, err := f.svc.Download(ctx, ModeMissing, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "absent", tasks[0].Name)
}

func TestDownloadIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d := f.descriptor("m1")
	_, err := f.svc.Download(ctx, ModeSingle, []Descriptor{d})
	require.NoError(t, err)

	n, err := f.svc.Download(ctx, ModeSingle, []Descriptor{d})
	require.NoError(t, err)
	assert.Zero(t, n, "re-submitting the same task is a no-op")

	qn, err := f.queue.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, qn)
}

func TestCancelQueuedTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Download(ctx, ModeSingle, []Descriptor{f.descriptor("m1")})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, "checkpoints", "m1"))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "cancelled queued task is removed")

	rec, _, err := f.progress.Get("checkpoints", "m1")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCancelled, rec.Status)
}

func TestCancelInFlightRaisesMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.progress.MarkQueued(ctx, "checkpoints", "m1", 10, "/data/m1"))
	require.NoError(t, f.progress.MarkDownloading(ctx, "checkpoints", "m1", "attempt-1"))

	require.NoError(t, f.svc.Cancel(ctx, "checkpoints", "m1"))
	assert.True(t, f.flags.CancelRaised("checkpoints", "m1"))
}

func TestCancelUnknownTask(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Cancel(context.Background(), "g", "ghost")
	assert.True(t, artifact.IsCode(err, artifact.ErrQueue))
}

func TestCancelByPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d := f.descriptor("m1")
	_, err := f.svc.Download(ctx, ModeSingle, []Descriptor{d})
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelByPath(ctx, d.LocalPath))

	rec, _, err := f.progress.Get("checkpoints", "m1")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCancelled, rec.Status)
}

func TestCancelAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Download(ctx, ModeList, []Descriptor{
		f.descriptor("m1"), f.descriptor("m2"),
	})
	require.NoError(t, err)

	// m3 is mid-transfer.
	require.NoError(t, f.progress.MarkQueued(ctx, "checkpoints", "m3", 10, "/data/m3"))
	require.NoError(t, f.progress.MarkDownloading(ctx, "checkpoints", "m3", "attempt-1"))

	require.NoError(t, f.svc.CancelAll(ctx))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, name := range []string{"m1", "m2"} {
		rec, _, err := f.progress.Get("checkpoints", name)
		require.NoError(t, err)
		assert.Equal(t, artifact.StatusCancelled, rec.Status, name)
	}
	assert.True(t, f.flags.CancelRaised("checkpoints", "m3"))
}

func TestListActiveFormats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Download(ctx, ModeSingle, []Descriptor{f.descriptor("m1")})
	require.NoError(t, err)

	listing, err := f.svc.ListActive()
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "m1", listing.Items[0].Name)

	var buf bytes.Buffer
	require.NoError(t, f.svc.PrintActive(&buf, output.FormatPlain))
	assert.Contains(t, buf.String(), "checkpoints/m1 queued")

	buf.Reset()
	require.NoError(t, f.svc.PrintActive(&buf, output.FormatTabular))
	assert.Contains(t, buf.String(), "m1")

	buf.Reset()
	require.NoError(t, f.svc.PrintActive(&buf, output.FormatStructured))
	assert.Contains(t, buf.String(), `"name"`)
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"all", "missing", "list", "single"} {
		m, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(m))
	}
	_, err := ParseMode("everything")
	assert.True(t, artifact.IsCode(err, artifact.ErrConfig))
}

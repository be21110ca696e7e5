package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/catalog"
	"github.com/stackdrop/shuttle/pkg/config"
	"github.com/stackdrop/shuttle/pkg/service"
	"github.com/stackdrop/shuttle/pkg/state"
	"github.com/stackdrop/shuttle/pkg/worker"
)

type fixture struct {
	srv      *httptest.Server
	svc      *service.Service
	queue    *state.Queue
	progress *state.ProgressStore
	dataDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	paths := state.NewPaths(t.TempDir())
	queue := state.NewQueue(paths)
	progress := state.NewProgressStore(paths)
	flags := state.NewFlags(paths)
	cat := catalog.New(paths)
	manager := worker.NewManager(paths, flags, progress, worker.Options{
		StopTimeout: time.Second,
	})

	svc := service.New(cat, queue, progress, flags, manager)
	srv := httptest.NewServer(NewRouter(NewHandler(svc)))
	t.Cleanup(srv.Close)

	return &fixture{
		srv:      srv,
		svc:      svc,
		queue:    queue,
		progress: progress,
		dataDir:  t.TempDir(),
	}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) descriptor(name string) service.Descriptor {
	return service.Descriptor{
		Group:      "checkpoints",
		Name:       name,
		RemotePath: "models/" + name + ".bin",
		LocalPath:  filepath.Join(f.dataDir, name+".bin"),
		Size:       512,
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestDownloadSingle(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/download", map[string]any{
		"mode":      "single",
		"artifacts": []service.Descriptor{f.descriptor("m1")},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]int](t, resp)
	assert.Equal(t, 1, body["enqueued"])

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDownloadRejectsBadMode(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/download", map[string]any{"mode": "everything"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ContentTypeProblemJSON, resp.Header.Get("Content-Type"))
}

func TestDownloadRejectsMalformedDescriptor(t *testing.T) {
	f := newFixture(t)

	bad := f.descriptor("m1")
	bad.LocalPath = ""
	resp := f.postJSON(t, "/v1/download", map[string]any{
		"mode":      "single",
		"artifacts": []service.Descriptor{bad},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProgressLookup(t *testing.T) {
	f := newFixture(t)

	d := f.descriptor("m1")
	resp := f.postJSON(t, "/v1/download", map[string]any{
		"mode": "single", "artifacts": []service.Descriptor{d},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.get(t, "/v1/progress?group=checkpoints&name=m1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[progressResponse](t, resp)
	assert.Equal(t, artifact.StatusQueued, rec.Status)

	resp = f.get(t, fmt.Sprintf("/v1/progress?path=%s", d.LocalPath))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/v1/progress?group=checkpoints&name=ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/v1/progress")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProgressAll(t *testing.T) {
	f := newFixture(t)

	f.postJSON(t, "/v1/download", map[string]any{
		"mode": "list",
		"artifacts": []service.Descriptor{
			f.descriptor("m1"), f.descriptor("m2"),
		},
	})

	resp := f.get(t, "/v1/progress/all")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[state.ProgressDoc](t, resp)
	assert.Len(t, all["checkpoints"], 2)
}

func TestActiveListing(t *testing.T) {
	f := newFixture(t)

	f.postJSON(t, "/v1/download", map[string]any{
		"mode": "single", "artifacts": []service.Descriptor{f.descriptor("m1")},
	})

	resp := f.get(t, "/v1/active")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[service.ActiveListing](t, resp)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "m1", listing.Items[0].Name)
}

func TestCancelQueued(t *testing.T) {
	f := newFixture(t)

	f.postJSON(t, "/v1/download", map[string]any{
		"mode": "single", "artifacts": []service.Descriptor{f.descriptor("m1")},
	})

	resp := f.postJSON(t, "/v1/cancel", map[string]string{
		"group": "checkpoints", "name": "m1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rec, _, err := f.progress.Get("checkpoints", "m1")
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusCancelled, rec.Status)
}

func TestCancelUnknownIs404(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/cancel", map[string]string{
		"group": "g", "name": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRequiresTarget(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t)

	f.postJSON(t, "/v1/download", map[string]any{
		"mode": "list",
		"artifacts": []service.Descriptor{
			f.descriptor("m1"), f.descriptor("m2"),
		},
	})

	resp := f.postJSON(t, "/v1/cancel/all", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerStatusStopped(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/v1/worker/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ws := decode[artifact.WorkerState](t, resp)
	assert.Equal(t, artifact.WorkerStopped, ws.Status)
}

func TestWorkerStopThenStartConflicts(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/worker/stop", map[string]bool{"force": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The stop flag now blocks starts that do not clear it.
	resp = f.postJSON(t, "/v1/worker/start", map[string]bool{"clearStop": false})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func configForTest() config.APIConfig {
	return config.APIConfig{
		Listen:       "127.0.0.1:0",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	paths := state.NewPaths(t.TempDir())
	flags := state.NewFlags(paths)
	progress := state.NewProgressStore(paths)
	manager := worker.NewManager(paths, flags, progress, worker.Options{})
	svc := service.New(catalog.New(paths), state.NewQueue(paths), progress, flags, manager)

	srv := NewServer(configForTest(), svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

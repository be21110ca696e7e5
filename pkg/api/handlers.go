package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/service"
	"github.com/stackdrop/shuttle/pkg/worker"
)

// Handler serves the sync API endpoints.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Health responds with a liveness payload.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type downloadRequest struct {
	Mode      string               `json:"mode"`
	Artifacts []service.Descriptor `json:"artifacts,omitempty"`
}

type downloadResponse struct {
	Enqueued int `json:"enqueued"`
}

// Download enqueues artifacts for the requested mode.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	mode, err := service.ParseMode(req.Mode)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	n, err := h.svc.Download(r.Context(), mode, req.Artifacts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, downloadResponse{Enqueued: n})
}

type progressResponse struct {
	Group string `json:"group,omitempty"`
	Name  string `json:"name,omitempty"`
	artifact.Progress
}

// Progress reports one record, addressed by group+name or by path.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	name := r.URL.Query().Get("name")
	path := r.URL.Query().Get("path")

	var (
		rec artifact.Progress
		ok  bool
		err error
	)
	switch {
	case group != "" && name != "":
		rec, ok, err = h.svc.GetProgress(group, name)
	case path != "":
		rec, ok, err = h.svc.GetProgressByPath(path)
	default:
		BadRequest(w, "either group and name, or path, must be given")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		NotFound(w, "no progress record for the requested artifact")
		return
	}
	WriteJSON(w, http.StatusOK, progressResponse{Group: group, Name: name, Progress: rec})
}

// ProgressAll returns every progress record, grouped.
func (h *Handler) ProgressAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.GetAllProgress()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, all)
}

// Active lists queued and in-flight transfers.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.ListActive()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, listing)
}

type cancelRequest struct {
	Group string `json:"group,omitempty"`
	Name  string `json:"name,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Cancel cancels one task by group+name or by local path.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	var err error
	switch {
	case req.Group != "" && req.Name != "":
		err = h.svc.Cancel(r.Context(), req.Group, req.Name)
	case req.Path != "":
		err = h.svc.CancelByPath(r.Context(), req.Path)
	default:
		BadRequest(w, "either group and name, or path, must be given")
		return
	}
	if err != nil {
		if artifact.IsCode(err, artifact.ErrQueue) {
			NotFound(w, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// CancelAll cancels every queued and in-flight task.
func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelAll(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type workerStartRequest struct {
	ClearStop bool `json:"clearStop,omitempty"`
}

type workerStartResponse struct {
	PID     int  `json:"pid"`
	Started bool `json:"started"`
}

// WorkerStart ensures a background worker is running.
func (h *Handler) WorkerStart(w http.ResponseWriter, r *http.Request) {
	var req workerStartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	pid, started, err := h.svc.StartWorker(r.Context(), req.ClearStop)
	if err != nil {
		if errors.Is(err, worker.ErrStopFlagRaised) {
			Conflict(w, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, workerStartResponse{PID: pid, Started: started})
}

type workerStopRequest struct {
	Force bool `json:"force,omitempty"`
}

type workerStopResponse struct {
	Found bool `json:"found"`
}

// WorkerStop raises the stop flag and optionally force-stops the worker.
func (h *Handler) WorkerStop(w http.ResponseWriter, r *http.Request) {
	var req workerStopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	found, err := h.svc.StopWorker(r.Context(), req.Force)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, workerStopResponse{Found: found})
}

// WorkerStatus reports worker liveness.
func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.WorkerStatus()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

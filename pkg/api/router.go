package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stackdrop/shuttle/internal/logger"
	"github.com/stackdrop/shuttle/pkg/metrics"
)

// NewRouter builds the HTTP router for the sync API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.Health)

	if metrics.IsEnabled() {
		r.Get("/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{},
		).ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/download", h.Download)

		r.Get("/progress", h.Progress)
		r.Get("/progress/all", h.ProgressAll)
		r.Get("/active", h.Active)

		r.Post("/cancel", h.Cancel)
		r.Post("/cancel/all", h.CancelAll)

		r.Route("/worker", func(r chi.Router) {
			r.Post("/start", h.WorkerStart)
			r.Post("/stop", h.WorkerStop)
			r.Get("/status", h.WorkerStatus)
		})
	})

	return r
}

// requestLogger logs each request with method, path, status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

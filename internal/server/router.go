// Package server exposes the admin HTTP API and the gRPC health service.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/export"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Container holds all dependencies for the router
type Container struct {
	Queue    async.Queue
	Runs     repository.RunRepository
	Store    blob.Store
	Exporter *export.Service
	Checks   map[string]Checker
	Logger   *slog.Logger
}

// NewRouter creates the admin API router with all endpoints
func NewRouter(c *Container) http.Handler {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	h := &handler{c: c, logger: c.Logger}

	r := mux.NewRouter()
	r.Use(requestLogger(c.Logger))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/uploads/{name}/process", h.processUpload).Methods(http.MethodPost)
	v1.HandleFunc("/uploads/{name}/run", h.cancelRun).Methods(http.MethodDelete)

	// export must be registered before /runs/{id}
	v1.HandleFunc("/runs/export.xlsx", h.exportRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/replay", h.replayRun).Methods(http.MethodPost)

	v1.HandleFunc("/reconciliation", h.listReconciliation).Methods(http.MethodGet)
	v1.HandleFunc("/reconciliation/{id}/resolve", h.resolveReconciliation).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(common.WithRequestID(r.Context(), reqID)))

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http.request",
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/ingest"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type handler struct {
	c      *Container
	logger *slog.Logger
}

// health handles GET /health
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.c.Checks))
	for name, check := range h.c.Checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health.check.failed", "check", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

// processUpload handles POST /v1/uploads/{name}/process
func (h *handler) processUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !ingest.Eligible(name) {
		badRequest(w, fmt.Sprintf("%q is not a supported upload", name))
		return
	}
	ok, err := h.c.Store.Exists(r.Context(), constants.ContainerUploads, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, common.NewAppError("UPLOAD_NOT_FOUND", name, common.ErrNotFound))
		return
	}

	job := async.Job{FileName: name, SubmittedAt: time.Now(), TraceID: common.RequestIDFromContext(r.Context())}
	if err := h.c.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"file_name": name, "trace_id": job.TraceID})
}

// cancelRun handles DELETE /v1/uploads/{name}/run
func (h *handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	canceled := h.c.Queue.Cancel(name)
	writeJSON(w, http.StatusOK, map[string]any{"file_name": name, "canceled": canceled})
}

// listRuns handles GET /v1/runs
func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRunFilter(w, r)
	if !ok {
		return
	}
	runs, err := h.c.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []entity.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /v1/runs/{id}
func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	run, err := h.c.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := h.c.Runs.ListDocuments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []entity.DocumentOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "documents": docs})
}

// replayRun handles POST /v1/runs/{id}/replay
func (h *handler) replayRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	run, err := h.c.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch {
	case !run.Status.Terminal():
		writeError(w, common.NewAppError("RUN_IN_PROGRESS", id.String(), common.ErrConflict))
		return
	case run.Submitted > 0:
		writeError(w, common.NewAppError("RUN_ALREADY_SUBMITTED",
			fmt.Sprintf("run %s submitted %d document(s); reconcile instead", id, run.Submitted), common.ErrConflict))
		return
	}

	job := async.Job{FileName: run.FileName, ReplayOf: id, SubmittedAt: time.Now(), TraceID: common.RequestIDFromContext(r.Context())}
	if err := h.c.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"replay_of": id.String(), "file_name": run.FileName})
}

// listReconciliation handles GET /v1/reconciliation
func (h *handler) listReconciliation(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	items, err := h.c.Runs.ListReconciliation(r.Context(), all)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []entity.ReconciliationItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// resolveReconciliation handles POST /v1/reconciliation/{id}/resolve
func (h *handler) resolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "id must be a positive integer")
		return
	}
	if err := h.c.Runs.ResolveReconciliation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("reconciliation.resolved", "item_id", id, "req_id", common.RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// exportRuns handles GET /v1/runs/export.xlsx
func (h *handler) exportRuns(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRunFilter(w, r)
	if !ok {
		return
	}
	data, err := h.c.Exporter.ExportRunsXLSX(r.Context(), filter)
	if err != nil {
		h.logger.Error("export.xlsx.failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="runs.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseRunFilter(w http.ResponseWriter, r *http.Request) (entity.RunFilter, bool) {
	q := r.URL.Query()
	var f entity.RunFilter
	if s := q.Get("status"); s != "" {
		st, ok := constants.ParseRunStatus(s)
		if !ok {
			badRequest(w, fmt.Sprintf("unknown status %q", s))
			return f, false
		}
		f.Status = st
	}
	f.FileName = q.Get("file_name")
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return f, false
		}
		f.Limit = n
	}
	return f, true
}

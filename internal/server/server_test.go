package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/export"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
)

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []async.Job
	canceled []string
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Cancel(fileName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = append(q.canceled, fileName)
	return fileName == "busy.pdf"
}

func (q *fakeQueue) Shutdown(context.Context) {}

type harness struct {
	srv   *httptest.Server
	queue *fakeQueue
	runs  repository.RunRepository
	store *blob.FSStore
}

func newHarness(t *testing.T, checks map[string]Checker) *harness {
	t.Helper()
	db, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	runs := repository.NewSQLiteRunRepository(db, nil)
	t.Cleanup(func() { _ = runs.Close() })

	store, err := blob.NewFSStore(t.TempDir(), "", nil, constants.ContainerUploads, constants.ContainerProcessed)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	q := &fakeQueue{}
	srv := httptest.NewServer(NewRouter(&Container{
		Queue:    q,
		Runs:     runs,
		Store:    store,
		Exporter: export.NewService(runs, nil),
		Checks:   checks,
	}))
	t.Cleanup(srv.Close)
	return &harness{srv: srv, queue: q, runs: runs, store: store}
}

func (h *harness) upload(t *testing.T, name string) {
	t.Helper()
	path := filepath.Join(h.store.Dir(constants.ContainerUploads), name)
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) finishedRun(t *testing.T, status constants.RunStatus, submitted int) *entity.Run {
	t.Helper()
	ctx := context.Background()
	run := &entity.Run{FileName: "a.pdf", Status: constants.RunStatusReceived}
	if err := h.runs.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Status = status
	run.Documents = 1
	run.Submitted = submitted
	if status.Terminal() {
		if err := h.runs.FinishRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	} else if err := h.runs.UpdateStatus(ctx, run.ID, status); err != nil {
		t.Fatal(err)
	}
	return run
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	h := newHarness(t, map[string]Checker{
		"db": func(context.Context) error { return nil },
	})
	resp, body := do(t, http.MethodGet, h.srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	h = newHarness(t, map[string]Checker{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	resp, body = do(t, http.MethodGet, h.srv.URL+"/health")
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("degraded health = %d %v", resp.StatusCode, body)
	}
}

func TestProcessUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.upload(t, "survey.pdf")

	resp, _ := do(t, http.MethodPost, h.srv.URL+"/v1/uploads/survey.pdf/process")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(h.queue.jobs) != 1 || h.queue.jobs[0].FileName != "survey.pdf" {
		t.Fatalf("jobs = %+v", h.queue.jobs)
	}
	if h.queue.jobs[0].TraceID == "" {
		t.Error("job has no trace id")
	}

	cases := []struct {
		name string
		want int
	}{
		{"missing.pdf", http.StatusNotFound},
		{"notes.txt", http.StatusBadRequest},
		{".hidden.pdf", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, h.srv.URL+"/v1/uploads/"+tc.name+"/process")
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tc.want, body)
			}
			if body["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestProcessUploadQueueClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.upload(t, "survey.pdf")
	h.queue.err = async.ErrQueueClosed

	resp, body := do(t, http.MethodPost, h.srv.URL+"/v1/uploads/survey.pdf/process")
	if resp.StatusCode != http.StatusConflict || body["code"] != "QUEUE_CLOSED" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestCancelRun(t *testing.T) {
	h := newHarness(t, nil)
	_, body := do(t, http.MethodDelete, h.srv.URL+"/v1/uploads/busy.pdf/run")
	if body["canceled"] != true {
		t.Fatalf("body = %v", body)
	}
	_, body = do(t, http.MethodDelete, h.srv.URL+"/v1/uploads/idle.pdf/run")
	if body["canceled"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestRunsEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	done := h.finishedRun(t, constants.RunStatusDone, 1)
	h.finishedRun(t, constants.RunStatusFailed, 0)

	resp, body := do(t, http.MethodGet, h.srv.URL+"/v1/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if got := len(body["runs"].([]any)); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}

	_, body = do(t, http.MethodGet, h.srv.URL+"/v1/runs?status=failed")
	if got := len(body["runs"].([]any)); got != 1 {
		t.Fatalf("failed runs = %d, want 1", got)
	}

	resp, _ = do(t, http.MethodGet, h.srv.URL+"/v1/runs?status=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, h.srv.URL+"/v1/runs?limit=-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, h.srv.URL+"/v1/runs/"+done.ID.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	run := body["run"].(map[string]any)
	if run["status"] != string(constants.RunStatusDone) {
		t.Fatalf("run = %v", run)
	}
	if _, ok := body["documents"].([]any); !ok {
		t.Fatalf("documents = %v", body["documents"])
	}

	resp, _ = do(t, http.MethodGet, h.srv.URL+"/v1/runs/"+uuid.NewString())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown run = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, h.srv.URL+"/v1/runs/not-a-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id = %d", resp.StatusCode)
	}
}

func TestReplayRun(t *testing.T) {
	h := newHarness(t, nil)
	failed := h.finishedRun(t, constants.RunStatusFailed, 0)
	submitted := h.finishedRun(t, constants.RunStatusDone, 1)
	running := h.finishedRun(t, constants.RunStatusSubmitting, 0)

	resp, _ := do(t, http.MethodPost, h.srv.URL+"/v1/runs/"+failed.ID.String()+"/replay")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("replay failed run = %d", resp.StatusCode)
	}
	if len(h.queue.jobs) != 1 || h.queue.jobs[0].ReplayOf != failed.ID {
		t.Fatalf("jobs = %+v", h.queue.jobs)
	}

	for name, id := range map[string]uuid.UUID{"submitted": submitted.ID, "running": running.ID} {
		resp, _ := do(t, http.MethodPost, h.srv.URL+"/v1/runs/"+id.String()+"/replay")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s: status = %d, want 409", name, resp.StatusCode)
		}
	}
	if len(h.queue.jobs) != 1 {
		t.Fatalf("refused replays were enqueued: %+v", h.queue.jobs)
	}
}

func TestReconciliation(t *testing.T) {
	h := newHarness(t, nil)
	run := h.finishedRun(t, constants.RunStatusFailed, 1)
	item := &entity.ReconciliationItem{RunID: run.ID, FileName: run.FileName, Reason: "archival failure"}
	if err := h.runs.AddReconciliation(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	_, body := do(t, http.MethodGet, h.srv.URL+"/v1/reconciliation")
	if got := len(body["items"].([]any)); got != 1 {
		t.Fatalf("open items = %d, want 1", got)
	}

	resp, _ := do(t, http.MethodPost, h.srv.URL+"/v1/reconciliation/"+strconv.FormatInt(item.ID, 10)+"/resolve")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve = %d", resp.StatusCode)
	}

	_, body = do(t, http.MethodGet, h.srv.URL+"/v1/reconciliation")
	if got := len(body["items"].([]any)); got != 0 {
		t.Fatalf("open items after resolve = %d", got)
	}
	_, body = do(t, http.MethodGet, h.srv.URL+"/v1/reconciliation?all=true")
	if got := len(body["items"].([]any)); got != 1 {
		t.Fatalf("all items = %d", got)
	}

	resp, _ = do(t, http.MethodPost, h.srv.URL+"/v1/reconciliation/9999/resolve")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve unknown = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, h.srv.URL+"/v1/reconciliation/abc/resolve")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resolve bad id = %d", resp.StatusCode)
	}
}

func TestExportRuns(t *testing.T) {
	h := newHarness(t, nil)
	h.finishedRun(t, constants.RunStatusDone, 1)

	resp, _ := do(t, http.MethodGet, h.srv.URL+"/v1/runs/export.xlsx")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("content type = %q", ct)
	}
}

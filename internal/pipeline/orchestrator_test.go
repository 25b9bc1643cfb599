package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/analysis"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/lock"
	"github.com/joseph-ayodele/survey-docparser/internal/rawstore"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
	"github.com/joseph-ayodele/survey-docparser/internal/submission"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

type row struct {
	question string
	answer   *string
}

func str(s string) *string { return &s }

func docJSON(label string, rows ...row) string {
	items := make([]string, 0, len(rows))
	for _, r := range rows {
		answer := `{"type":"string","confidence":0.4}`
		if r.answer != nil {
			answer = fmt.Sprintf(`{"type":"string","content":%q,"confidence":0.9}`, *r.answer)
		}
		items = append(items, fmt.Sprintf(
			`{"type":"object","valueObject":{"QUESTION":{"type":"string","content":%q,"confidence":0.9},"ANSWER":%s}}`,
			r.question, answer))
	}
	return fmt.Sprintf(
		`{"docType":"SurveyExtractionModel4","confidence":0.9,"fields":{"SurveyType":{"type":"string","content":%q,"confidence":0.99},"TableAnswers":{"type":"array","valueArray":[%s]}}}`,
		label, strings.Join(items, ","))
}

func operationJSON(docs ...string) string {
	return `{"status":"succeeded","analyzeResult":{"apiVersion":"2023-07-31","modelId":"SurveyExtractionModel4","documents":[` +
		strings.Join(docs, ",") + `]}}`
}

var nameAge = survey.Catalog{{QuestionID: 1, QuestionText: "Name?"}, {QuestionID: 2, QuestionText: "Age?"}}

type fakeAnalyzer struct {
	mu      sync.Mutex
	payload string
	err     error
	calls   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, modelID, documentURL string) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, modelID+" "+documentURL)
	if f.err != nil {
		return nil, f.err
	}
	return analysis.DecodeResult([]byte(f.payload))
}

type fakeCatalog struct {
	mu       sync.Mutex
	catalogs map[string]survey.Catalog
	err      error
	calls    int
}

func (f *fakeCatalog) Fetch(_ context.Context, label string) (survey.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.catalogs[label], nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []survey.SubmissionPayload
	// rejectAt is the 1-based submission that fails; 0 accepts everything.
	rejectAt int
	status   int
}

func (f *fakeSubmitter) Submit(_ context.Context, p survey.SubmissionPayload) (*submission.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	if f.rejectAt > 0 && len(f.payloads) == f.rejectAt {
		return nil, &common.PipelineError{
			Kind:   common.ErrSubmissionRejected,
			Stage:  "submit",
			Status: f.status,
			Reason: "Internal Server Error",
		}
	}
	return &submission.Receipt{Status: 201}, nil
}

type countingArchiver struct {
	next  Archiver
	err   error
	calls int
}

func (a *countingArchiver) Archive(ctx context.Context, name string) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	return a.next.Archive(ctx, name)
}

type harness struct {
	orch      *Orchestrator
	store     *blob.FSStore
	runs      repository.RunRepository
	raw       *rawstore.MemoryStore
	locker    *lock.MemoryLocker
	analyzer  *fakeAnalyzer
	catalog   *fakeCatalog
	submitter *fakeSubmitter
	archiver  *countingArchiver
}

func newHarness(t *testing.T, payload string) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := blob.NewFSStore(t.TempDir(), "https://blobs.example.com", nil,
		constants.ContainerUploads, constants.ContainerProcessed)
	if err != nil {
		t.Fatal(err)
	}
	db, err := repository.OpenSQLite(ctx, ":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	runs := repository.NewSQLiteRunRepository(db, nil)
	t.Cleanup(func() { _ = runs.Close() })

	h := &harness{
		store:     store,
		runs:      runs,
		raw:       rawstore.NewMemoryStore(),
		locker:    lock.NewMemoryLocker(time.Minute),
		analyzer:  &fakeAnalyzer{payload: payload},
		catalog:   &fakeCatalog{catalogs: map[string]survey.Catalog{"Domestic": nameAge, "Foreign": nameAge}},
		submitter: &fakeSubmitter{status: 500},
		archiver:  &countingArchiver{next: blob.NewArchiver(store, nil)},
	}
	h.orch = New(Deps{
		Analyzer:  h.analyzer,
		Catalog:   h.catalog,
		Submitter: h.submitter,
		Archiver:  h.archiver,
		Store:     store,
		Locker:    h.locker,
		Runs:      runs,
		Raw:       h.raw,
	}, Options{ModelID: "SurveyExtractionModel4"}, nil)
	return h
}

func (h *harness) upload(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(h.store.Dir(constants.ContainerUploads), name), []byte("%PDF-1.7 "+name), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) exists(t *testing.T, container, name string) bool {
	t.Helper()
	ok, err := h.store.Exists(context.Background(), container, name)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestProcess_SubmitsAndArchives(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(docJSON("Domestic",
		row{"Name?", str("Alice")},
		row{"Age?", nil},
	)))
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(ctx, "survey.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Run.Status != constants.RunStatusDone {
		t.Fatalf("status = %s", res.Run.Status)
	}

	if len(h.analyzer.calls) != 1 || !strings.HasSuffix(h.analyzer.calls[0], "https://blobs.example.com/uploads/survey.pdf") {
		t.Fatalf("analyzer calls = %v", h.analyzer.calls)
	}
	if len(h.submitter.payloads) != 1 {
		t.Fatalf("submissions = %d", len(h.submitter.payloads))
	}
	p := h.submitter.payloads[0]
	want := []survey.AnswerRecord{{QuestionID: 1, AnswerText: "Alice"}, {QuestionID: 2, AnswerText: ""}}
	if p.SurveyTypeID != int(constants.SurveyTypeDomestic) || len(p.Answers) != 2 || p.Answers[0] != want[0] || p.Answers[1] != want[1] {
		t.Fatalf("payload = %+v", p)
	}

	if h.exists(t, constants.ContainerUploads, "survey.pdf") || !h.exists(t, constants.ContainerProcessed, "survey.pdf") {
		t.Fatal("upload was not archived")
	}

	stored, err := h.runs.GetRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != constants.RunStatusDone || stored.Submitted != 1 || stored.FileSHA256 == "" {
		t.Fatalf("ledger run = %+v", stored)
	}
	if _, err := h.raw.Get(ctx, res.Run.ID.String()); err != nil {
		t.Fatalf("raw result not stored: %v", err)
	}
}

func TestProcess_CatalogFailureLeavesUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(docJSON("Domestic", row{"Name?", str("Alice")})))
	h.catalog.err = &common.PipelineError{Kind: common.ErrCatalogFetchFailure, Stage: "catalog", Status: 503}
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(ctx, "survey.pdf")
	if !errors.Is(err, common.ErrCatalogFetchFailure) {
		t.Fatalf("want ErrCatalogFetchFailure, got %v", err)
	}
	if res.Run.Status != constants.RunStatusFailed {
		t.Fatalf("status = %s", res.Run.Status)
	}
	if len(h.submitter.payloads) != 0 || h.archiver.calls != 0 {
		t.Fatal("nothing should be submitted or archived")
	}
	if !h.exists(t, constants.ContainerUploads, "survey.pdf") {
		t.Fatal("upload should remain")
	}
}

func TestProcess_EmptyCatalogIsUnmatched(t *testing.T) {
	h := newHarness(t, operationJSON(docJSON("Domestic", row{"Name?", str("Alice")})))
	h.catalog.catalogs = map[string]survey.Catalog{"Domestic": {}}
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(context.Background(), "survey.pdf")
	if !errors.Is(err, common.ErrUnmatchedQuestion) {
		t.Fatalf("want ErrUnmatchedQuestion, got %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0].Payload != nil {
		t.Fatalf("documents = %+v", res.Documents)
	}
	if res.Documents[0].Outcome.Stage != "extract" {
		t.Fatalf("stage = %q", res.Documents[0].Outcome.Stage)
	}
}

func TestProcess_SubmissionRejectedSkipsArchival(t *testing.T) {
	h := newHarness(t, operationJSON(docJSON("Foreign", row{"Name?", str("Bob")})))
	h.submitter.rejectAt = 1
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(context.Background(), "survey.pdf")
	if !errors.Is(err, common.ErrSubmissionRejected) {
		t.Fatalf("want ErrSubmissionRejected, got %v", err)
	}
	var pe *common.PipelineError
	if !errors.As(err, &pe) || pe.Status != 500 || pe.FileName != "survey.pdf" || pe.SurveyType != "Foreign" {
		t.Fatalf("error context = %+v", pe)
	}
	if h.archiver.calls != 0 {
		t.Fatal("archival must not run after a rejected submission")
	}
	if !h.exists(t, constants.ContainerUploads, "survey.pdf") {
		t.Fatal("upload should remain")
	}
	if res.Run.NeedsReconciliation {
		t.Fatal("nothing was submitted, nothing to reconcile")
	}
}

func TestProcess_ArchivalFailureNeedsReconciliation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(docJSON("Domestic", row{"Name?", str("Alice")})))
	h.archiver.err = &common.PipelineError{Kind: common.ErrArchivalFailure, Stage: "archive_copy", Cause: errors.New("disk full")}
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(ctx, "survey.pdf")
	if !errors.Is(err, common.ErrArchivalFailure) {
		t.Fatalf("want ErrArchivalFailure, got %v", err)
	}
	if len(h.submitter.payloads) != 1 {
		t.Fatalf("submission must not be retried, got %d", len(h.submitter.payloads))
	}
	if !res.Run.NeedsReconciliation || res.Run.Submitted != 1 {
		t.Fatalf("run = %+v", res.Run)
	}
	if !h.exists(t, constants.ContainerUploads, "survey.pdf") {
		t.Fatal("upload should remain")
	}
	items, err := h.runs.ListReconciliation(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].RunID != res.Run.ID {
		t.Fatalf("reconciliation items = %+v", items)
	}

	if _, err := h.orch.Replay(ctx, res.Run.ID); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("replaying a submitted run: want ErrConflict, got %v", err)
	}
}

func TestProcess_DocumentFailureDoesNotAffectSiblings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(
		docJSON("Mars", row{"Name?", str("Zed")}),
		docJSON("Foreign", row{"Age?", str("41")}),
	))
	h.upload(t, "two.pdf")

	res, err := h.orch.Process(ctx, "two.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("documents = %d", len(res.Documents))
	}
	if !errors.Is(res.Documents[0].Err, common.ErrUnknownSurveyType) {
		t.Fatalf("document 0 err = %v", res.Documents[0].Err)
	}
	if res.Documents[1].Err != nil || res.Documents[1].Outcome.Status != constants.DocumentStatusSubmitted {
		t.Fatalf("document 1 = %+v", res.Documents[1])
	}
	if got := h.submitter.payloads[0]; got.SurveyTypeID != int(constants.SurveyTypeForeign) || got.Answers[0].QuestionID != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if !h.exists(t, constants.ContainerProcessed, "two.pdf") {
		t.Fatal("upload should be archived")
	}

	docs, err := h.runs.ListDocuments(ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Status != constants.DocumentStatusFailed || docs[0].SurveyType != "Mars" {
		t.Fatalf("ledger documents = %+v", docs)
	}
}

func TestProcess_MalformedTableFailsOnlyThatDocument(t *testing.T) {
	ctx := context.Background()
	broken := `{"docType":"SurveyExtractionModel4","confidence":0.9,"fields":{"SurveyType":{"type":"string","content":"Domestic","confidence":0.99},"TableAnswers":{"type":"string","content":"oops","confidence":0.5}}}`
	h := newHarness(t, operationJSON(broken, docJSON("Foreign", row{"Age?", str("41")})))
	h.upload(t, "mixed.pdf")

	res, err := h.orch.Process(ctx, "mixed.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("documents = %d", len(res.Documents))
	}
	if !errors.Is(res.Documents[0].Err, common.ErrMalformedTable) {
		t.Fatalf("document 0 err = %v", res.Documents[0].Err)
	}
	if res.Documents[1].Err != nil || res.Documents[1].Outcome.Status != constants.DocumentStatusSubmitted {
		t.Fatalf("document 1 = %+v", res.Documents[1])
	}
	if len(h.submitter.payloads) != 1 {
		t.Fatalf("submissions = %d", len(h.submitter.payloads))
	}
}

func TestProcess_UnclassifiedDocumentErrorAbortsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(
		docJSON("Domestic", row{"Name?", str("Ann")}),
		docJSON("Foreign", row{"Age?", str("41")}),
	))
	broke := errors.New("catalog transport broke")
	h.catalog.err = broke
	h.upload(t, "two.pdf")

	res, err := h.orch.Process(ctx, "two.pdf")
	if !errors.Is(err, broke) {
		t.Fatalf("want transport error, got %v", err)
	}
	if res.Run.Status != constants.RunStatusFailed {
		t.Fatalf("status = %s", res.Run.Status)
	}
	if h.catalog.calls != 1 || len(res.Documents) != 1 {
		t.Fatalf("run should stop at the first document: calls=%d documents=%d", h.catalog.calls, len(res.Documents))
	}
	if len(h.submitter.payloads) != 0 || h.archiver.calls != 0 {
		t.Fatal("nothing should be submitted or archived")
	}
	if !h.exists(t, constants.ContainerUploads, "two.pdf") {
		t.Fatal("upload should remain")
	}
}

func TestProcess_RejectionAfterSubmissionReconciles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(
		docJSON("Domestic", row{"Name?", str("Ann")}),
		docJSON("Domestic", row{"Name?", str("Ben")}),
	))
	h.submitter.rejectAt = 2
	h.upload(t, "two.pdf")

	res, err := h.orch.Process(ctx, "two.pdf")
	if !errors.Is(err, common.ErrSubmissionRejected) {
		t.Fatalf("want ErrSubmissionRejected, got %v", err)
	}
	if !res.Run.NeedsReconciliation || res.Run.Submitted != 1 {
		t.Fatalf("run = %+v", res.Run)
	}
	if h.archiver.calls != 0 {
		t.Fatal("archival must not run")
	}
	if h.catalog.calls != 1 {
		t.Fatalf("catalog fetched %d times for one label", h.catalog.calls)
	}
}

func TestProcess_SkipsClaimedFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(docJSON("Domestic")))
	h.upload(t, "busy.pdf")
	if _, err := h.locker.Claim(ctx, "busy.pdf"); err != nil {
		t.Fatal(err)
	}

	res, err := h.orch.Process(ctx, "busy.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Run.Status != constants.RunStatusSkipped || len(h.analyzer.calls) != 0 {
		t.Fatalf("status = %s, analyzer calls = %d", res.Run.Status, len(h.analyzer.calls))
	}
}

func TestProcess_SkipsVanishedFile(t *testing.T) {
	h := newHarness(t, operationJSON(docJSON("Domestic")))

	res, err := h.orch.Process(context.Background(), "gone.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Run.Status != constants.RunStatusSkipped {
		t.Fatalf("status = %s", res.Run.Status)
	}
}

func TestProcess_RejectsUnsupportedExtension(t *testing.T) {
	h := newHarness(t, operationJSON())
	if _, err := h.orch.Process(context.Background(), "notes.txt"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestProcess_AnalysisFailure(t *testing.T) {
	h := newHarness(t, "")
	h.analyzer.err = &common.PipelineError{Kind: common.ErrAnalysisFailure, Stage: "analyze", Reason: "InvalidRequest"}
	h.upload(t, "survey.pdf")

	res, err := h.orch.Process(context.Background(), "survey.pdf")
	if !errors.Is(err, common.ErrAnalysisFailure) {
		t.Fatalf("want ErrAnalysisFailure, got %v", err)
	}
	if res.Run.ErrorKind != common.ErrAnalysisFailure.Error() {
		t.Fatalf("error kind = %q", res.Run.ErrorKind)
	}
}

func TestReplay_UsesStoredResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, operationJSON(docJSON("Domestic", row{"Name?", str("Alice")})))
	h.catalog.err = &common.PipelineError{Kind: common.ErrCatalogFetchFailure, Stage: "catalog", Status: 502}
	h.upload(t, "survey.pdf")

	first, err := h.orch.Process(ctx, "survey.pdf")
	if err == nil {
		t.Fatal("first run should fail")
	}

	h.catalog.err = nil
	second, err := h.orch.Replay(ctx, first.Run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(h.analyzer.calls) != 1 {
		t.Fatalf("replay called the analyzer again: %d calls", len(h.analyzer.calls))
	}
	if second.Run.ReplayOf == nil || *second.Run.ReplayOf != first.Run.ID {
		t.Fatalf("replay_of = %v", second.Run.ReplayOf)
	}
	if second.Run.Status != constants.RunStatusDone || len(h.submitter.payloads) != 1 {
		t.Fatalf("replay run = %+v", second.Run)
	}
	if !h.exists(t, constants.ContainerProcessed, "survey.pdf") {
		t.Fatal("replayed upload should be archived")
	}
}

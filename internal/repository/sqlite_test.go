package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
)

func newSQLiteRepo(t *testing.T) RunRepository {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	repo := NewSQLiteRunRepository(db, nil)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRunRepository(t *testing.T) {
	exerciseRunRepository(t, newSQLiteRepo(t))
}

func TestSQLiteUnknownRun(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	if _, err := repo.GetRun(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("GetRun unknown: want ErrNotFound, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, uuid.New(), constants.RunStatusAnalyzing); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("UpdateStatus unknown: want ErrNotFound, got %v", err)
	}
	if err := repo.ResolveReconciliation(ctx, 42); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("ResolveReconciliation unknown: want ErrNotFound, got %v", err)
	}
}

func TestOpenSQLite_PragmasOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger", "runs.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// hold several connections at once so the pool has to dial new ones
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		t.Cleanup(func() { _ = conn.Close() })

		var fk, busy int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if fk != 1 || busy != 10000 {
			t.Fatalf("conn %d: foreign_keys=%d busy_timeout=%d", i, fk, busy)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got, want := sqliteDSN(":memory:", true), ":memory:?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"; got != want {
		t.Fatalf("memory dsn = %q, want %q", got, want)
	}
	if got, want := sqliteDSN("/data/runs.db", false), "/data/runs.db?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"; got != want {
		t.Fatalf("file dsn = %q, want %q", got, want)
	}
}

// exerciseRunRepository runs the same lifecycle against any ledger backend.
func exerciseRunRepository(t *testing.T, repo RunRepository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	run := &entity.Run{FileName: "survey-1.pdf", Status: constants.RunStatusReceived}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("CreateRun did not assign an id")
	}
	if err := repo.UpdateStatus(ctx, run.ID, constants.RunStatusSubmitting); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != constants.RunStatusSubmitting || got.FileName != "survey-1.pdf" {
		t.Fatalf("GetRun = %+v", got)
	}
	if got.FinishedAt != nil {
		t.Fatal("unfinished run has finished_at")
	}

	docs := []entity.DocumentOutcome{
		{RunID: run.ID, Index: 0, DocType: "survey", SurveyType: "Domestic", SurveyTypeID: 1, Answers: 3,
			Status: constants.DocumentStatusSubmitted, SubmissionStatus: 201},
		{RunID: run.ID, Index: 1, DocType: "survey", SurveyType: "Mars", Status: constants.DocumentStatusFailed,
			Stage: "resolve", ErrorKind: "unknown survey type", ErrorMessage: "label Mars"},
	}
	for i := range docs {
		if err := repo.RecordDocument(ctx, &docs[i]); err != nil {
			t.Fatalf("RecordDocument %d: %v", i, err)
		}
	}
	listed, err := repo.ListDocuments(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(listed) != 2 || listed[0].Answers != 3 || listed[1].Stage != "resolve" {
		t.Fatalf("ListDocuments = %+v", listed)
	}

	run.Status = constants.RunStatusDone
	run.FileSHA256 = "abc123"
	run.Documents = 2
	run.Submitted = 1
	run.NeedsReconciliation = true
	if err := repo.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err = repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if got.Status != constants.RunStatusDone || got.Submitted != 1 || !got.NeedsReconciliation || got.FinishedAt == nil {
		t.Fatalf("finished run = %+v", got)
	}

	replayOf := run.ID
	replay := &entity.Run{FileName: "survey-1.pdf", Status: constants.RunStatusReceived, ReplayOf: &replayOf}
	if err := repo.CreateRun(ctx, replay); err != nil {
		t.Fatalf("CreateRun replay: %v", err)
	}
	got, err = repo.GetRun(ctx, replay.ID)
	if err != nil {
		t.Fatalf("GetRun replay: %v", err)
	}
	if got.ReplayOf == nil || *got.ReplayOf != run.ID {
		t.Fatalf("replay_of = %v, want %s", got.ReplayOf, run.ID)
	}

	runs, err := repo.ListRuns(ctx, entity.RunFilter{Status: constants.RunStatusDone})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("ListRuns(DONE) = %+v", runs)
	}
	runs, err = repo.ListRuns(ctx, entity.RunFilter{FileName: "survey-1.pdf"})
	if err != nil {
		t.Fatalf("ListRuns by file: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns by file: got %d runs", len(runs))
	}

	prior, err := repo.SubmittedBySHA(ctx, "abc123")
	if err != nil {
		t.Fatalf("SubmittedBySHA: %v", err)
	}
	if len(prior) != 1 {
		t.Fatalf("SubmittedBySHA: got %d runs", len(prior))
	}

	item := &entity.ReconciliationItem{RunID: run.ID, FileName: "survey-1.pdf", Reason: "archive_delete: permission denied"}
	if err := repo.AddReconciliation(ctx, item); err != nil {
		t.Fatalf("AddReconciliation: %v", err)
	}
	open, err := repo.ListReconciliation(ctx, false)
	if err != nil {
		t.Fatalf("ListReconciliation: %v", err)
	}
	if len(open) != 1 || open[0].ID != item.ID || open[0].RunID != run.ID {
		t.Fatalf("open items = %+v", open)
	}
	if err := repo.ResolveReconciliation(ctx, item.ID); err != nil {
		t.Fatalf("ResolveReconciliation: %v", err)
	}
	open, err = repo.ListReconciliation(ctx, false)
	if err != nil {
		t.Fatalf("ListReconciliation: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved item still open: %+v", open)
	}
	all, err := repo.ListReconciliation(ctx, true)
	if err != nil {
		t.Fatalf("ListReconciliation all: %v", err)
	}
	if len(all) != 1 || all[0].ResolvedAt == nil {
		t.Fatalf("all items = %+v", all)
	}
}

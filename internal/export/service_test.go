package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
)

func TestExportRunsXLSX(t *testing.T) {
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, ":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	runs := repository.NewSQLiteRunRepository(db, nil)
	defer runs.Close()

	run := &entity.Run{FileName: "survey.pdf", Status: constants.RunStatusReceived}
	if err := runs.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	doc := &entity.DocumentOutcome{RunID: run.ID, Index: 0, SurveyType: "Domestic", SurveyTypeID: 1, Answers: 2,
		Status: constants.DocumentStatusSubmitted, SubmissionStatus: 201}
	if err := runs.RecordDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	run.Status = constants.RunStatusFailed
	run.Submitted = 1
	run.Documents = 1
	run.NeedsReconciliation = true
	if err := runs.FinishRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := runs.AddReconciliation(ctx, &entity.ReconciliationItem{RunID: run.ID, FileName: "survey.pdf", Reason: "archive_copy failed"}); err != nil {
		t.Fatal(err)
	}

	data, err := NewService(runs, nil).ExportRunsXLSX(ctx, entity.RunFilter{})
	if err != nil {
		t.Fatalf("ExportRunsXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetRuns)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][1] != "survey.pdf" || rows[1][2] != "FAILED" || rows[1][5] != "yes" {
		t.Fatalf("runs sheet = %v", rows)
	}

	rows, err = f.GetRows(SheetDocuments)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][3] != "Domestic" || rows[1][10] != "201" {
		t.Fatalf("documents sheet = %v", rows)
	}

	rows, err = f.GetRows(SheetReconciliation)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][3] != "archive_copy failed" {
		t.Fatalf("reconciliation sheet = %v", rows)
	}
}

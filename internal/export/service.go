package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
)

// Sheet names of the ledger workbook.
const (
	SheetRuns           = "Runs"
	SheetDocuments      = "Documents"
	SheetReconciliation = "Reconciliation"
)

// Service renders the run ledger as an XLSX workbook.
type Service struct {
	runs   repository.RunRepository
	logger *slog.Logger
}

func NewService(runs repository.RunRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, logger: logger}
}

// ExportRunsXLSX returns a workbook with the runs matching filter, their
// per-document outcomes and every reconciliation item, resolved or not.
func (s *Service) ExportRunsXLSX(ctx context.Context, filter entity.RunFilter) ([]byte, error) {
	start := time.Now()

	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	items, err := s.runs.ListReconciliation(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// the default sheet becomes Runs
	if err := f.SetSheetName("Sheet1", SheetRuns); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetDocuments, SheetReconciliation} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	idx, _ := f.GetSheetIndex(SheetRuns)
	f.SetActiveSheet(idx)

	writeRow(f, SheetRuns, 1, "Run ID", "File", "Status", "Documents", "Submitted",
		"Needs Reconciliation", "Error Kind", "Error", "Replay Of", "SHA-256", "Created", "Finished")
	writeRow(f, SheetDocuments, 1, "Run ID", "File", "Document", "Survey Type", "Survey Type ID",
		"Answers", "Status", "Stage", "Error Kind", "Error", "HTTP Status")

	docRow := 2
	for i, r := range runs {
		replayOf := ""
		if r.ReplayOf != nil {
			replayOf = r.ReplayOf.String()
		}
		finished := ""
		if r.FinishedAt != nil {
			finished = r.FinishedAt.UTC().Format(time.RFC3339)
		}
		writeRow(f, SheetRuns, i+2,
			r.ID.String(), r.FileName, string(r.Status), r.Documents, r.Submitted,
			yesNo(r.NeedsReconciliation), r.ErrorKind, truncate(r.ErrorMessage, 200), replayOf,
			r.FileSHA256, r.CreatedAt.UTC().Format(time.RFC3339), finished)

		docs, err := s.runs.ListDocuments(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("query documents of %s: %w", r.ID, err)
		}
		for _, d := range docs {
			writeRow(f, SheetDocuments, docRow,
				r.ID.String(), r.FileName, d.Index, d.SurveyType, d.SurveyTypeID,
				d.Answers, string(d.Status), d.Stage, d.ErrorKind, truncate(d.ErrorMessage, 200), d.SubmissionStatus)
			docRow++
		}
	}

	writeRow(f, SheetReconciliation, 1, "ID", "Run ID", "File", "Reason", "Created", "Resolved")
	for i, it := range items {
		resolved := ""
		if it.ResolvedAt != nil {
			resolved = it.ResolvedAt.UTC().Format(time.RFC3339)
		}
		writeRow(f, SheetReconciliation, i+2,
			it.ID, it.RunID.String(), it.FileName, truncate(it.Reason, 200),
			it.CreatedAt.UTC().Format(time.RFC3339), resolved)
	}

	_ = f.SetColWidth(SheetRuns, "A", "A", 38)
	_ = f.SetColWidth(SheetRuns, "B", "B", 32)
	_ = f.SetColWidth(SheetRuns, "H", "H", 60)
	_ = f.SetColWidth(SheetDocuments, "A", "B", 32)
	_ = f.SetColWidth(SheetReconciliation, "D", "D", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"runs", len(runs),
		"documents", docRow-2,
		"reconciliation_items", len(items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
)

// RunRepository is the run ledger: one row per run, its per-document
// outcomes and the submitted-but-not-archived items awaiting reconciliation.
type RunRepository interface {
	CreateRun(ctx context.Context, run *entity.Run) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error
	FinishRun(ctx context.Context, run *entity.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*entity.Run, error)
	ListRuns(ctx context.Context, filter entity.RunFilter) ([]entity.Run, error)
	// SubmittedBySHA lists runs of identical content that submitted at least one document.
	SubmittedBySHA(ctx context.Context, sha string) ([]entity.Run, error)

	RecordDocument(ctx context.Context, doc *entity.DocumentOutcome) error
	ListDocuments(ctx context.Context, runID uuid.UUID) ([]entity.DocumentOutcome, error)

	AddReconciliation(ctx context.Context, item *entity.ReconciliationItem) error
	ListReconciliation(ctx context.Context, includeResolved bool) ([]entity.ReconciliationItem, error)
	ResolveReconciliation(ctx context.Context, id int64) error

	// Ping reports whether the ledger is reachable.
	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}

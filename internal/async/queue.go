package async

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/internal/pipeline"
)

// Job asks for one pipeline run over an uploaded file, or a replay of an
// earlier run when ReplayOf is set.
type Job struct {
	FileName    string
	ReplayOf    uuid.UUID
	SubmittedAt time.Time
	TraceID     string
}

// Runner executes jobs. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Process(ctx context.Context, fileName string) (*pipeline.RunResult, error)
	Replay(ctx context.Context, runID uuid.UUID) (*pipeline.RunResult, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Cancel stops the in-flight or queued run for fileName.
	Cancel(fileName string) bool
	Shutdown(ctx context.Context)
}

package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
)

// Run represents one pipeline run over one uploaded file.
type Run struct {
	ID                  uuid.UUID           `json:"id"`
	FileName            string              `json:"file_name"`
	FileSHA256          string              `json:"file_sha256,omitempty"`
	Status              constants.RunStatus `json:"status"`
	ErrorKind           string              `json:"error_kind,omitempty"`
	ErrorMessage        string              `json:"error_message,omitempty"`
	Documents           int                 `json:"documents"`
	Submitted           int                 `json:"submitted"`
	NeedsReconciliation bool                `json:"needs_reconciliation"`
	ReplayOf            *uuid.UUID          `json:"replay_of,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	FinishedAt          *time.Time          `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Status   constants.RunStatus
	FileName string
	Limit    int
}

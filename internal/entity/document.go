package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
)

// DocumentOutcome records what happened to one detected document of a run.
type DocumentOutcome struct {
	RunID            uuid.UUID                `json:"run_id"`
	Index            int                      `json:"index"`
	DocType          string                   `json:"doc_type"`
	SurveyType       string                   `json:"survey_type"`
	SurveyTypeID     int                      `json:"survey_type_id,omitempty"`
	Answers          int                      `json:"answers"`
	Status           constants.DocumentStatus `json:"status"`
	Stage            string                   `json:"stage,omitempty"`
	ErrorKind        string                   `json:"error_kind,omitempty"`
	ErrorMessage     string                   `json:"error_message,omitempty"`
	SubmissionStatus int                      `json:"submission_status,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

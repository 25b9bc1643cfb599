package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

// Pipeline error kinds. Match with errors.Is.
var (
	ErrAnalysisFailure     = errors.New("analysis failure")
	ErrCatalogFetchFailure = errors.New("catalog fetch failure")
	ErrUnmatchedQuestion   = errors.New("unmatched question")
	ErrUnknownSurveyType   = errors.New("unknown survey type")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrArchivalFailure     = errors.New("archival failure")
	// ErrMalformedTable marks a TableAnswers region that is not a list of rows.
	ErrMalformedTable = errors.New("malformed table answers")
)

// PipelineError carries the context needed to replay a failed run by hand.
type PipelineError struct {
	Kind       error
	Stage      string
	FileName   string
	SurveyType string
	Status     int    // remote HTTP status, when one was received
	Reason     string // remote reason phrase or local detail
	Cause      error
}

func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.FileName != "" {
		msg += " file=" + e.FileName
	}
	if e.SurveyType != "" {
		msg += " survey_type=" + e.SurveyType
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Reason != "" {
		msg += " reason=" + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is lets errors.Is match both the kind and anything in the cause chain.
func (e *PipelineError) Is(target error) bool {
	return e.Kind == target
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError builds a PipelineError of the given kind.
func NewPipelineError(kind error, stage string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Cause: cause}
}

// IsDocumentScoped reports whether err aborts only the current document of a
// file rather than the whole run.
func IsDocumentScoped(err error) bool {
	return errors.Is(err, ErrUnmatchedQuestion) ||
		errors.Is(err, ErrUnknownSurveyType) ||
		errors.Is(err, ErrCatalogFetchFailure) ||
		errors.Is(err, ErrMalformedTable)
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps an error to the status code returned by the admin API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

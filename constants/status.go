package constants

import "strings"

// RunStatus is the canonical state of a pipeline run in the run ledger.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusReceived   RunStatus = "RECEIVED"
	RunStatusAnalyzing  RunStatus = "ANALYZING"
	RunStatusExtracting RunStatus = "EXTRACTING"
	RunStatusSubmitting RunStatus = "SUBMITTING"
	RunStatusArchiving  RunStatus = "ARCHIVING"
	RunStatusDone       RunStatus = "DONE"
	RunStatusFailed     RunStatus = "FAILED"  // terminal failure
	RunStatusSkipped    RunStatus = "SKIPPED" // claimed elsewhere or file vanished
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusDone, RunStatusFailed, RunStatusSkipped:
		return true
	}
	return false
}

var allRunStatuses = []RunStatus{
	RunStatusReceived, RunStatusAnalyzing, RunStatusExtracting, RunStatusSubmitting,
	RunStatusArchiving, RunStatusDone, RunStatusFailed, RunStatusSkipped,
}

// ParseRunStatus accepts a status name in any letter case.
func ParseRunStatus(s string) (RunStatus, bool) {
	for _, st := range allRunStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// DocumentStatus is the outcome of one detected document inside a run.
type DocumentStatus string

const (
	DocumentStatusSubmitted DocumentStatus = "SUBMITTED"
	DocumentStatusFailed    DocumentStatus = "FAILED"
)

package survey

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

// ResolveSurveyType maps a document's survey type label to its enum value.
func ResolveSurveyType(label string) (constants.SurveyType, error) {
	t, ok := constants.ParseSurveyType(label)
	if !ok {
		return 0, &common.PipelineError{
			Kind:       common.ErrUnknownSurveyType,
			Stage:      "resolve_survey_type",
			SurveyType: label,
			Reason:     fmt.Sprintf("expected one of %s", strings.Join(constants.SurveyTypeNames(), ", ")),
		}
	}
	return t, nil
}

// BuildSubmission assembles the payload for one document.
func BuildSubmission(surveyType constants.SurveyType, answers []AnswerRecord) SubmissionPayload {
	out := make([]AnswerRecord, len(answers))
	copy(out, answers)
	return SubmissionPayload{SurveyTypeID: int(surveyType), Answers: out}
}

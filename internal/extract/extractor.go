// Package extract turns the table-answers region of an analysed document into
// answer records keyed by catalog question id.
package extract

import (
	"fmt"

	"github.com/joseph-ayodele/survey-docparser/internal/analysis"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

// Field and key names produced by the extraction model.
const (
	TableAnswersField = "TableAnswers"
	SurveyTypeField   = "SurveyType"
	QuestionKey       = "QUESTION"
	AnswerKey         = "ANSWER"
)

const stageExtract = "extract"

// Answers walks the TableAnswers rows of doc and emits one AnswerRecord per
// ANSWER entry, attributed to the nearest preceding QUESTION of the same row.
// A document without TableAnswers yields an empty slice. The function is pure.
func Answers(doc analysis.Document, catalog survey.Catalog) ([]survey.AnswerRecord, error) {
	answers := []survey.AnswerRecord{}

	table, ok := doc.Field(TableAnswersField)
	if !ok {
		return answers, nil
	}
	if table.Kind != analysis.KindList {
		return nil, malformed("%s is %s, want list", TableAnswersField, table.Kind)
	}

	for i, row := range table.Items {
		if row.Kind != analysis.KindMap {
			return nil, malformed("%s row %d is %s, want map", TableAnswersField, i, row.Kind)
		}

		var current *survey.QuestionRecord
		for _, entry := range row.Entries {
			switch entry.Name {
			case QuestionKey:
				text := entry.ContentOr("")
				q, found := catalog.Lookup(text)
				if !found {
					return nil, &common.PipelineError{
						Kind:   common.ErrUnmatchedQuestion,
						Stage:  stageExtract,
						Reason: fmt.Sprintf("row %d: question %q not in catalog", i, text),
					}
				}
				current = &q
			case AnswerKey:
				if current == nil {
					return nil, &common.PipelineError{
						Kind:   common.ErrUnmatchedQuestion,
						Stage:  stageExtract,
						Reason: fmt.Sprintf("row %d: %s precedes %s", i, AnswerKey, QuestionKey),
					}
				}
				answers = append(answers, survey.AnswerRecord{
					QuestionID: current.QuestionID,
					AnswerText: entry.ContentOr(""),
				})
			}
		}
	}
	return answers, nil
}

// SurveyTypeLabel returns the raw SurveyType content of doc.
func SurveyTypeLabel(doc analysis.Document) (string, error) {
	f, ok := doc.Field(SurveyTypeField)
	if !ok || f.Content == nil {
		return "", &common.PipelineError{
			Kind:   common.ErrUnknownSurveyType,
			Stage:  "resolve_survey_type",
			Reason: SurveyTypeField + " field missing or empty",
		}
	}
	return *f.Content, nil
}

func malformed(format string, args ...any) error {
	return &common.PipelineError{
		Kind:   common.ErrMalformedTable,
		Stage:  stageExtract,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Package survey holds the records exchanged with the survey API and the pure
// steps that turn a survey type label and extracted answers into a submission.
package survey

// QuestionRecord is one canonical question of a survey type.
type QuestionRecord struct {
	QuestionID   int    `json:"questionId"`
	QuestionText string `json:"questionText"`
}

// Catalog is the ordered question list for one survey type.
type Catalog []QuestionRecord

// Lookup finds a question by exact text. The first match in catalog order wins.
func (c Catalog) Lookup(text string) (QuestionRecord, bool) {
	for _, q := range c {
		if q.QuestionText == text {
			return q, true
		}
	}
	return QuestionRecord{}, false
}

// AnswerRecord is one extracted answer. AnswerText is never null on the wire.
type AnswerRecord struct {
	QuestionID int    `json:"surveyQuestionId"`
	AnswerText string `json:"answerText"`
}

// SubmissionPayload is the body posted to the survey API.
type SubmissionPayload struct {
	SurveyTypeID int            `json:"surveyTypeId"`
	Answers      []AnswerRecord `json:"surveyAnswers"`
}

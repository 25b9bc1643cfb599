package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/analysis"
	"github.com/joseph-ayodele/survey-docparser/internal/catalog"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/extract"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

// processDocuments handles every detected document in order. A document
// that fails before submission with a document-scoped error is recorded
// and skipped. Any other failure, and any rejected submission, aborts the
// file. The returned error, if any, means the file
// must stay in uploads.
func (o *Orchestrator) processDocuments(ctx context.Context, rr *RunResult, res *analysis.Result) error {
	o.setStatus(ctx, rr, constants.RunStatusExtracting)
	rr.Run.Documents = len(res.Documents)
	if len(res.Documents) == 0 {
		return &common.PipelineError{
			Kind:     common.ErrValidation,
			Stage:    "extract",
			FileName: rr.Run.FileName,
			Reason:   "analysis detected no documents",
		}
	}

	// catalog fetches are shared by the documents of this run only
	memo := catalog.NewMemo(o.deps.Catalog)
	var docErrs []error

	for i, doc := range res.Documents {
		dr := DocumentResult{Outcome: entity.DocumentOutcome{
			RunID:   rr.Run.ID,
			Index:   i,
			DocType: doc.DocType,
		}}

		payload, err := o.prepare(ctx, memo, doc, &dr)
		if err != nil {
			o.recordDocument(ctx, rr, dr, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !common.IsDocumentScoped(err) {
				if rr.Run.Submitted > 0 {
					o.reconcile(ctx, rr, fmt.Errorf("document %d failed after %d submitted: %w", i, rr.Run.Submitted, err))
				}
				return err
			}
			docErrs = append(docErrs, err)
			continue
		}
		dr.Payload = &payload

		if rr.Run.Status != constants.RunStatusSubmitting {
			o.setStatus(ctx, rr, constants.RunStatusSubmitting)
		}
		receipt, err := o.deps.Submitter.Submit(ctx, payload)
		if err != nil {
			var pe *common.PipelineError
			if errors.As(err, &pe) {
				pe.FileName = rr.Run.FileName
				pe.SurveyType = dr.Outcome.SurveyType
				dr.Outcome.SubmissionStatus = pe.Status
			}
			o.recordDocument(ctx, rr, dr, err)
			if rr.Run.Submitted > 0 {
				o.reconcile(ctx, rr, fmt.Errorf("document %d rejected after %d submitted: %w", i, rr.Run.Submitted, err))
			}
			return err
		}

		rr.Run.Submitted++
		dr.Outcome.SubmissionStatus = receipt.Status
		o.recordDocument(ctx, rr, dr, nil)
		o.logger.Info("pipeline.document.submitted",
			"run_id", rr.Run.ID,
			"file_name", rr.Run.FileName,
			"document", i,
			"survey_type", dr.Outcome.SurveyType,
			"answers", dr.Outcome.Answers,
			"status", receipt.Status,
		)
	}

	if rr.Run.Submitted == 0 {
		return fmt.Errorf("no document of %s was submitted: %w", rr.Run.FileName, errors.Join(docErrs...))
	}
	if len(docErrs) > 0 {
		rr.Run.ErrorMessage = fmt.Sprintf("%d of %d documents failed", len(docErrs), len(res.Documents))
	}
	return nil
}

// prepare resolves the survey type, loads the catalog and extracts the
// answers of one document.
func (o *Orchestrator) prepare(ctx context.Context, memo *catalog.Memo, doc analysis.Document, dr *DocumentResult) (survey.SubmissionPayload, error) {
	label, err := extract.SurveyTypeLabel(doc)
	if err != nil {
		return survey.SubmissionPayload{}, err
	}
	dr.Outcome.SurveyType = label

	surveyType, err := survey.ResolveSurveyType(label)
	if err != nil {
		return survey.SubmissionPayload{}, err
	}
	dr.Outcome.SurveyTypeID = int(surveyType)

	questions, err := memo.Fetch(ctx, label)
	if err != nil {
		return survey.SubmissionPayload{}, err
	}

	answers, err := extract.Answers(doc, questions)
	if err != nil {
		return survey.SubmissionPayload{}, err
	}
	dr.Outcome.Answers = len(answers)
	return survey.BuildSubmission(surveyType, answers), nil
}

func (o *Orchestrator) recordDocument(ctx context.Context, rr *RunResult, dr DocumentResult, err error) {
	dr.Err = err
	if err == nil {
		dr.Outcome.Status = constants.DocumentStatusSubmitted
	} else {
		dr.Outcome.Status = constants.DocumentStatusFailed
		dr.Outcome.ErrorKind = ErrorKind(err)
		dr.Outcome.ErrorMessage = err.Error()

		var pe *common.PipelineError
		if errors.As(err, &pe) {
			dr.Outcome.Stage = pe.Stage
			if pe.FileName == "" {
				pe.FileName = rr.Run.FileName
			}
			if pe.SurveyType == "" {
				pe.SurveyType = dr.Outcome.SurveyType
			}
		}
		o.logger.Error("pipeline.document.failed",
			"run_id", rr.Run.ID,
			"file_name", rr.Run.FileName,
			"document", dr.Outcome.Index,
			"survey_type", dr.Outcome.SurveyType,
			"stage", dr.Outcome.Stage,
			"error", err,
		)
	}
	if rerr := o.deps.Runs.RecordDocument(context.WithoutCancel(ctx), &dr.Outcome); rerr != nil {
		o.logger.Error("pipeline.ledger.document_failed", "run_id", rr.Run.ID, "document", dr.Outcome.Index, "error", rerr)
	}
	rr.Documents = append(rr.Documents, dr)
}

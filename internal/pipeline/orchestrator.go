// Package pipeline runs one uploaded file through analysis, answer
// extraction, submission and archival, recording every step in the run ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/analysis"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
	"github.com/joseph-ayodele/survey-docparser/internal/catalog"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/lock"
	"github.com/joseph-ayodele/survey-docparser/internal/rawstore"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
	"github.com/joseph-ayodele/survey-docparser/internal/submission"
	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

// Analyzer runs the extraction model over a document URL.
type Analyzer interface {
	Analyze(ctx context.Context, modelID, documentURL string) (*analysis.Result, error)
}

// Submitter posts one survey submission.
type Submitter interface {
	Submit(ctx context.Context, payload survey.SubmissionPayload) (*submission.Receipt, error)
}

// Archiver moves a finished upload to the processed container.
type Archiver interface {
	Archive(ctx context.Context, name string) error
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Analyzer  Analyzer
	Catalog   catalog.Fetcher
	Submitter Submitter
	Archiver  Archiver
	Store     blob.Store
	Locker    lock.Locker
	Runs      repository.RunRepository
	Raw       rawstore.Store
}

// Options tune an Orchestrator.
type Options struct {
	ModelID        string
	ArchiveTimeout time.Duration // archival runs detached from run cancellation
}

// Orchestrator sequences Received → Analyzing → Extracting → Submitting →
// Archiving → Done for one file. It holds no per-run state.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = time.Minute
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}
}

// RunResult is the outcome of Process or Replay.
type RunResult struct {
	Run       entity.Run
	Documents []DocumentResult
}

// DocumentResult is the outcome of one detected document.
type DocumentResult struct {
	Outcome entity.DocumentOutcome
	Payload *survey.SubmissionPayload // set once the document reached Submitting
	Err     error
}

// Process runs the pipeline for uploads/fileName. A file claimed by another
// worker, or gone by the time it is claimed, ends SKIPPED with a nil error.
// Any failure that leaves the file in uploads is returned so the caller can
// redeliver.
func (o *Orchestrator) Process(ctx context.Context, fileName string) (*RunResult, error) {
	if !constants.IsAllowedFile(fileName) {
		return nil, common.NewAppError("UNSUPPORTED_FILE", fileName, common.ErrInvalidInput)
	}
	run := &entity.Run{FileName: fileName, Status: constants.RunStatusReceived}
	return o.execute(ctx, run, func(ctx context.Context, rr *RunResult) (*analysis.Result, error) {
		return o.analyze(ctx, rr)
	})
}

// Replay re-runs extraction and submission for a finished run from its
// stored analysis result, without calling the analysis service again.
// Runs that already submitted something are refused; those need
// reconciliation, not a second submission.
func (o *Orchestrator) Replay(ctx context.Context, runID uuid.UUID) (*RunResult, error) {
	prev, err := o.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, common.NewAppError("RUN_IN_PROGRESS", runID.String(), common.ErrConflict)
	}
	if prev.Submitted > 0 {
		return nil, common.NewAppError("RUN_ALREADY_SUBMITTED",
			fmt.Sprintf("run %s submitted %d document(s)", runID, prev.Submitted), common.ErrConflict)
	}
	rec, err := o.deps.Raw.Get(ctx, runID.String())
	if err != nil {
		return nil, err
	}
	stored, err := analysis.DecodeResult(rec.Payload)
	if err != nil {
		return nil, common.NewAppError("RAW_CORRUPT", runID.String(), fmt.Errorf("%w: %w", common.ErrValidation, err))
	}

	run := &entity.Run{FileName: prev.FileName, Status: constants.RunStatusReceived, ReplayOf: &prev.ID}
	o.logger.Info("pipeline.replay", "file_name", prev.FileName, "replay_of", prev.ID)
	return o.execute(ctx, run, func(ctx context.Context, rr *RunResult) (*analysis.Result, error) {
		o.saveRaw(ctx, rr, rec.ModelID, stored.Raw)
		return stored, nil
	})
}

type analyzeFunc func(ctx context.Context, rr *RunResult) (*analysis.Result, error)

func (o *Orchestrator) execute(ctx context.Context, run *entity.Run, analyze analyzeFunc) (*RunResult, error) {
	if err := o.deps.Runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	rr := &RunResult{Run: *run}
	ctx = common.WithRunID(ctx, run.ID.String())
	log := o.logger.With("run_id", run.ID, "file_name", run.FileName)
	start := time.Now()

	claim, err := o.deps.Locker.Claim(ctx, run.FileName)
	if errors.Is(err, lock.ErrAlreadyClaimed) {
		log.Info("pipeline.skipped", "reason", "claimed by another worker")
		rr.Run.ErrorMessage = "claimed by another worker"
		o.finish(ctx, rr, constants.RunStatusSkipped, nil)
		return rr, nil
	}
	if err != nil {
		return o.fail(ctx, rr, common.WrapError(err, "claim"))
	}
	defer func() {
		if err := o.deps.Locker.Release(context.WithoutCancel(ctx), claim); err != nil {
			log.Warn("pipeline.release.failed", "error", err)
		}
	}()

	exists, err := o.deps.Store.Exists(ctx, constants.ContainerUploads, run.FileName)
	if err != nil {
		return o.fail(ctx, rr, common.WrapError(err, "stat upload"))
	}
	if !exists {
		log.Info("pipeline.skipped", "reason", "upload no longer exists")
		rr.Run.ErrorMessage = "upload no longer exists"
		o.finish(ctx, rr, constants.RunStatusSkipped, nil)
		return rr, nil
	}
	o.checkDuplicate(ctx, rr)

	result, err := analyze(ctx, rr)
	if err != nil {
		return o.fail(ctx, rr, err)
	}
	o.logFields(ctx, rr, result)

	if err := o.processDocuments(ctx, rr, result); err != nil {
		return o.fail(ctx, rr, err)
	}

	o.setStatus(ctx, rr, constants.RunStatusArchiving)
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ArchiveTimeout)
	err = o.deps.Archiver.Archive(archiveCtx, run.FileName)
	cancel()
	if err != nil {
		o.reconcile(ctx, rr, err)
		return o.fail(ctx, rr, err)
	}

	o.finish(ctx, rr, constants.RunStatusDone, nil)
	log.Info("pipeline.done",
		"documents", rr.Run.Documents,
		"submitted", rr.Run.Submitted,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rr, nil
}

func (o *Orchestrator) analyze(ctx context.Context, rr *RunResult) (*analysis.Result, error) {
	o.setStatus(ctx, rr, constants.RunStatusAnalyzing)
	url := o.deps.Store.URL(constants.ContainerUploads, rr.Run.FileName)
	res, err := o.deps.Analyzer.Analyze(ctx, o.opts.ModelID, url)
	if err != nil {
		return nil, err
	}
	o.saveRaw(ctx, rr, o.opts.ModelID, res.Raw)
	return res, nil
}

// saveRaw keeps the analysis payload for replay. Losing it only costs the
// ability to replay, so failures are logged and the run continues.
func (o *Orchestrator) saveRaw(ctx context.Context, rr *RunResult, modelID string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	err := o.deps.Raw.Save(ctx, &rawstore.Record{
		RunID:    rr.Run.ID.String(),
		FileName: rr.Run.FileName,
		ModelID:  modelID,
		Payload:  raw,
	})
	if err != nil {
		o.logger.Warn("pipeline.raw.save_failed", "run_id", rr.Run.ID, "file_name", rr.Run.FileName, "error", err)
	}
}

func (o *Orchestrator) checkDuplicate(ctx context.Context, rr *RunResult) {
	sum, err := blob.Checksum(ctx, o.deps.Store, constants.ContainerUploads, rr.Run.FileName)
	if err != nil {
		o.logger.Warn("pipeline.checksum.failed", "run_id", rr.Run.ID, "file_name", rr.Run.FileName, "error", err)
		return
	}
	rr.Run.FileSHA256 = sum
	prior, err := o.deps.Runs.SubmittedBySHA(ctx, sum)
	if err != nil {
		o.logger.Warn("pipeline.duplicate_check.failed", "run_id", rr.Run.ID, "error", err)
		return
	}
	for _, p := range prior {
		o.logger.Warn("pipeline.duplicate_content",
			"run_id", rr.Run.ID,
			"file_name", rr.Run.FileName,
			"prior_run_id", p.ID,
			"prior_file_name", p.FileName,
			"prior_submitted", p.Submitted,
		)
	}
}

func (o *Orchestrator) logFields(ctx context.Context, rr *RunResult, res *analysis.Result) {
	if !o.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for i, doc := range res.Documents {
		doc.Walk(func(path string, f analysis.Field) {
			o.logger.Debug("pipeline.field",
				"run_id", rr.Run.ID,
				"file_name", rr.Run.FileName,
				"document", i,
				"field", path,
				"content", f.ContentOr(""),
				"confidence", f.Confidence,
			)
		})
	}
}

// reconcile records a submitted-but-not-archived file.
func (o *Orchestrator) reconcile(ctx context.Context, rr *RunResult, cause error) {
	rr.Run.NeedsReconciliation = true
	item := &entity.ReconciliationItem{
		RunID:    rr.Run.ID,
		FileName: rr.Run.FileName,
		Reason:   cause.Error(),
	}
	if err := o.deps.Runs.AddReconciliation(context.WithoutCancel(ctx), item); err != nil {
		o.logger.Error("pipeline.reconciliation.record_failed", "run_id", rr.Run.ID, "file_name", rr.Run.FileName, "error", err)
	}
	o.logger.Error("pipeline.needs_reconciliation",
		"run_id", rr.Run.ID,
		"file_name", rr.Run.FileName,
		"submitted", rr.Run.Submitted,
		"error", cause,
	)
}

func (o *Orchestrator) setStatus(ctx context.Context, rr *RunResult, status constants.RunStatus) {
	rr.Run.Status = status
	if err := o.deps.Runs.UpdateStatus(context.WithoutCancel(ctx), rr.Run.ID, status); err != nil {
		o.logger.Error("pipeline.ledger.update_failed", "run_id", rr.Run.ID, "status", status, "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, rr *RunResult, err error) (*RunResult, error) {
	var pe *common.PipelineError
	if errors.As(err, &pe) {
		if pe.FileName == "" {
			pe.FileName = rr.Run.FileName
		}
		o.logger.Error("pipeline.failed",
			"run_id", rr.Run.ID,
			"file_name", rr.Run.FileName,
			"stage", pe.Stage,
			"survey_type", pe.SurveyType,
			"status", pe.Status,
			"error", err,
		)
	} else {
		o.logger.Error("pipeline.failed", "run_id", rr.Run.ID, "file_name", rr.Run.FileName, "error", err)
	}
	o.finish(ctx, rr, constants.RunStatusFailed, err)
	return rr, err
}

func (o *Orchestrator) finish(ctx context.Context, rr *RunResult, status constants.RunStatus, err error) {
	rr.Run.Status = status
	if err != nil {
		rr.Run.ErrorKind = ErrorKind(err)
		rr.Run.ErrorMessage = err.Error()
	}
	if ferr := o.deps.Runs.FinishRun(context.WithoutCancel(ctx), &rr.Run); ferr != nil {
		o.logger.Error("pipeline.ledger.finish_failed", "run_id", rr.Run.ID, "status", status, "error", ferr)
	}
}

// ErrorKind names the pipeline error kind carried by err.
func ErrorKind(err error) string {
	var pe *common.PipelineError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Kind.Error()
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return common.ErrInternal.Error()
	}
}

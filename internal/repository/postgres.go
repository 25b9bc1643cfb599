package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
)

// Postgres ledger. The schema is owned by cmd/migrate.
type pgRunRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresRunRepository(pool *pgxpool.Pool, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &pgRunRepo{pool: pool, log: log}
}

func (r *pgRunRepo) Ping(ctx context.Context) error {
	return HealthCheck(ctx, r.pool, 0, r.log)
}

func (r *pgRunRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *pgRunRepo) CreateRun(ctx context.Context, run *entity.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	var replay *string
	if run.ReplayOf != nil {
		s := run.ReplayOf.String()
		replay = &s
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pipeline_run (id, file_name, file_sha256, status, replay_of)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		run.ID.String(), run.FileName, run.FileSHA256, string(run.Status), replay,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		r.log.Error("pipeline_run create failed", "run_id", run.ID, "error", err)
		return dbErr("create run", err)
	}
	return nil
}

func (r *pgRunRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pipeline_run SET status = $1, updated_at = now() WHERE id = $2`, string(status), id.String())
	if err != nil {
		return dbErr("update status", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewAppError("NOT_FOUND", "run "+id.String(), common.ErrNotFound)
	}
	return nil
}

func (r *pgRunRepo) FinishRun(ctx context.Context, run *entity.Run) error {
	var finished time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE pipeline_run
		SET status = $1, error_kind = $2, error_message = $3, documents = $4, submitted = $5,
		    needs_reconciliation = $6, file_sha256 = $7, updated_at = now(), finished_at = now()
		WHERE id = $8
		RETURNING finished_at`,
		string(run.Status), run.ErrorKind, run.ErrorMessage, run.Documents, run.Submitted,
		run.NeedsReconciliation, run.FileSHA256, run.ID.String(),
	).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewAppError("NOT_FOUND", "run "+run.ID.String(), common.ErrNotFound)
	}
	if err != nil {
		r.log.Error("pipeline_run finish failed", "run_id", run.ID, "error", err)
		return dbErr("finish run", err)
	}
	run.UpdatedAt = finished
	run.FinishedAt = &finished
	return nil
}

const pgRunColumns = `id::text, file_name, file_sha256, status, error_kind, error_message, documents, submitted,
	needs_reconciliation, replay_of::text, created_at, updated_at, finished_at`

func (r *pgRunRepo) GetRun(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM pipeline_run WHERE id = $1`, id.String())
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewAppError("RUN_NOT_FOUND", id.String(), common.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get run", err)
	}
	return run, nil
}

func (r *pgRunRepo) ListRuns(ctx context.Context, f entity.RunFilter) ([]entity.Run, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.FileName != "" {
		args = append(args, f.FileName)
		where = append(where, fmt.Sprintf("file_name = $%d", len(args)))
	}
	q := `SELECT ` + pgRunColumns + ` FROM pipeline_run`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(f.Limit))
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	return r.queryRuns(ctx, q, args...)
}

func (r *pgRunRepo) SubmittedBySHA(ctx context.Context, sha string) ([]entity.Run, error) {
	return r.queryRuns(ctx,
		`SELECT `+pgRunColumns+` FROM pipeline_run WHERE file_sha256 = $1 AND submitted > 0 ORDER BY created_at`, sha)
}

func (r *pgRunRepo) queryRuns(ctx context.Context, q string, args ...any) ([]entity.Run, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dbErr("list runs", err)
	}
	defer rows.Close()

	var out []entity.Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, dbErr("scan run", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *pgRunRepo) RecordDocument(ctx context.Context, d *entity.DocumentOutcome) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO run_document (run_id, idx, doc_type, survey_type, survey_type_id, answers, status,
		                          stage, error_kind, error_message, submission_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, idx) DO UPDATE SET
			doc_type = EXCLUDED.doc_type, survey_type = EXCLUDED.survey_type,
			survey_type_id = EXCLUDED.survey_type_id, answers = EXCLUDED.answers, status = EXCLUDED.status,
			stage = EXCLUDED.stage, error_kind = EXCLUDED.error_kind, error_message = EXCLUDED.error_message,
			submission_status = EXCLUDED.submission_status
		RETURNING created_at`,
		d.RunID.String(), d.Index, d.DocType, d.SurveyType, d.SurveyTypeID, d.Answers, string(d.Status),
		d.Stage, d.ErrorKind, d.ErrorMessage, d.SubmissionStatus,
	).Scan(&d.CreatedAt)
	if err != nil {
		return dbErr("record document", err)
	}
	return nil
}

func (r *pgRunRepo) ListDocuments(ctx context.Context, runID uuid.UUID) ([]entity.DocumentOutcome, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id::text, idx, doc_type, survey_type, survey_type_id, answers, status, stage,
		       error_kind, error_message, submission_status, created_at
		FROM run_document WHERE run_id = $1 ORDER BY idx`, runID.String())
	if err != nil {
		return nil, dbErr("list documents", err)
	}
	defer rows.Close()

	var out []entity.DocumentOutcome
	for rows.Next() {
		var d entity.DocumentOutcome
		var id, status string
		if err := rows.Scan(&id, &d.Index, &d.DocType, &d.SurveyType, &d.SurveyTypeID, &d.Answers, &status,
			&d.Stage, &d.ErrorKind, &d.ErrorMessage, &d.SubmissionStatus, &d.CreatedAt); err != nil {
			return nil, dbErr("scan document", err)
		}
		d.RunID, _ = uuid.Parse(id)
		d.Status = constants.DocumentStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *pgRunRepo) AddReconciliation(ctx context.Context, item *entity.ReconciliationItem) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reconciliation_item (run_id, file_name, reason)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		item.RunID.String(), item.FileName, item.Reason,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return dbErr("add reconciliation", err)
	}
	r.log.Warn("reconciliation_item added", "run_id", item.RunID, "file_name", item.FileName, "reason", item.Reason)
	return nil
}

func (r *pgRunRepo) ListReconciliation(ctx context.Context, includeResolved bool) ([]entity.ReconciliationItem, error) {
	q := `SELECT id, run_id::text, file_name, reason, created_at, resolved_at FROM reconciliation_item`
	if !includeResolved {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, dbErr("list reconciliation", err)
	}
	defer rows.Close()

	var out []entity.ReconciliationItem
	for rows.Next() {
		var it entity.ReconciliationItem
		var runID string
		if err := rows.Scan(&it.ID, &runID, &it.FileName, &it.Reason, &it.CreatedAt, &it.ResolvedAt); err != nil {
			return nil, dbErr("scan reconciliation", err)
		}
		it.RunID, _ = uuid.Parse(runID)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *pgRunRepo) ResolveReconciliation(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reconciliation_item SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return dbErr("resolve reconciliation", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("reconciliation item %d", id), common.ErrNotFound)
	}
	return nil
}

func scanPgRun(s pgx.Row) (*entity.Run, error) {
	var run entity.Run
	var id, status string
	var replay *string
	if err := s.Scan(&id, &run.FileName, &run.FileSHA256, &status, &run.ErrorKind, &run.ErrorMessage,
		&run.Documents, &run.Submitted, &run.NeedsReconciliation, &replay,
		&run.CreatedAt, &run.UpdatedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	run.ID = parsed
	run.Status = constants.RunStatus(status)
	if replay != nil {
		if rid, err := uuid.Parse(*replay); err == nil {
			run.ReplayOf = &rid
		}
	}
	return &run, nil
}

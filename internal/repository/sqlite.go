package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pipeline_run (
	id                   TEXT PRIMARY KEY,
	file_name            TEXT NOT NULL,
	file_sha256          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	error_kind           TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	documents            INTEGER NOT NULL DEFAULT 0,
	submitted            INTEGER NOT NULL DEFAULT 0,
	needs_reconciliation INTEGER NOT NULL DEFAULT 0,
	replay_of            TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	finished_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_pipeline_run_file ON pipeline_run(file_name, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_run_sha ON pipeline_run(file_sha256);

CREATE TABLE IF NOT EXISTS run_document (
	run_id            TEXT NOT NULL REFERENCES pipeline_run(id) ON DELETE CASCADE,
	idx               INTEGER NOT NULL,
	doc_type          TEXT NOT NULL DEFAULT '',
	survey_type       TEXT NOT NULL DEFAULT '',
	survey_type_id    INTEGER NOT NULL DEFAULT 0,
	answers           INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	stage             TEXT NOT NULL DEFAULT '',
	error_kind        TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	submission_status INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS reconciliation_item (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES pipeline_run(id) ON DELETE CASCADE,
	file_name   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	resolved_at TEXT
);
`

// OpenSQLite opens (and creates) the ledger database at path. ":memory:" is
// accepted for tests and one-shot batch runs.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if memory {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	logger.Info("sqlite ledger ready", "path", path)
	return db, nil
}

// sqliteDSN carries the per-connection pragmas so every pooled
// connection gets them, not just the first one.
func sqliteDSN(path string, memory bool) string {
	pragmas := []string{"_pragma=busy_timeout(10000)", "_pragma=foreign_keys(1)"}
	if !memory {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

type sqliteRunRepo struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteRunRepository wraps a database opened with OpenSQLite.
func NewSQLiteRunRepository(db *sql.DB, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &sqliteRunRepo{db: db, log: log}
}

func (r *sqliteRunRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return dbErr("ping", err)
	}
	return nil
}

func (r *sqliteRunRepo) Close() error {
	return r.db.Close()
}

func (r *sqliteRunRepo) CreateRun(ctx context.Context, run *entity.Run) error {
	now := time.Now().UTC()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt, run.UpdatedAt = now, now

	var replay any
	if run.ReplayOf != nil {
		replay = run.ReplayOf.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_run (id, file_name, file_sha256, status, replay_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.FileName, run.FileSHA256, string(run.Status), replay, fmtTime(now), fmtTime(now))
	if err != nil {
		r.log.Error("pipeline_run create failed", "run_id", run.ID, "error", err)
		return dbErr("create run", err)
	}
	return nil
}

func (r *sqliteRunRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.RunStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_run SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now().UTC()), id.String())
	if err != nil {
		return dbErr("update status", err)
	}
	return mustAffect(res, "run", id.String())
}

func (r *sqliteRunRepo) FinishRun(ctx context.Context, run *entity.Run) error {
	now := time.Now().UTC()
	run.UpdatedAt = now
	run.FinishedAt = &now
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_run
		SET status = ?, error_kind = ?, error_message = ?, documents = ?, submitted = ?,
		    needs_reconciliation = ?, file_sha256 = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), run.ErrorKind, run.ErrorMessage, run.Documents, run.Submitted,
		boolInt(run.NeedsReconciliation), run.FileSHA256, fmtTime(now), fmtTime(now), run.ID.String())
	if err != nil {
		r.log.Error("pipeline_run finish failed", "run_id", run.ID, "error", err)
		return dbErr("finish run", err)
	}
	return mustAffect(res, "run", run.ID.String())
}

const sqliteRunColumns = `id, file_name, file_sha256, status, error_kind, error_message, documents, submitted,
	needs_reconciliation, replay_of, created_at, updated_at, finished_at`

func (r *sqliteRunRepo) GetRun(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM pipeline_run WHERE id = ?`, id.String())
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("RUN_NOT_FOUND", id.String(), common.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get run", err)
	}
	return run, nil
}

func (r *sqliteRunRepo) ListRuns(ctx context.Context, f entity.RunFilter) ([]entity.Run, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.FileName != "" {
		where = append(where, "file_name = ?")
		args = append(args, f.FileName)
	}
	q := `SELECT ` + sqliteRunColumns + ` FROM pipeline_run`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, listLimit(f.Limit))
	return r.queryRuns(ctx, q, args...)
}

func (r *sqliteRunRepo) SubmittedBySHA(ctx context.Context, sha string) ([]entity.Run, error) {
	return r.queryRuns(ctx,
		`SELECT `+sqliteRunColumns+` FROM pipeline_run WHERE file_sha256 = ? AND submitted > 0 ORDER BY created_at`, sha)
}

func (r *sqliteRunRepo) queryRuns(ctx context.Context, q string, args ...any) ([]entity.Run, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr("list runs", err)
	}
	defer rows.Close()

	var out []entity.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, dbErr("scan run", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *sqliteRunRepo) RecordDocument(ctx context.Context, d *entity.DocumentOutcome) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_document (run_id, idx, doc_type, survey_type, survey_type_id, answers, status,
		                          stage, error_kind, error_message, submission_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, idx) DO UPDATE SET
			doc_type = excluded.doc_type, survey_type = excluded.survey_type,
			survey_type_id = excluded.survey_type_id, answers = excluded.answers, status = excluded.status,
			stage = excluded.stage, error_kind = excluded.error_kind, error_message = excluded.error_message,
			submission_status = excluded.submission_status`,
		d.RunID.String(), d.Index, d.DocType, d.SurveyType, d.SurveyTypeID, d.Answers, string(d.Status),
		d.Stage, d.ErrorKind, d.ErrorMessage, d.SubmissionStatus, fmtTime(d.CreatedAt))
	if err != nil {
		return dbErr("record document", err)
	}
	return nil
}

func (r *sqliteRunRepo) ListDocuments(ctx context.Context, runID uuid.UUID) ([]entity.DocumentOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, idx, doc_type, survey_type, survey_type_id, answers, status, stage,
		       error_kind, error_message, submission_status, created_at
		FROM run_document WHERE run_id = ? ORDER BY idx`, runID.String())
	if err != nil {
		return nil, dbErr("list documents", err)
	}
	defer rows.Close()

	var out []entity.DocumentOutcome
	for rows.Next() {
		var d entity.DocumentOutcome
		var id, status, created string
		if err := rows.Scan(&id, &d.Index, &d.DocType, &d.SurveyType, &d.SurveyTypeID, &d.Answers, &status,
			&d.Stage, &d.ErrorKind, &d.ErrorMessage, &d.SubmissionStatus, &created); err != nil {
			return nil, dbErr("scan document", err)
		}
		d.RunID, _ = uuid.Parse(id)
		d.Status = constants.DocumentStatus(status)
		d.CreatedAt = parseTime(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *sqliteRunRepo) AddReconciliation(ctx context.Context, item *entity.ReconciliationItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciliation_item (run_id, file_name, reason, created_at) VALUES (?, ?, ?, ?)`,
		item.RunID.String(), item.FileName, item.Reason, fmtTime(item.CreatedAt))
	if err != nil {
		return dbErr("add reconciliation", err)
	}
	item.ID, _ = res.LastInsertId()
	r.log.Warn("reconciliation_item added", "run_id", item.RunID, "file_name", item.FileName, "reason", item.Reason)
	return nil
}

func (r *sqliteRunRepo) ListReconciliation(ctx context.Context, includeResolved bool) ([]entity.ReconciliationItem, error) {
	q := `SELECT id, run_id, file_name, reason, created_at, resolved_at FROM reconciliation_item`
	if !includeResolved {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, dbErr("list reconciliation", err)
	}
	defer rows.Close()

	var out []entity.ReconciliationItem
	for rows.Next() {
		var it entity.ReconciliationItem
		var runID, created string
		var resolved sql.NullString
		if err := rows.Scan(&it.ID, &runID, &it.FileName, &it.Reason, &created, &resolved); err != nil {
			return nil, dbErr("scan reconciliation", err)
		}
		it.RunID, _ = uuid.Parse(runID)
		it.CreatedAt = parseTime(created)
		it.ResolvedAt = parseNullTime(resolved)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *sqliteRunRepo) ResolveReconciliation(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_item SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return dbErr("resolve reconciliation", err)
	}
	return mustAffect(res, "reconciliation item", fmt.Sprint(id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(s rowScanner) (*entity.Run, error) {
	var run entity.Run
	var id, status, created, updated string
	var needs int
	var replay, finished sql.NullString
	if err := s.Scan(&id, &run.FileName, &run.FileSHA256, &status, &run.ErrorKind, &run.ErrorMessage,
		&run.Documents, &run.Submitted, &needs, &replay, &created, &updated, &finished); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	run.ID = parsed
	run.Status = constants.RunStatus(status)
	run.NeedsReconciliation = needs != 0
	if replay.Valid {
		if rid, err := uuid.Parse(replay.String); err == nil {
			run.ReplayOf = &rid
		}
	}
	run.CreatedAt = parseTime(created)
	run.UpdatedAt = parseTime(updated)
	run.FinishedAt = parseNullTime(finished)
	return &run, nil
}

// fixed width so TEXT ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("rows affected", err)
	}
	if n == 0 {
		return common.NewAppError("NOT_FOUND", what+" "+id, common.ErrNotFound)
	}
	return nil
}

func dbErr(op string, err error) error {
	return common.NewAppError("DB_ERROR", op, fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

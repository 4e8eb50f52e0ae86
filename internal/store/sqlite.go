package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	dry_run    INTEGER NOT NULL DEFAULT 0,
	stage      TEXT NOT NULL DEFAULT '',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reconciled_markers (
	hashed_email TEXT NOT NULL,
	stage        TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	marked_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (hashed_email, stage)
);

CREATE TABLE IF NOT EXISTS skipped_records (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	deal_id    TEXT NOT NULL,
	stage      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_skipped_records_run_id ON skipped_records(run_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, dryRun bool, stage string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, dry_run, stage, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), dryRun, stage, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		DryRun:    dryRun,
		Stage:     stage,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.UploadResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMessage(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

const sqliteRunColumns = `id, status, dry_run, stage, result, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// sqliteMaxVars stays below SQLite's default bound-parameter limit.
const sqliteMaxVars = 500

func (s *SQLiteStore) ReconciledKeys(ctx context.Context, keys []model.ReconciledKey) (map[model.ReconciledKey]bool, error) {
	want := make(map[model.ReconciledKey]bool, len(keys))
	emails := make([]any, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
		if !seen[k.HashedEmail] {
			seen[k.HashedEmail] = true
			emails = append(emails, k.HashedEmail)
		}
	}

	found := make(map[model.ReconciledKey]bool)
	for start := 0; start < len(emails); start += sqliteMaxVars {
		chunk := emails[start:min(start+sqliteMaxVars, len(emails))]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := s.db.QueryContext(ctx,
			`SELECT hashed_email, stage FROM reconciled_markers WHERE hashed_email IN (`+placeholders+`)`,
			chunk...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: reconciled keys")
		}
		for rows.Next() {
			var email, stage string
			if err := rows.Scan(&email, &stage); err != nil {
				_ = rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan reconciled key")
			}
			k := model.ReconciledKey{HashedEmail: email, Stage: parseStage(stage)}
			if want[k] {
				found[k] = true
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: reconciled keys iterate")
		}
	}
	return found, nil
}

func (s *SQLiteStore) MarkReconciled(ctx context.Context, runID string, keys []model.ReconciledKey) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark reconciled: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reconciled_markers (hashed_email, stage, run_id, marked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hashed_email, stage) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark reconciled: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.HashedEmail, k.Stage.String(), runID, now); err != nil {
			return eris.Wrap(err, "sqlite: mark reconciled")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: mark reconciled: commit")
}

func (s *SQLiteStore) RecordSkipped(ctx context.Context, runID string, records []model.SkippedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: record skipped: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO skipped_records (id, run_id, deal_id, stage, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, r.DealID, r.Stage.String(), r.Reason, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record skipped deal %s", r.DealID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: record skipped: commit")
}

func (s *SQLiteStore) ListSkipped(ctx context.Context, runID string) ([]model.SkippedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT deal_id, stage, reason FROM skipped_records WHERE run_id = ? ORDER BY created_at, deal_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list skipped")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SkippedRecord
	for rows.Next() {
		var r model.SkippedRecord
		var stage string
		if err := rows.Scan(&r.DealID, &stage, &r.Reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan skipped")
		}
		r.Stage = parseStage(stage)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list skipped iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.DryRun, &r.Stage, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid && resultJSON.String != "" {
		r.Result = &model.UploadResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/db"
	"github.com/sells-group/leadsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	dry_run    BOOLEAN NOT NULL DEFAULT false,
	stage      TEXT NOT NULL DEFAULT '',
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reconciled_markers (
	hashed_email TEXT NOT NULL,
	stage        TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	marked_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (hashed_email, stage)
);

CREATE TABLE IF NOT EXISTS skipped_records (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	deal_id    TEXT NOT NULL,
	stage      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_skipped_records_run_id ON skipped_records(run_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, dryRun bool, stage string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, dry_run, stage, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(model.RunStatusRunning), dryRun, stage, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.UploadResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMessage(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, status, dry_run, stage, result, error, created_at, updated_at`

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var resultNull *[]byte
	if err := row.Scan(&r.ID, &r.Status, &r.DryRun, &r.Stage, &resultNull, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if resultNull != nil {
		r.Result = &model.UploadResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ReconciledKeys(ctx context.Context, keys []model.ReconciledKey) (map[model.ReconciledKey]bool, error) {
	found := make(map[model.ReconciledKey]bool)
	if len(keys) == 0 {
		return found, nil
	}
	want := make(map[model.ReconciledKey]bool, len(keys))
	emails := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
		if !seen[k.HashedEmail] {
			seen[k.HashedEmail] = true
			emails = append(emails, k.HashedEmail)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT hashed_email, stage FROM reconciled_markers WHERE hashed_email = ANY($1)`,
		emails,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reconciled keys")
	}
	defer rows.Close()

	for rows.Next() {
		var email, stage string
		if err := rows.Scan(&email, &stage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reconciled key")
		}
		k := model.ReconciledKey{HashedEmail: email, Stage: parseStage(stage)}
		if want[k] {
			found[k] = true
		}
	}
	return found, eris.Wrap(rows.Err(), "postgres: reconciled keys iterate")
}

func (s *PostgresStore) MarkReconciled(ctx context.Context, runID string, keys []model.ReconciledKey) error {
	now := time.Now().UTC()
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k.HashedEmail, k.Stage.String(), runID, now}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "reconciled_markers",
		Columns:      []string{"hashed_email", "stage", "run_id", "marked_at"},
		ConflictKeys: []string{"hashed_email", "stage"},
		UpdateCols:   []string{},
	}, rows)
	return eris.Wrap(err, "postgres: mark reconciled")
}

func (s *PostgresStore) RecordSkipped(ctx context.Context, runID string, records []model.SkippedRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{uuid.New().String(), runID, r.DealID, r.Stage.String(), r.Reason, now}
	}
	_, err := db.CopyFrom(ctx, s.pool, "skipped_records",
		[]string{"id", "run_id", "deal_id", "stage", "reason", "created_at"}, rows)
	return eris.Wrap(err, "postgres: record skipped")
}

func (s *PostgresStore) ListSkipped(ctx context.Context, runID string) ([]model.SkippedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT deal_id, stage, reason FROM skipped_records WHERE run_id = $1 ORDER BY created_at, deal_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list skipped")
	}
	defer rows.Close()

	var out []model.SkippedRecord
	for rows.Next() {
		var r model.SkippedRecord
		var stage string
		if err := rows.Scan(&r.DealID, &stage, &r.Reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan skipped")
		}
		r.Stage = parseStage(stage)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list skipped iterate")
}

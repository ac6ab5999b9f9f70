package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/lokesh-guntreddi/oceanographic/internal/domain/runs"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
  id          UUID        PRIMARY KEY,
  kind        TEXT        NOT NULL,
  status      TEXT        NOT NULL,
  error_kind  TEXT        NOT NULL DEFAULT '-',
  message     TEXT        NOT NULL DEFAULT '',
  duration_ms BIGINT      NOT NULL DEFAULT 0,
  created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created ON pipeline_runs (created_at);`

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates the journal table when missing.
func (r *RunRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, createRunsTable)
	return err
}

// Save inserts or updates a run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO pipeline_runs
  (id, kind, status, error_kind, message, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status,
  error_kind=EXCLUDED.error_kind,
  message=EXCLUDED.message,
  duration_ms=EXCLUDED.duration_ms;
`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(run.ID), stringOrDash(string(run.Kind)), stringOrDash(string(run.Status)),
		stringOrDash(run.ErrorKind), run.Message, run.DurationMS, createdAt,
	)
	return err
}

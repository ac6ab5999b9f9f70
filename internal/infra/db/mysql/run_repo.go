package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/lokesh-guntreddi/oceanographic/internal/domain/runs"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
  id          VARCHAR(36)  NOT NULL PRIMARY KEY,
  kind        VARCHAR(16)  NOT NULL,
  status      VARCHAR(16)  NOT NULL,
  error_kind  VARCHAR(32)  NOT NULL DEFAULT '-',
  message     TEXT         NOT NULL,
  duration_ms BIGINT       NOT NULL DEFAULT 0,
  created_at  DATETIME(3)  NOT NULL,
  INDEX idx_pipeline_runs_created (created_at)
)`

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

// Save inserts a run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO pipeline_runs
  (id, kind, status, error_kind, message, duration_ms, created_at)
VALUES (?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  status=VALUES(status), error_kind=VALUES(error_kind), message=VALUES(message), duration_ms=VALUES(duration_ms);
`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(run.ID), stringOrDash(string(run.Kind)), stringOrDash(string(run.Status)),
		stringOrDash(run.ErrorKind), run.Message, run.DurationMS, createdAt.UTC(),
	)
	return err
}

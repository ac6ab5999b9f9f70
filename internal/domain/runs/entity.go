package runs

import "time"

// RunID identifier type
type RunID string

// Kind of pipeline pass.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindExport  Kind = "export"
)

// Status enum
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Run is one pass through the pipeline, kept for operations only. It never
// holds analysis content or artifact locations.
type Run struct {
	ID         RunID     `json:"id"`
	Kind       Kind      `json:"kind"`
	Status     Status    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

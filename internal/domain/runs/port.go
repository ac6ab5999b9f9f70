package runs

import "context"

// Repository port for the run journal
type Repository interface {
	Save(ctx context.Context, r *Run) error
}

// Nop discards runs; used when no database is configured.
type Nop struct{}

func (Nop) Save(context.Context, *Run) error { return nil }

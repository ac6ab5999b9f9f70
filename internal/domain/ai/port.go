package ai

import "context"

// Assistant answers free-text questions from the knowledge-base assistant.
type Assistant interface {
	Chat(ctx context.Context, message string) (string, error)
}

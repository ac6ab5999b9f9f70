package ai

import (
	"context"
	"strings"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/ai"
)

type Service struct {
	client ai.Assistant
}

func NewService(client ai.Assistant) *Service {
	return &Service{client: client}
}

// Chat forwards one trimmed user message to the assistant.
func (s *Service) Chat(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ai.ErrEmptyMessage
	}
	return s.client.Chat(ctx, message)
}

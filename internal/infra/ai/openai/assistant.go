package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/ai"
	"github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
)

// AssistantOptions configure an AssistantClient.
type AssistantOptions struct {
	APIKey string
	// APIKeyHeader sends the key in this header instead of "Authorization: Bearer".
	APIKeyHeader string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// AssistantClient proxies chat messages to a managed assistant exposing an
// OpenAI-compatible chat completions endpoint.
type AssistantClient struct {
	*openai.Client
	Model   string
	Timeout time.Duration
}

var _ ai.Assistant = (*AssistantClient)(nil)

func NewAssistantClient(opts AssistantOptions) *AssistantClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.APIKeyHeader != "" {
		// copy so the caller's client is not mutated
		clone := *hc
		base := clone.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		clone.Transport = &headerTransport{base: base, header: opts.APIKeyHeader, value: opts.APIKey}
		hc = &clone
	}
	cfg.HTTPClient = hc

	c := &AssistantClient{Client: openai.NewClientWithConfig(cfg), Model: opts.Model, Timeout: opts.Timeout}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

func (c *AssistantClient) Chat(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ai.ErrEmptyMessage
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	resp, err := c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErr.Message)
		}
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", fish.ErrExternalService)
	}
	return resp.Choices[0].Message.Content, nil
}

type headerTransport struct {
	base   http.RoundTripper
	header string
	value  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Del("Authorization")
	r.Header.Set(t.header, t.value)
	return t.base.RoundTrip(r)
}

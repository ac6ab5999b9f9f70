package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/ai/prompt"
)

const (
	maxTokens      = 2048
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 60 * time.Second
)

// ResponseFormat selects how strictly the endpoint is asked to shape its reply.
type ResponseFormat string

const (
	FormatJSONSchema ResponseFormat = "json_schema"
	FormatJSONObject ResponseFormat = "json_object"
	FormatText       ResponseFormat = "text"
)

// Options configure a Client. Zero values fall back to defaults.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	ResponseFormat ResponseFormat
	HTTPClient     *http.Client
}

// Client is the fish image analyzer backed by an OpenAI-compatible
// multimodal chat endpoint.
type Client struct {
	*openai.Client
	Model   string
	Timeout time.Duration
	Format  ResponseFormat
}

var _ fish.Analyzer = (*Client)(nil)

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	c := &Client{
		Client:  openai.NewClientWithConfig(cfg),
		Model:   opts.Model,
		Timeout: opts.Timeout,
		Format:  opts.ResponseFormat,
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Format == "" {
		c.Format = FormatJSONSchema
	}
	return c
}

// AnalyzeImage sends the stored image with the extraction prompt and parses
// the reply into a normalized record. One call per invocation, no retries.
func (c *Client) AnalyzeImage(ctx context.Context, img fish.UploadedImage) (fish.AnalysisRecord, error) {
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return fish.AnalysisRecord{}, fmt.Errorf("%w: read image %s: %v", fish.ErrStorage, img.Filename, err)
	}

	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	dataURI := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	text, err := c.complete(ctx, dataURI)
	if err != nil {
		return fish.AnalysisRecord{}, err
	}

	raw, err := prompt.ExtractJSONObject(text)
	if err != nil {
		slog.Warn("model reply had no JSON object", "model", c.Model, "reply_len", len(text))
		return fish.AnalysisRecord{}, fmt.Errorf("%w: %v", fish.ErrMalformedResponse, err)
	}
	return fish.DecodeRecord(raw)
}

func (c *Client) complete(ctx context.Context, dataURI string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt.GetUserPrompt()},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI, Detail: openai.ImageURLDetailAuto},
					},
				},
			},
		},
	}
	// reasoning models (o1/o3/o4/gpt-5*) reject max_tokens
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}
	switch c.Format {
	case FormatJSONSchema:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   prompt.SchemaName,
				Schema: prompt.Schema(),
				Strict: true,
			},
		}
	case FormatJSONObject:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", fish.ErrMalformedResponse)
	}
	slog.Debug("vision completion done", "model", c.Model, "duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// classify maps client errors onto the pipeline's error kinds. The upstream
// message is kept verbatim.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", fish.ErrExternalService, fish.ErrTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s (status %d)", fish.ErrExternalService, apiErr.Message, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v (status %d)", fish.ErrExternalService, reqErr.Err, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", fish.ErrExternalService, err)
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

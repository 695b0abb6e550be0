// Package openai wraps the OpenAI chat completions API behind a narrow
// interface used as the AI router's fallback provider.
package openai

import (
	"context"
	"errors"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
)

// ChatService is the subset of the SDK used here. It lets tests run without
// calling the real API.
type ChatService interface {
	New(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Client defines the OpenAI operations used by the AI router.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single-turn completion request.
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
}

// ChatResponse carries the first choice and token usage.
type ChatResponse struct {
	ID           string
	Model        string
	Text         string
	FinishReason string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Compile-time interface check
var _ Client = (*sdkClient)(nil)

type sdkClient struct {
	chat ChatService
}

// NewClient creates a client backed by the SDK with SDK retries disabled.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	c := oai.NewClient(opts...)
	return &sdkClient{chat: c.Chat.Completions}
}

// NewWithService wraps an existing ChatService.
func NewWithService(chat ChatService) Client {
	return &sdkClient{chat: chat}
}

func (c *sdkClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, oai.SystemMessage(req.System))
	}
	msgs = append(msgs, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Messages: oai.F(msgs),
		Model:    oai.F(oai.ChatModel(req.Model)),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.F(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = oai.F(*req.Temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

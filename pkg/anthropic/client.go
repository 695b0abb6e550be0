// Package anthropic wraps the Claude Messages API behind a single-prompt
// completion interface used as the AI router's primary provider.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// DefaultCacheTTL is used for the system prompt breakpoint when a request
// sets a system prompt without a TTL.
const DefaultCacheTTL = "5m"

// MessageService is the subset of the SDK used here.
type MessageService interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client defines the Anthropic operations used by the AI router.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// CompletionRequest is one user prompt with an optional cached system prompt.
type CompletionRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	CacheTTL    string // "5m" or "1h"; empty uses DefaultCacheTTL
	Prompt      string
	Temperature *float64
}

// Completion is the concatenated text of a response plus its token usage.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage tracks token consumption, including prompt cache traffic.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

var _ Client = (*client)(nil)

type client struct {
	messages MessageService
}

// NewClient creates an SDK-backed client. SDK retries are disabled so the
// caller's retry policy is the only one in effect.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	c := sdk.NewClient(opts...)
	return &client{messages: &c.Messages}
}

// NewWithService wraps an existing MessageService.
func NewWithService(svc MessageService) Client {
	return &client{messages: svc}
}

func (c *client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, eris.New("anthropic: empty prompt")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{systemBlock(req.System, req.CacheTTL)}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       strings.TrimSpace(text.String()),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}, nil
}

// systemBlock marks the system prompt as a cache breakpoint. Narration and
// advice prompts reuse the same preamble across many calls.
func systemBlock(text, ttl string) sdk.TextBlockParam {
	if ttl == "" {
		ttl = DefaultCacheTTL
	}
	cc := sdk.NewCacheControlEphemeralParam()
	cc.TTL = sdk.CacheControlEphemeralTTL(ttl)
	return sdk.TextBlockParam{Text: text, CacheControl: cc}
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

package ai

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/cost"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/pkg/anthropic"
	"github.com/sells-group/pulse/pkg/openai"
)

// Provider generates text for a rendered prompt.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// AnthropicProvider adapts an anthropic.Client.
type AnthropicProvider struct {
	Client    anthropic.Client
	ModelID   string
	MaxTokens int64
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.ModelID }

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	resp, err := p.Client.Complete(ctx, anthropic.CompletionRequest{
		Model:     p.ModelID,
		MaxTokens: pick(req.MaxTokens, p.MaxTokens),
		System:    req.System,
		Prompt:    req.render(),
	})
	if err != nil {
		return nil, classify(err, anthropic.StatusCode(err))
	}
	text := resp.Text
	if text == "" {
		return nil, eris.New("ai: anthropic returned no text")
	}
	return &Completion{
		Content:  text,
		Provider: p.Name(),
		Model:    p.ModelID,
		Usage: cost.Usage{
			Input:      resp.Usage.Input,
			Output:     resp.Usage.Output,
			CacheWrite: resp.Usage.CacheWrite,
			CacheRead:  resp.Usage.CacheRead,
		},
	}, nil
}

// OpenAIProvider adapts an openai.Client.
type OpenAIProvider struct {
	Client    openai.Client
	ModelID   string
	MaxTokens int64
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Model implements Provider.
func (p *OpenAIProvider) Model() string { return p.ModelID }

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	resp, err := p.Client.Complete(ctx, openai.ChatRequest{
		Model:     p.ModelID,
		System:    req.System,
		Prompt:    req.render(),
		MaxTokens: pick(req.MaxTokens, p.MaxTokens),
	})
	if err != nil {
		return nil, classify(err, openai.StatusCode(err))
	}
	if resp.Text == "" {
		return nil, eris.New("ai: openai returned no text")
	}
	return &Completion{
		Content:  resp.Text,
		Provider: p.Name(),
		Model:    p.ModelID,
		Usage: cost.Usage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classify marks retryable provider responses so the guard retries them.
func classify(err error, status int) error {
	if resilience.IsTransientStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}

func pick(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

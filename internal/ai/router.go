// Package ai routes text-generation requests across AI providers. Each
// provider call is rate limited, circuit broken, timed out and retried;
// when one provider fails the next is tried.
package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/cost"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/internal/telemetry"
	"github.com/sells-group/pulse/pkg/anthropic"
	"github.com/sells-group/pulse/pkg/openai"
)

// ErrNoProviders is returned by Route when no provider is configured.
var ErrNoProviders = eris.New("ai: no providers configured")

// Request is a provider-neutral generation request.
type Request struct {
	Prompt string
	// Context is appended to the prompt as indented JSON.
	Context   map[string]any
	System    string
	MaxTokens int64
}

func (r Request) render() string {
	if len(r.Context) == 0 {
		return r.Prompt
	}
	b, err := json.MarshalIndent(r.Context, "", "  ")
	if err != nil {
		return r.Prompt
	}
	return r.Prompt + "\n\nContext:\n" + string(b)
}

// Completion is the generated text plus attribution.
type Completion struct {
	Content  string     `json:"content"`
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	CostUSD  float64    `json:"cost_usd"`
	Usage    cost.Usage `json:"-"`
}

// Generator is what callers outside this package depend on.
type Generator interface {
	Route(ctx context.Context, req Request) (*Completion, error)
}

// Binding pairs a provider with the guard its calls run under.
type Binding struct {
	Provider Provider
	Guard    resilience.Guard
}

// Router tries providers in order.
type Router struct {
	bindings []Binding
	calc     *cost.Calculator
	ledger   *cost.Ledger
	metrics  *telemetry.Metrics
}

// Compile-time interface check
var _ Generator = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCalculator sets the pricing used for cost attribution.
func WithCalculator(c *cost.Calculator) RouterOption {
	return func(r *Router) { r.calc = c }
}

// WithLedger sets the ledger that accumulates spend.
func WithLedger(l *cost.Ledger) RouterOption {
	return func(r *Router) { r.ledger = l }
}

// WithMetrics sets the Prometheus recorder.
func WithMetrics(m *telemetry.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a Router over bindings, tried in the given order.
func NewRouter(bindings []Binding, opts ...RouterOption) *Router {
	r := &Router{
		bindings: bindings,
		calc:     cost.NewCalculator(cost.DefaultRates()),
		ledger:   cost.NewLedger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers lists the configured provider names in routing order.
func (r *Router) Providers() []string {
	out := make([]string, len(r.bindings))
	for i, b := range r.bindings {
		out[i] = b.Provider.Name()
	}
	return out
}

// Ledger returns the router's spend ledger.
func (r *Router) Ledger() *cost.Ledger { return r.ledger }

// Route sends req to the first provider that succeeds.
func (r *Router) Route(ctx context.Context, req Request) (*Completion, error) {
	if len(r.bindings) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, b := range r.bindings {
		name := b.Provider.Name()
		comp, err := resilience.Call(ctx, b.Guard, func(ctx context.Context) (*Completion, error) {
			return b.Provider.Generate(ctx, req)
		})
		if err != nil {
			r.metrics.RecordAICall(name, "error", 0)
			zap.L().Warn("ai: provider failed",
				zap.String("provider", name),
				zap.String("model", b.Provider.Model()),
				zap.String("class", resilience.Classify(err)),
				zap.Error(err),
			)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		comp.CostUSD = r.calc.Provider(name, comp.Model, comp.Usage)
		r.ledger.Add(name, comp.CostUSD)
		r.metrics.RecordAICall(name, "ok", comp.CostUSD)
		zap.L().Info("cost attribution",
			zap.String("provider", name),
			zap.String("model", comp.Model),
			zap.Int64("input_tokens", comp.Usage.Input),
			zap.Int64("output_tokens", comp.Usage.Output),
			zap.Int64("cache_write_tokens", comp.Usage.CacheWrite),
			zap.Int64("cache_read_tokens", comp.Usage.CacheRead),
			zap.Float64("estimated_cost_usd", comp.CostUSD),
		)
		return comp, nil
	}
	return nil, eris.Wrap(lastErr, "ai: all providers failed")
}

// FromConfig builds a Router for every provider with an API key, primary
// first. breakers may be shared with other outbound clients.
func FromConfig(cfg *config.Config, breakers *resilience.Breakers, opts ...RouterOption) *Router {
	guard := func(service string) resilience.Guard {
		return resilience.Guard{
			Limiter: resilience.NewLimiter(cfg.AI.RequestsPerSec),
			Breaker: breakers.Get(service),
			Retry: resilience.RetryConfig{
				MaxAttempts: cfg.AI.MaxAttempts,
				OnRetry:     resilience.RetryLogger(service, "generate"),
			},
			Timeout: time.Duration(cfg.AI.TimeoutSecs) * time.Second,
		}
	}

	var all []Binding
	if cfg.Anthropic.Key != "" {
		all = append(all, Binding{
			Provider: &AnthropicProvider{
				Client:    anthropic.NewClient(cfg.Anthropic.Key),
				ModelID:   cfg.Anthropic.Model,
				MaxTokens: cfg.AI.MaxTokens,
			},
			Guard: guard("anthropic"),
		})
	}
	if cfg.OpenAI.Key != "" {
		all = append(all, Binding{
			Provider: &OpenAIProvider{
				Client:    openai.NewClient(cfg.OpenAI.Key),
				ModelID:   cfg.OpenAI.Model,
				MaxTokens: cfg.AI.MaxTokens,
			},
			Guard: guard("openai"),
		})
	}

	bindings := OrderByPrimary(all, cfg.AI.Primary)
	if len(bindings) == 0 {
		zap.L().Warn("ai: no provider keys configured; AI features will use fallbacks")
	}
	return NewRouter(bindings, opts...)
}

// OrderByPrimary moves the binding named primary to the front, keeping the
// relative order of the rest.
func OrderByPrimary(bindings []Binding, primary string) []Binding {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if strings.EqualFold(b.Provider.Name(), primary) {
			out = append(out, b)
		}
	}
	for _, b := range bindings {
		if !strings.EqualFold(b.Provider.Name(), primary) {
			out = append(out, b)
		}
	}
	return out
}

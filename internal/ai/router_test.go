package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/internal/telemetry"
	"github.com/sells-group/pulse/pkg/anthropic"
	anthropicmocks "github.com/sells-group/pulse/pkg/anthropic/mocks"
	"github.com/sells-group/pulse/pkg/openai"
	openaimocks "github.com/sells-group/pulse/pkg/openai/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func noRetry() resilience.Guard {
	return resilience.Guard{Retry: resilience.RetryConfig{MaxAttempts: 1}}
}

// fakeProvider fails the first failN calls with err.
type fakeProvider struct {
	name  string
	failN int32
	err   error
	calls atomic.Int32
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Generate(_ context.Context, req Request) (*Completion, error) {
	n := f.calls.Add(1)
	if n <= f.failN {
		return nil, f.err
	}
	return &Completion{Content: "ok: " + req.Prompt, Provider: f.name, Model: f.Model()}, nil
}

func TestRoute_PrimaryAnthropic(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 256 &&
			req.System == "You are a CFO." &&
			req.Prompt == "Summarize revenue."
	})).Return(&anthropic.Completion{
		Model: "claude-haiku-4-5-20251001",
		Text:  "Revenue is steady.",
		Usage: anthropic.Usage{Input: 1000, Output: 500},
	}, nil).Once()

	m := telemetry.New()
	r := NewRouter([]Binding{{
		Provider: &AnthropicProvider{Client: mc, ModelID: "claude-haiku-4-5-20251001", MaxTokens: 256},
		Guard:    noRetry(),
	}}, WithMetrics(m))

	got, err := r.Route(context.Background(), Request{Prompt: "Summarize revenue.", System: "You are a CFO."})
	require.NoError(t, err)
	assert.Equal(t, "Revenue is steady.", got.Content)
	assert.Equal(t, "anthropic", got.Provider)
	// 1000 * 0.80/1M + 500 * 4.00/1M
	assert.InDelta(t, 0.0028, got.CostUSD, 1e-9)
	assert.InDelta(t, 0.0028, r.Ledger().Total(), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AICalls.WithLabelValues("anthropic", "ok")))
}

func TestRoute_FallsBackToOpenAI(t *testing.T) {
	ac := anthropicmocks.NewMockClient(t)
	ac.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key")).Once()

	oc := openaimocks.NewMockClient(t)
	oc.On("Complete", mock.Anything, mock.MatchedBy(func(req openai.ChatRequest) bool {
		return req.Model == "gpt-4o-mini" && req.System == "sys" && req.MaxTokens == 128
	})).Return(&openai.ChatResponse{
		Text:  "Fallback answer.",
		Usage: openai.Usage{PromptTokens: 1_000_000},
	}, nil).Once()

	r := NewRouter([]Binding{
		{Provider: &AnthropicProvider{Client: ac, ModelID: "claude-haiku-4-5-20251001"}, Guard: noRetry()},
		{Provider: &OpenAIProvider{Client: oc, ModelID: "gpt-4o-mini"}, Guard: noRetry()},
	})

	got, err := r.Route(context.Background(), Request{Prompt: "p", System: "sys", MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "Fallback answer.", got.Content)
	assert.InDelta(t, 0.15, got.CostUSD, 1e-9)
}

func TestRoute_EmptyTextIsFailure(t *testing.T) {
	ac := anthropicmocks.NewMockClient(t)
	ac.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.Completion{}, nil).Once()

	r := NewRouter([]Binding{{Provider: &AnthropicProvider{Client: ac, ModelID: "m"}, Guard: noRetry()}})
	_, err := r.Route(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}

func TestRoute_RetriesTransient(t *testing.T) {
	p := &fakeProvider{name: "anthropic", failN: 2, err: resilience.NewTransientError(errors.New("overloaded"), 529)}
	g := resilience.Guard{Retry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}}

	r := NewRouter([]Binding{{Provider: p, Guard: g}})
	got, err := r.Route(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok: x", got.Content)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestRoute_AllFail(t *testing.T) {
	a := &fakeProvider{name: "anthropic", failN: 100, err: errors.New("down")}
	o := &fakeProvider{name: "openai", failN: 100, err: errors.New("also down")}
	m := telemetry.New()

	r := NewRouter([]Binding{{Provider: a, Guard: noRetry()}, {Provider: o, Guard: noRetry()}}, WithMetrics(m))
	_, err := r.Route(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai: all providers failed")
	assert.Contains(t, err.Error(), "also down")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AICalls.WithLabelValues("anthropic", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AICalls.WithLabelValues("openai", "error")))
}

func TestRoute_OpenBreakerSkipsProvider(t *testing.T) {
	a := &fakeProvider{name: "anthropic", failN: 100, err: errors.New("down")}
	o := &fakeProvider{name: "openai"}
	breaker := resilience.NewCircuitBreaker("anthropic", resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	r := NewRouter([]Binding{
		{Provider: a, Guard: resilience.Guard{Breaker: breaker, Retry: resilience.RetryConfig{MaxAttempts: 1}}},
		{Provider: o, Guard: noRetry()},
	})

	for i := 0; i < 3; i++ {
		got, err := r.Route(context.Background(), Request{Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "openai", got.Provider)
	}
	assert.Equal(t, int32(1), a.calls.Load(), "open breaker must short-circuit")
	assert.Equal(t, resilience.BreakerOpen, breaker.State())
}

func TestRoute_NoProviders(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Route(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestRoute_CancelledContextStops(t *testing.T) {
	a := &fakeProvider{name: "anthropic", failN: 100, err: context.Canceled}
	o := &fakeProvider{name: "openai"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRouter([]Binding{{Provider: a, Guard: noRetry()}, {Provider: o, Guard: noRetry()}})
	_, err := r.Route(ctx, Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(0), o.calls.Load())
}

func TestRequest_Render(t *testing.T) {
	assert.Equal(t, "plain", Request{Prompt: "plain"}.render())

	got := Request{Prompt: "Explain.", Context: map[string]any{"value": 42, "kpi": "revenue"}}.render()
	assert.Equal(t, "Explain.\n\nContext:\n{\n  \"kpi\": \"revenue\",\n  \"value\": 42\n}", got)
}

func TestOrderByPrimary(t *testing.T) {
	a := Binding{Provider: &fakeProvider{name: "anthropic"}}
	o := Binding{Provider: &fakeProvider{name: "openai"}}

	names := func(bs []Binding) []string {
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = b.Provider.Name()
		}
		return out
	}
	assert.Equal(t, []string{"openai", "anthropic"}, names(OrderByPrimary([]Binding{a, o}, "openai")))
	assert.Equal(t, []string{"anthropic", "openai"}, names(OrderByPrimary([]Binding{a, o}, "ANTHROPIC")))
	assert.Equal(t, []string{"anthropic", "openai"}, names(OrderByPrimary([]Binding{a, o}, "unknown")))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.Primary = "openai"
	cfg.AI.MaxAttempts = 2
	cfg.AI.TimeoutSecs = 5
	cfg.Anthropic.Key = "ak"
	cfg.Anthropic.Model = "claude-haiku-4-5-20251001"
	cfg.OpenAI.Key = "ok"
	cfg.OpenAI.Model = "gpt-4o-mini"

	breakers := resilience.NewBreakers(resilience.DefaultBreakerConfig())
	r := FromConfig(cfg, breakers)
	assert.Equal(t, []string{"openai", "anthropic"}, r.Providers())
	assert.Contains(t, breakers.States(), "anthropic")
	assert.Contains(t, breakers.States(), "openai")

	cfg.OpenAI.Key = ""
	cfg.Anthropic.Key = ""
	assert.Empty(t, FromConfig(cfg, breakers).Providers())
}

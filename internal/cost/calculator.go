package cost

import (
	"sort"
	"sync"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is a provider-neutral token count for one completion.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, u Usage) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return rate.cost(u)
}

// OpenAI computes the cost for an OpenAI chat completion.
func (c *Calculator) OpenAI(model string, u Usage) float64 {
	rate, ok := c.rates.OpenAI[model]
	if !ok {
		return 0
	}
	return rate.cost(u)
}

// Provider dispatches to the calculator for the named provider. Unknown
// providers cost nothing.
func (c *Calculator) Provider(provider, model string, u Usage) float64 {
	switch provider {
	case "anthropic":
		return c.Claude(model, u)
	case "openai":
		return c.OpenAI(model, u)
	}
	return 0
}

func (r ModelRate) cost(u Usage) float64 {
	inCost := (float64(u.Input) / 1e6) * r.Input
	outCost := (float64(u.Output) / 1e6) * r.Output
	cwCost := (float64(u.CacheWrite) / 1e6) * r.Input * r.CacheWriteMul
	crCost := (float64(u.CacheRead) / 1e6) * r.Input * r.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o-mini": {Input: 0.15, Output: 0.60, CacheReadMul: 0.5},
			"gpt-4o":      {Input: 2.50, Output: 10.00, CacheReadMul: 0.5},
		},
	}
}

// Ledger accumulates spend per provider. It is safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	spend map[string]float64
	calls map[string]int64
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{spend: make(map[string]float64), calls: make(map[string]int64)}
}

// Add records one call and its cost for provider.
func (l *Ledger) Add(provider string, usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spend[provider] += usd
	l.calls[provider]++
}

// Entry is one provider's accumulated spend.
type Entry struct {
	Provider string  `json:"provider"`
	Calls    int64   `json:"calls"`
	USD      float64 `json:"usd"`
}

// Snapshot returns the totals sorted by provider name.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.spend))
	for p, usd := range l.spend {
		out = append(out, Entry{Provider: p, Calls: l.calls[p], USD: usd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Total returns the spend across all providers.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, usd := range l.spend {
		sum += usd
	}
	return sum
}

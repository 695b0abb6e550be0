// Package forecast produces point forecasts with heuristic confidence bands
// for the revenue, placement and productivity series.
package forecast

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/pkg/predict"
)

// DefaultConfidence is reported when the engine returns none.
const DefaultConfidence = 0.75

// revenueHistory is the number of trailing monthly_revenue points fed to
// the revenue model.
const revenueHistory = 12

// History reads past observations of a metric series, oldest first.
type History interface {
	MetricHistory(ctx context.Context, category model.MetricCategory, name string, limit int) ([]model.BusinessMetric, error)
}

// Spec describes how one forecast is produced.
type Spec struct {
	Metric      string
	ModelType   string
	HorizonDays int
	// Lower and Upper scale the prediction into the band.
	Lower, Upper float64
	// Input builds the engine input.
	Input func(ctx context.Context, h History, now time.Time) (map[string]any, error)
}

// Specs returns the three forecasts in display order.
func Specs() []Spec {
	return []Spec{
		{
			Metric: model.ForecastRevenue, ModelType: "revenue_forecast", HorizonDays: 30,
			Lower: 0.8, Upper: 1.2, Input: revenueInput,
		},
		{
			Metric: model.ForecastPlacements, ModelType: "placement_forecast", HorizonDays: 30,
			Lower: 0.85, Upper: 1.25, Input: static(placementState(45, 0.25)),
		},
		{
			Metric: model.ForecastProductivity, ModelType: "productivity_forecast", HorizonDays: 7,
			Lower: 0.95, Upper: 1.10, Input: static(map[string]any{"current": 78, "trend": "improving"}),
		},
	}
}

func revenueInput(ctx context.Context, h History, now time.Time) (map[string]any, error) {
	hist, err := h.MetricHistory(ctx, model.CategoryRevenue, model.MetricMonthlyRevenue, revenueHistory)
	if err != nil {
		return nil, eris.Wrap(err, "forecast: revenue history")
	}
	values := make([]float64, len(hist))
	for i, m := range hist {
		values[i] = m.Value
	}
	return map[string]any{
		"historical": values,
		"month":      int(now.Month()),
	}, nil
}

// placementState describes the open pipeline. current is the expected
// placements if the pipeline converts at rate.
func placementState(pipeline int, rate float64) map[string]any {
	return map[string]any{
		"pipeline":        pipeline,
		"conversion_rate": rate,
		"current":         float64(pipeline) * rate,
	}
}

// static returns fixed current-state inputs. Pipeline size and conversion
// are constants, not read from the placement tables.
func static(input map[string]any) func(context.Context, History, time.Time) (map[string]any, error) {
	return func(context.Context, History, time.Time) (map[string]any, error) {
		out := make(map[string]any, len(input))
		for k, v := range input {
			out[k] = v
		}
		return out, nil
	}
}

// Generator runs forecasts and caches the results.
type Generator struct {
	history   History
	predictor predict.Predictor
	cache     cache.Cache
	ttl       time.Duration
	specs     []Spec
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSpecs replaces the default forecast set.
func WithSpecs(s []Spec) Option {
	return func(g *Generator) { g.specs = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator. c may be nil to disable caching.
func NewGenerator(h History, p predict.Predictor, c cache.Cache, ttl time.Duration, opts ...Option) *Generator {
	g := &Generator{
		history:   h,
		predictor: p,
		cache:     c,
		ttl:       ttl,
		specs:     Specs(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the forecast for metric, from cache when fresh.
func (g *Generator) Generate(ctx context.Context, metric string) (*model.MetricForecast, error) {
	for _, s := range g.specs {
		if s.Metric == metric {
			return g.generate(ctx, s)
		}
	}
	return nil, eris.Errorf("forecast: unknown metric %q", metric)
}

// All runs every forecast. Failed forecasts are left out of the map and
// reported together in the error.
func (g *Generator) All(ctx context.Context) (map[string]model.MetricForecast, error) {
	out := make(map[string]model.MetricForecast, len(g.specs))
	var errs []error
	for _, s := range g.specs {
		f, err := g.generate(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[s.Metric] = *f
	}
	return out, errors.Join(errs...)
}

func (g *Generator) generate(ctx context.Context, s Spec) (*model.MetricForecast, error) {
	key := cache.ForecastKey(s.Metric)
	if g.cache != nil {
		var cached model.MetricForecast
		ok, err := cache.GetJSON(ctx, g.cache, key, &cached)
		if err != nil {
			zap.L().Debug("forecast: cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return &cached, nil
		}
	}

	now := g.now()
	input, err := s.Input(ctx, g.history, now)
	if err != nil {
		return nil, err
	}
	pred, err := g.predictor.Predict(ctx, predict.Request{ModelType: s.ModelType, Input: input})
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: predict %s", s.Metric)
	}

	conf := DefaultConfidence
	if pred.Confidence != nil {
		conf = *pred.Confidence
	}
	lower, upper := Band(pred.Value, s.Lower, s.Upper)
	f := &model.MetricForecast{
		Metric:      s.Metric,
		Predicted:   pred.Value,
		Confidence:  conf,
		LowerBound:  lower,
		UpperBound:  upper,
		HorizonDays: s.HorizonDays,
		GeneratedAt: now,
	}

	if g.cache != nil {
		if err := cache.SetJSON(ctx, g.cache, key, f, g.ttl); err != nil {
			zap.L().Warn("forecast: cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return f, nil
}

// Band scales predicted by the two factors and orders the result so that
// lower <= predicted <= upper, including for negative predictions.
func Band(predicted, lowerMul, upperMul float64) (lower, upper float64) {
	a, b := predicted*lowerMul, predicted*upperMul
	lower = math.Min(predicted, math.Min(a, b))
	upper = math.Max(predicted, math.Max(a, b))
	return lower, upper
}

package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/ai"
	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/dashboard"
	"github.com/sells-group/pulse/internal/forecast"
	"github.com/sells-group/pulse/internal/insights"
	"github.com/sells-group/pulse/internal/kpi"
	"github.com/sells-group/pulse/internal/metrics"
	"github.com/sells-group/pulse/internal/monitoring"
	"github.com/sells-group/pulse/internal/orchestrator"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/internal/store"
	"github.com/sells-group/pulse/internal/telemetry"
)

// appEnv holds the store, cache and every service the commands share.
type appEnv struct {
	Store     *store.PostgresStore
	Cache     cache.Cache
	Telemetry *telemetry.Metrics
	Breakers  *resilience.Breakers
	AI        *ai.Router

	Collector *metrics.Collector
	KPIs      *kpi.Calculator
	Forecasts *forecast.Generator
	Insights  *insights.Generator
	Events    *orchestrator.Router
	Dashboard *dashboard.Aggregator
	Alerter   *monitoring.Alerter
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, connects the store and cache, and wires
// the services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open cache")
	}

	env := &appEnv{Store: st, Cache: c, Telemetry: telemetry.New()}
	env.wire(cfg)
	return env, nil
}

// wire builds the services on top of an opened store and cache.
func (e *appEnv) wire(c *config.Config) {
	e.Breakers = resilience.NewBreakers(breakerConfig(c.AI, e.Telemetry))
	e.AI = ai.FromConfig(c, e.Breakers, ai.WithMetrics(e.Telemetry))

	e.Collector = metrics.NewCollector(e.Store, e.Cache, secs(c.Cache.MetricTTLSecs), metrics.WithTelemetry(e.Telemetry))
	e.KPIs = kpi.NewCalculator(e.Store, e.Cache)
	e.Forecasts = forecast.NewGenerator(e.Store, forecast.NewPredictor(c.Predict, e.Breakers), e.Cache, secs(c.Predict.CacheTTLSecs))
	e.Insights = insights.NewGenerator(e.AI)

	registry := orchestrator.NewRegistry().MustRegister(orchestrator.DefaultHandlers(e.AI)...)
	e.Events = orchestrator.NewRouter(e.Store, registry, e.Telemetry)

	e.Dashboard = dashboard.New(e.Store, e.Forecasts, e.Insights,
		dashboard.WithCache(e.Cache, secs(c.Dashboard.CacheTTLSecs)),
		dashboard.WithLimits(c.Dashboard.MetricsLimit, c.Dashboard.AlertsLimit),
		dashboard.WithTelemetry(e.Telemetry),
	)
	e.Alerter = monitoring.NewAlerter(e.Store, c.Monitoring, e.Telemetry)
}

// breakerConfig maps AI settings onto breaker thresholds and reports
// every transition to logs and Prometheus.
func breakerConfig(c config.AIConfig, m *telemetry.Metrics) resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		bc.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = secs(c.ResetTimeoutSecs)
	}
	bc.OnStateChange = func(service string, from, to resilience.BreakerState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		m.SetBreakerState(service, int(to))
	}
	return bc
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

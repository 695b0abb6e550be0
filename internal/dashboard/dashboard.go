// Package dashboard assembles the CEO dashboard from the other components.
package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/insights"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/telemetry"
)

const (
	defaultTTL          = 60 * time.Second
	defaultMetricsLimit = 50
	defaultAlertsLimit  = 5
	activityHours       = 24
)

// Store is the read side the aggregator needs.
type Store interface {
	RecentMetrics(ctx context.Context, since time.Time, limit int) ([]model.BusinessMetric, error)
	LatestMetrics(ctx context.Context) ([]model.BusinessMetric, error)
	ListKPIs(ctx context.Context) ([]model.KPI, error)
	ActiveAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	HourlyActivity(ctx context.Context, since time.Time) ([]model.ActivityBucket, error)
}

// Forecaster recomputes the forecasts. It may return a partial map with an
// error.
type Forecaster interface {
	All(ctx context.Context) (map[string]model.MetricForecast, error)
}

// Insighter writes narrative insights for a snapshot.
type Insighter interface {
	Generate(ctx context.Context, s insights.Snapshot) []model.Insight
}

// Aggregator builds dashboards and caches their encoding.
type Aggregator struct {
	store     Store
	forecasts Forecaster
	insights  Insighter
	cache     cache.Cache
	ttl       time.Duration
	metricsN  int
	alertsN   int
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache enables response caching for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithLimits overrides the metric and alert counts. Non-positive values
// keep the defaults.
func WithLimits(metrics, alerts int) Option {
	return func(a *Aggregator) {
		if metrics > 0 {
			a.metricsN = metrics
		}
		if alerts > 0 {
			a.alertsN = alerts
		}
	}
}

// WithTelemetry sets the Prometheus recorder.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator. f and in may be nil to leave forecasts or
// insights empty.
func New(st Store, f Forecaster, in Insighter, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     st,
		forecasts: f,
		insights:  in,
		ttl:       defaultTTL,
		metricsN:  defaultMetricsLimit,
		alertsN:   defaultAlertsLimit,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// JSON returns the encoded dashboard for period, served from cache while
// fresh so repeated calls within the TTL are byte-identical.
func (a *Aggregator) JSON(ctx context.Context, period model.DashboardPeriod) ([]byte, error) {
	key := cache.DashboardKey(string(period))
	if a.cache != nil {
		raw, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("dashboard: cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			a.metrics.RecordDashboardCache(true)
			return raw, nil
		}
		a.metrics.RecordDashboardCache(false)
	}

	d, err := a.Build(ctx, period)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: encode")
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, raw, a.ttl); err != nil {
			zap.L().Warn("dashboard: cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return raw, nil
}

// Build recomputes the dashboard. Store reads fail the build; forecast and
// insight failures leave those sections partial.
func (a *Aggregator) Build(ctx context.Context, period model.DashboardPeriod) (*model.Dashboard, error) {
	start := time.Now()
	defer func() { a.metrics.RecordDashboardBuild(time.Since(start)) }()

	now := a.now()
	d := &model.Dashboard{
		Period:    period,
		Forecasts: map[string]model.MetricForecast{},
		Timestamp: now,
	}

	var (
		activity []model.ActivityBucket
		latest   []model.BusinessMetric
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ms, err := a.store.RecentMetrics(gctx, now.Add(-period.Window()), a.metricsN)
		d.Metrics = ms
		return eris.Wrap(err, "dashboard: metrics")
	})
	// Insight rules see the newest value of every series, not the capped list.
	g.Go(func() error {
		var err error
		latest, err = a.store.LatestMetrics(gctx)
		return eris.Wrap(err, "dashboard: latest metrics")
	})
	g.Go(func() error {
		ks, err := a.store.ListKPIs(gctx)
		d.KPIs = ks
		return eris.Wrap(err, "dashboard: kpis")
	})
	g.Go(func() error {
		as, err := a.store.ActiveAlerts(gctx, a.alertsN)
		d.Alerts = as
		return eris.Wrap(err, "dashboard: alerts")
	})
	g.Go(func() error {
		var err error
		activity, err = a.store.HourlyActivity(gctx, hourStart(now).Add(-(activityHours-1)*time.Hour))
		return eris.Wrap(err, "dashboard: activity")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model.SortAlerts(d.Alerts)
	if len(d.Alerts) > a.alertsN {
		d.Alerts = d.Alerts[:a.alertsN]
	}
	d.Realtime = Buckets(activity, now)

	log := zap.L().With(zap.String("component", "dashboard"))
	if a.forecasts != nil {
		fs, err := a.forecasts.All(ctx)
		if err != nil {
			log.Warn("dashboard: some forecasts unavailable", zap.Error(err))
		}
		for k, v := range fs {
			d.Forecasts[k] = v
		}
	}
	if a.insights != nil {
		d.Insights = a.insights.Generate(ctx, insights.Snapshot{Metrics: latest, KPIs: d.KPIs})
	}

	if d.Metrics == nil {
		d.Metrics = []model.BusinessMetric{}
	}
	if d.KPIs == nil {
		d.KPIs = []model.KPI{}
	}
	if d.Alerts == nil {
		d.Alerts = []model.Alert{}
	}
	if d.Insights == nil {
		d.Insights = []model.Insight{}
	}
	return d, nil
}

// Buckets returns one bucket per hour for the 24 hours ending at the hour
// containing now, oldest first. Hours missing from counts are zero.
func Buckets(counts []model.ActivityBucket, now time.Time) []model.ActivityBucket {
	byHour := make(map[int64]model.ActivityBucket, len(counts))
	for _, c := range counts {
		byHour[hourStart(c.Hour).Unix()] = c
	}

	first := hourStart(now).Add(-(activityHours - 1) * time.Hour)
	out := make([]model.ActivityBucket, activityHours)
	for i := range out {
		h := first.Add(time.Duration(i) * time.Hour)
		b := byHour[h.Unix()]
		b.Hour = h
		out[i] = b
	}
	return out
}

func hourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

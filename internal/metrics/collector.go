// Package metrics snapshots business-table state into append-only
// BusinessMetric rows on three collection tiers.
package metrics

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
	"github.com/sells-group/pulse/internal/telemetry"
)

// Aggregator runs windowed aggregate queries.
type Aggregator interface {
	Aggregate(ctx context.Context, name store.Aggregate, from, to time.Time) (float64, error)
}

// Store is the persistence the collector needs.
type Store interface {
	Aggregator
	InsertMetrics(ctx context.Context, metrics []model.BusinessMetric) (int64, error)
}

// FamilyOutcome is the result of collecting one family.
type FamilyOutcome struct {
	Family   string
	Tier     Tier
	Metrics  []model.BusinessMetric
	Written  int64
	Err      error
	Duration time.Duration
}

// OK reports whether the family was collected and written.
func (o FamilyOutcome) OK() bool { return o.Err == nil }

// Report collects the outcomes of one cycle. A failing family never
// prevents its siblings from completing.
type Report struct {
	Tier      Tier
	StartedAt time.Time
	Outcomes  []FamilyOutcome
}

// Failed returns the outcomes that did not complete.
func (r Report) Failed() []FamilyOutcome {
	var out []FamilyOutcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Metrics returns every metric written in the cycle.
func (r Report) Metrics() []model.BusinessMetric {
	var out []model.BusinessMetric
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o.Metrics...)
		}
	}
	return out
}

// Status summarises the cycle as ok, partial or failed.
func (r Report) Status() string {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return "ok"
	case failed == len(r.Outcomes):
		return "failed"
	default:
		return "partial"
	}
}

// Collector runs metric families against the store.
type Collector struct {
	store    Store
	cache    cache.Cache
	ttl      time.Duration
	families []Family
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithFamilies replaces the default families.
func WithFamilies(f []Family) Option {
	return func(c *Collector) { c.families = f }
}

// WithTelemetry sets the Prometheus recorder.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a Collector. c may be nil to skip cache writes.
func NewCollector(st Store, c cache.Cache, ttl time.Duration, opts ...Option) *Collector {
	col := &Collector{
		store:    st,
		cache:    c,
		ttl:      ttl,
		families: DefaultFamilies(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(col)
	}
	return col
}

// CollectAll runs every family regardless of tier.
func (c *Collector) CollectAll(ctx context.Context) Report {
	return c.run(ctx, "", c.families)
}

// CollectTier runs the families scheduled on tier.
func (c *Collector) CollectTier(ctx context.Context, tier Tier) Report {
	var fams []Family
	for _, f := range c.families {
		if f.Tier == tier {
			fams = append(fams, f)
		}
	}
	return c.run(ctx, tier, fams)
}

func (c *Collector) run(ctx context.Context, tier Tier, fams []Family) Report {
	now := c.now()
	rep := Report{Tier: tier, StartedAt: now, Outcomes: make([]FamilyOutcome, len(fams))}

	var g errgroup.Group
	for i, f := range fams {
		g.Go(func() error {
			rep.Outcomes[i] = c.collectFamily(ctx, f, now)
			return nil
		})
	}
	_ = g.Wait()

	log := zap.L().With(zap.String("component", "metrics.collector"), zap.String("tier", string(tier)))
	for _, o := range rep.Failed() {
		log.Error("metrics: family failed",
			zap.String("family", o.Family),
			zap.Duration("duration", o.Duration),
			zap.Error(o.Err),
		)
	}
	log.Info("metrics: cycle complete",
		zap.String("status", rep.Status()),
		zap.Int("families", len(rep.Outcomes)),
		zap.Int("failed", len(rep.Failed())),
		zap.Int("metrics", len(rep.Metrics())),
	)
	return rep
}

func (c *Collector) collectFamily(ctx context.Context, f Family, now time.Time) FamilyOutcome {
	start := time.Now()
	out := FamilyOutcome{Family: f.Name, Tier: f.Tier}
	defer func() {
		out.Duration = time.Since(start)
		c.metrics.RecordFamily(f.Name, out.Duration, int(out.Written))
	}()

	q := &Query{ctx: ctx, src: c.store}
	ms := f.Collect(q, now)
	if err := q.Err(); err != nil {
		out.Err = eris.Wrapf(err, "metrics: collect %s", f.Name)
		return out
	}
	for i := range ms {
		ms[i].Timestamp = now
		if ms[i].Trend == "" {
			ms[i].Trend = model.TrendStable
		}
	}

	n, err := c.store.InsertMetrics(ctx, ms)
	if err != nil {
		out.Err = eris.Wrapf(err, "metrics: write %s", f.Name)
		return out
	}
	out.Metrics = ms
	out.Written = n

	c.cacheLatest(ctx, ms)
	return out
}

// cacheLatest writes each metric under its series key. Failures are logged
// and otherwise ignored.
func (c *Collector) cacheLatest(ctx context.Context, ms []model.BusinessMetric) {
	if c.cache == nil {
		return
	}
	for _, m := range ms {
		key := cache.MetricKey(string(m.Category), m.Name)
		if err := cache.SetJSON(ctx, c.cache, key, m, c.ttl); err != nil {
			zap.L().Warn("metrics: cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

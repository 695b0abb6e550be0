// Package kpi turns the latest value of selected metric series into
// target-relative KPI rows.
package kpi

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
)

// KPI ids.
const (
	Revenue       = "revenue"
	Placements    = "placements"
	Productivity  = "productivity"
	PlacementRate = "placement_rate"
)

// Definition binds a KPI id to the metric series it tracks.
type Definition struct {
	ID       string
	Name     string
	Formula  string
	Category model.MetricCategory
	Metric   string
	Target   float64
	// AtRisk is the fraction of Target at or above which a KPI short of
	// target is at-risk rather than off-track.
	AtRisk float64
}

// Definitions returns the four tracked KPIs.
func Definitions() []Definition {
	return []Definition{
		{
			ID: Revenue, Name: "Monthly Revenue", Formula: "sum(placement fees) month to date",
			Category: model.CategoryRevenue, Metric: model.MetricMonthlyRevenue, Target: 500000, AtRisk: 0.8,
		},
		{
			ID: Placements, Name: "Monthly Placements", Formula: "count(placements) month to date",
			Category: model.CategoryPlacement, Metric: model.MetricMonthlyPlacements, Target: 50, AtRisk: 0.7,
		},
		{
			ID: Productivity, Name: "Average Productivity", Formula: "avg(productivity score) last 7 days",
			Category: model.CategoryProductivity, Metric: model.MetricAvgProductivity, Target: 85, AtRisk: 0.8,
		},
		{
			ID: PlacementRate, Name: "Placement Rate", Formula: "placements / applications * 100",
			Category: model.CategoryPlacement, Metric: model.MetricPlacementRate, Target: 25, AtRisk: 0.7,
		},
	}
}

// Status grades current against target.
func Status(current, target, atRisk float64) model.KPIStatus {
	switch {
	case current >= target:
		return model.KPIOnTrack
	case current >= target*atRisk:
		return model.KPIAtRisk
	default:
		return model.KPIOffTrack
	}
}

// Achievement is current as a percentage of target. A zero target yields 0.
func Achievement(current, target float64) float64 {
	if target == 0 {
		return 0
	}
	return current / target * 100
}

// Evaluate builds the KPI row for d at the given value.
func (d Definition) Evaluate(current float64, now time.Time) model.KPI {
	return model.KPI{
		ID:          d.ID,
		Name:        d.Name,
		Formula:     d.Formula,
		Target:      d.Target,
		Current:     current,
		Achievement: Achievement(current, d.Target),
		Status:      Status(current, d.Target, d.AtRisk),
		UpdatedAt:   now,
	}
}

// Store is the persistence the calculator needs.
type Store interface {
	LatestMetric(ctx context.Context, category model.MetricCategory, name string) (*model.BusinessMetric, error)
	UpsertKPIs(ctx context.Context, kpis []model.KPI) error
}

// Calculator computes and stores KPI rows.
type Calculator struct {
	store Store
	cache cache.Cache
	defs  []Definition
	now   func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithDefinitions replaces the default KPI set.
func WithDefinitions(defs []Definition) Option {
	return func(c *Calculator) { c.defs = defs }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// NewCalculator creates a Calculator. c may be nil to read the store only.
func NewCalculator(st Store, c cache.Cache, opts ...Option) *Calculator {
	calc := &Calculator{
		store: st,
		cache: c,
		defs:  Definitions(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(calc)
	}
	return calc
}

// Calculate evaluates every KPI, upserts the rows by id and returns them.
// A KPI whose metric cannot be read is scored at 0 and flagged DataMissing.
func (c *Calculator) Calculate(ctx context.Context) ([]model.KPI, error) {
	log := zap.L().With(zap.String("component", "kpi.calculator"))
	now := c.now()

	kpis := make([]model.KPI, 0, len(c.defs))
	for _, d := range c.defs {
		v, err := c.latest(ctx, d)
		k := d.Evaluate(v, now)
		if err != nil {
			k.DataMissing = true
			log.Warn("kpi: metric unavailable, scoring as zero",
				zap.String("kpi", d.ID),
				zap.String("series", model.SeriesKey(d.Category, d.Metric)),
				zap.Error(err),
			)
		}
		kpis = append(kpis, k)
	}

	if err := c.store.UpsertKPIs(ctx, kpis); err != nil {
		return nil, eris.Wrap(err, "kpi: upsert")
	}

	for _, k := range kpis {
		log.Debug("kpi calculated",
			zap.String("kpi", k.ID),
			zap.Float64("current", k.Current),
			zap.Float64("achievement", k.Achievement),
			zap.String("status", string(k.Status)),
		)
	}
	return kpis, nil
}

// latest reads the metric from cache, then the store.
func (c *Calculator) latest(ctx context.Context, d Definition) (float64, error) {
	if c.cache != nil {
		var m model.BusinessMetric
		ok, err := cache.GetJSON(ctx, c.cache, cache.MetricKey(string(d.Category), d.Metric), &m)
		if err != nil {
			zap.L().Debug("kpi: cache read failed", zap.String("kpi", d.ID), zap.Error(err))
		}
		if ok {
			return m.Value, nil
		}
	}

	m, err := c.store.LatestMetric(ctx, d.Category, d.Metric)
	if errors.Is(err, store.ErrNotFound) {
		return 0, eris.Wrapf(err, "kpi: no observations of %s", d.Metric)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "kpi: read %s", d.Metric)
	}
	return m.Value, nil
}

package metrics

import (
	"context"
	"time"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
)

// Tier is a collection cadence.
type Tier string

const (
	TierRealtime Tier = "realtime"
	TierFrequent Tier = "frequent"
	TierHourly   Tier = "hourly"
)

// Tiers lists every tier in scheduling order.
var Tiers = []Tier{TierRealtime, TierFrequent, TierHourly}

// ParseTier validates a tier name. Empty means all tiers and returns "".
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(s); t {
	case "", TierRealtime, TierFrequent, TierHourly:
		return t, true
	}
	return "", false
}

// Family is an independently collected group of metrics. If any of its
// queries fails, none of its metrics are written for that cycle.
type Family struct {
	Name    string
	Tier    Tier
	Collect func(q *Query, now time.Time) []model.BusinessMetric
}

// Query runs windowed aggregates and keeps the first error so family bodies
// can read as straight-line arithmetic.
type Query struct {
	ctx context.Context
	src Aggregator
	err error
}

// Agg returns the named aggregate over [from, to), or 0 once any query in
// this run has failed.
func (q *Query) Agg(name store.Aggregate, from, to time.Time) float64 {
	if q.err != nil {
		return 0
	}
	v, err := q.src.Aggregate(q.ctx, name, from, to)
	if err != nil {
		q.err = err
		return 0
	}
	return v
}

// Err returns the first query error.
func (q *Query) Err() error { return q.err }

// DefaultFamilies returns the six metric families.
func DefaultFamilies() []Family {
	return []Family{
		{Name: "revenue", Tier: TierHourly, Collect: collectRevenue},
		{Name: "placement", Tier: TierFrequent, Collect: collectPlacement},
		{Name: "productivity", Tier: TierFrequent, Collect: collectProductivity},
		{Name: "learning", Tier: TierHourly, Collect: collectLearning},
		{Name: "engagement", Tier: TierRealtime, Collect: collectEngagement},
		{Name: "pipeline", Tier: TierRealtime, Collect: collectPipeline},
	}
}

// collectRevenue compares this calendar month so far with the whole of the
// previous month.
func collectRevenue(q *Query, now time.Time) []model.BusinessMetric {
	monthStart := startOfMonth(now)
	prevStart := monthStart.AddDate(0, -1, 0)

	current := q.Agg(store.AggRevenue, monthStart, now)
	previous := q.Agg(store.AggRevenue, prevStart, monthStart)
	change := percentChange(current, previous)

	return []model.BusinessMetric{{
		Name:          model.MetricMonthlyRevenue,
		Category:      model.CategoryRevenue,
		Value:         current,
		Trend:         model.TrendFor(change),
		ChangePercent: change,
		Period:        model.PeriodMonthly,
		Metadata:      map[string]any{"previous_value": previous},
	}}
}

func collectPlacement(q *Query, now time.Time) []model.BusinessMetric {
	monthStart := startOfMonth(now)
	placements := q.Agg(store.AggPlacements, monthStart, now)
	applications := q.Agg(store.AggApplications, monthStart, now)

	return []model.BusinessMetric{
		flat(model.MetricMonthlyPlacements, model.CategoryPlacement, placements, model.PeriodMonthly),
		flat(model.MetricPlacementRate, model.CategoryPlacement, ratio(placements, applications)*100, model.PeriodMonthly),
	}
}

func collectProductivity(q *Query, now time.Time) []model.BusinessMetric {
	avg := q.Agg(store.AggAvgProductivity, now.AddDate(0, 0, -7), now)
	return []model.BusinessMetric{
		flat(model.MetricAvgProductivity, model.CategoryProductivity, avg, model.PeriodWeekly),
	}
}

func collectLearning(q *Query, now time.Time) []model.BusinessMetric {
	from := now.AddDate(0, 0, -7)
	completions := q.Agg(store.AggTopicCompletions, from, now)
	avgScore := q.Agg(store.AggAvgQuizScore, from, now)
	attempts := q.Agg(store.AggQuizAttempts, from, now)
	passed := q.Agg(store.AggQuizPassed, from, now)

	return []model.BusinessMetric{
		flat(model.MetricTopicCompletions, model.CategoryLearning, completions, model.PeriodWeekly),
		flat(model.MetricAvgQuizScore, model.CategoryLearning, avgScore, model.PeriodWeekly),
		flat(model.MetricQuizPassRate, model.CategoryQuality, ratio(passed, attempts)*100, model.PeriodWeekly),
	}
}

func collectEngagement(q *Query, now time.Time) []model.BusinessMetric {
	from := now.Add(-24 * time.Hour)
	return []model.BusinessMetric{
		flat(model.MetricActiveUsers, model.CategoryEngagement, q.Agg(store.AggActiveUsers, from, now), model.PeriodDaily),
		flat(model.MetricSessions24h, model.CategoryEngagement, q.Agg(store.AggSessions, from, now), model.PeriodDaily),
	}
}

func collectPipeline(q *Query, now time.Time) []model.BusinessMetric {
	return []model.BusinessMetric{
		flat(model.MetricOpenJobs, model.CategoryPipeline, q.Agg(store.AggOpenJobs, now, now), model.PeriodDaily),
		flat(model.MetricActiveApplications, model.CategoryPipeline,
			q.Agg(store.AggActiveApplications, startOfMonth(now), now), model.PeriodMonthly),
	}
}

// flat builds a metric with no comparison period: change 0, trend stable.
// Only revenue carries a period-over-period delta today.
func flat(name string, category model.MetricCategory, value float64, period model.Period) model.BusinessMetric {
	return model.BusinessMetric{
		Name:     name,
		Category: category,
		Value:    value,
		Trend:    model.TrendStable,
		Period:   period,
	}
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// ratio returns num/den, or 0 when den is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func percentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

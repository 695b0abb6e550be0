package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/ai"
	"github.com/sells-group/pulse/internal/cache"
	"github.com/sells-group/pulse/internal/insights"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/telemetry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2026, 9, 1, 14, 35, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	metrics   []model.BusinessMetric
	kpis      []model.KPI
	alerts    []model.Alert
	activity  []model.ActivityBucket
	kpiErr    error
	latestErr error
	since     time.Time
	limit     int
	builds    int
}

// RecentMetrics behaves like the SQL: newest first, at most limit rows.
func (f *fakeStore) RecentMetrics(_ context.Context, since time.Time, limit int) ([]model.BusinessMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since, f.limit = since, limit
	f.builds++
	var out []model.BusinessMetric
	for _, m := range f.metrics {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) LatestMetrics(context.Context) ([]model.BusinessMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[string]model.BusinessMetric{}
	for _, m := range f.metrics {
		key := string(m.Category) + ":" + m.Name
		if cur, ok := latest[key]; !ok || m.Timestamp.After(cur.Timestamp) {
			latest[key] = m
		}
	}
	out := make([]model.BusinessMetric, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	return out, f.latestErr
}

func (f *fakeStore) ListKPIs(context.Context) ([]model.KPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kpis, f.kpiErr
}

// ActiveAlerts ignores limit so the aggregator's own cap is exercised.
func (f *fakeStore) ActiveAlerts(context.Context, int) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Alert(nil), f.alerts...), nil
}

func (f *fakeStore) HourlyActivity(context.Context, time.Time) ([]model.ActivityBucket, error) {
	return f.activity, nil
}

func (f *fakeStore) setRevenue(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = []model.BusinessMetric{{Name: model.MetricMonthlyRevenue, Category: model.CategoryRevenue, Value: v, Timestamp: now}}
}

type fakeForecaster struct {
	out map[string]model.MetricForecast
	err error
}

func (f fakeForecaster) All(context.Context) (map[string]model.MetricForecast, error) {
	return f.out, f.err
}

type fakeInsighter struct {
	seen insights.Snapshot
}

func (f *fakeInsighter) Generate(_ context.Context, s insights.Snapshot) []model.Insight {
	f.seen = s
	return []model.Insight{{Type: model.InsightWarning, Title: "Revenue is off track"}}
}

func seededStore() *fakeStore {
	st := &fakeStore{
		kpis: []model.KPI{{ID: "revenue", Status: model.KPIOffTrack}},
		activity: []model.ActivityBucket{
			{Hour: now.Truncate(time.Hour), Placements: 2, Sessions: 9},
			{Hour: now.Truncate(time.Hour).Add(-5 * time.Hour), Applications: 4},
		},
	}
	st.setRevenue(120000)
	return st
}

func TestBuild_AssemblesSections(t *testing.T) {
	st := seededStore()
	fc := fakeForecaster{out: map[string]model.MetricForecast{
		model.ForecastRevenue: {Metric: model.ForecastRevenue, Predicted: 130000},
	}}
	in := &fakeInsighter{}
	a := New(st, fc, in, WithClock(func() time.Time { return now }))

	d, err := a.Build(context.Background(), model.DashboardWeekly)
	require.NoError(t, err)

	assert.Equal(t, model.DashboardWeekly, d.Period)
	assert.Equal(t, now, d.Timestamp)
	assert.Equal(t, now.Add(-7*24*time.Hour), st.since)
	assert.Equal(t, 50, st.limit)
	assert.Len(t, d.Metrics, 1)
	assert.Len(t, d.KPIs, 1)
	assert.Equal(t, 130000.0, d.Forecasts[model.ForecastRevenue].Predicted)
	assert.Len(t, d.Insights, 1)
	assert.Equal(t, d.KPIs, in.seen.KPIs)
	require.Len(t, d.Realtime, 24)
	assert.Equal(t, 2, d.Realtime[23].Placements)
	assert.Equal(t, 4, d.Realtime[18].Applications)
}

type cannedAI struct{}

func (cannedAI) Route(_ context.Context, req ai.Request) (*ai.Completion, error) {
	return &ai.Completion{Content: "advice: " + req.Prompt}, nil
}

func TestBuild_InsightsSeeSeriesOutsideDisplayWindow(t *testing.T) {
	st := seededStore()
	hourly := now.Add(-20 * time.Minute)
	st.metrics = append(st.metrics,
		model.BusinessMetric{Name: model.MetricAvgProductivity, Category: model.CategoryProductivity, Value: 40, Timestamp: hourly},
		model.BusinessMetric{Name: model.MetricAvgQuizScore, Category: model.CategoryLearning, Value: 50, Timestamp: hourly},
	)
	// Fifteen minutes of the realtime tier: four rows per tick.
	for tick := range 15 {
		ts := now.Add(-time.Duration(tick) * time.Minute)
		for i, name := range []string{model.MetricActiveUsers, model.MetricSessions24h, model.MetricOpenJobs, model.MetricActiveApplications} {
			st.metrics = append(st.metrics, model.BusinessMetric{
				ID: fmt.Sprintf("rt-%d-%d", tick, i), Name: name, Category: model.CategoryEngagement, Value: 1, Timestamp: ts,
			})
		}
	}

	a := New(st, nil, insights.NewGenerator(cannedAI{}), WithClock(func() time.Time { return now }))
	d, err := a.Build(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)

	require.Len(t, d.Metrics, 50)
	for _, m := range d.Metrics {
		assert.NotEqual(t, model.MetricAvgProductivity, m.Name)
		assert.NotEqual(t, model.MetricAvgQuizScore, m.Name)
	}

	titles := make([]string, len(d.Insights))
	for i, in := range d.Insights {
		titles[i] = in.Title
	}
	assert.Contains(t, titles, "Team productivity is low")
	assert.Contains(t, titles, "Quiz scores need attention")
}

func TestBuild_LatestMetricsFailureFails(t *testing.T) {
	st := seededStore()
	st.latestErr = errors.New("timeout")

	_, err := New(st, nil, nil).Build(context.Background(), model.DashboardDaily)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dashboard: latest metrics")
}

func TestBuild_AlertsCappedAndOrdered(t *testing.T) {
	st := seededStore()
	base := now.Add(-time.Hour)
	sev := []model.Severity{
		model.SeverityLow, model.SeverityCritical, model.SeverityMedium, model.SeverityHigh,
		model.SeverityCritical, model.SeverityLow, model.SeverityHigh, model.SeverityMedium,
	}
	for i, s := range sev {
		st.alerts = append(st.alerts, model.Alert{
			ID:        string(rune('a' + i)),
			Severity:  s,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	d, err := New(st, nil, nil).Build(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)

	require.Len(t, d.Alerts, 5)
	ids := make([]string, len(d.Alerts))
	for i, a := range d.Alerts {
		ids[i] = a.ID
	}
	// critical e(4) b(1), high g(6) d(3), medium h(7)
	assert.Equal(t, []string{"e", "b", "g", "d", "h"}, ids)
	for i := 1; i < len(d.Alerts); i++ {
		prev, cur := d.Alerts[i-1], d.Alerts[i]
		assert.GreaterOrEqual(t, prev.Severity.Rank(), cur.Severity.Rank())
		if prev.Severity == cur.Severity {
			assert.True(t, prev.CreatedAt.After(cur.CreatedAt))
		}
	}
}

func TestBuild_StoreFailureFails(t *testing.T) {
	st := seededStore()
	st.kpiErr = errors.New("connection reset")

	_, err := New(st, nil, nil).Build(context.Background(), model.DashboardMonthly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dashboard: kpis")
}

func TestBuild_ForecastFailureDegrades(t *testing.T) {
	fc := fakeForecaster{
		out: map[string]model.MetricForecast{model.ForecastPlacements: {Metric: model.ForecastPlacements}},
		err: errors.New("forecast: predict revenue: timeout"),
	}
	d, err := New(seededStore(), fc, nil).Build(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)
	assert.Len(t, d.Forecasts, 1)
	assert.NotContains(t, d.Forecasts, model.ForecastRevenue)
}

func TestBuild_EmptySectionsEncodeAsArrays(t *testing.T) {
	d, err := New(&fakeStore{}, nil, nil).Build(context.Background(), model.DashboardDaily)
	require.NoError(t, err)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"metrics", "kpis", "insights", "alerts", "realtime"} {
		_, isArray := generic[key].([]any)
		assert.True(t, isArray, key)
	}
	_, isObject := generic["forecasts"].(map[string]any)
	assert.True(t, isObject)
}

func TestJSON_CachedWithinTTLThenRefreshed(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(context.Background(), cache.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	st := seededStore()
	m := telemetry.New()
	a := New(st, nil, nil, WithCache(rc, 60*time.Second), WithTelemetry(m))
	ctx := context.Background()

	first, err := a.JSON(ctx, model.DashboardMonthly)
	require.NoError(t, err)

	st.setRevenue(999999)
	second, err := a.JSON(ctx, model.DashboardMonthly)
	require.NoError(t, err)
	assert.Equal(t, first, second, "byte-identical within TTL")
	assert.Equal(t, 1, st.builds)

	mr.FastForward(61 * time.Second)
	third, err := a.JSON(ctx, model.DashboardMonthly)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, st.builds)

	var d model.Dashboard
	require.NoError(t, json.Unmarshal(third, &d))
	assert.Equal(t, 999999.0, d.Metrics[0].Value)
}

func TestJSON_PeriodsCachedSeparately(t *testing.T) {
	st := seededStore()
	a := New(st, nil, nil, WithCache(cache.NewMemory(), time.Minute))

	_, err := a.JSON(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)
	_, err = a.JSON(context.Background(), model.DashboardDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, st.builds)
}

func TestJSON_NoCache(t *testing.T) {
	st := seededStore()
	a := New(st, nil, nil)
	_, err := a.JSON(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)
	_, err = a.JSON(context.Background(), model.DashboardMonthly)
	require.NoError(t, err)
	assert.Equal(t, 2, st.builds)
}

func TestBuckets_ZeroFilled(t *testing.T) {
	got := Buckets(nil, now)
	require.Len(t, got, 24)
	assert.Equal(t, time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC), got[23].Hour)
	assert.Equal(t, time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC), got[0].Hour)
	for i, b := range got {
		assert.Zero(t, b.Placements+b.Applications+b.Sessions, i)
		if i > 0 {
			assert.Equal(t, time.Hour, b.Hour.Sub(got[i-1].Hour))
		}
	}
}

func TestBuckets_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	got := Buckets([]model.ActivityBucket{{Hour: time.Date(2026, 9, 1, 9, 0, 0, 0, loc), Sessions: 3}}, now)
	assert.Equal(t, 3, got[23].Sessions)
}

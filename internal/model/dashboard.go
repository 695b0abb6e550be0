package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DashboardPeriod selects the window of metrics shown on the CEO dashboard.
type DashboardPeriod string

const (
	DashboardDaily     DashboardPeriod = "daily"
	DashboardWeekly    DashboardPeriod = "weekly"
	DashboardMonthly   DashboardPeriod = "monthly"
	DashboardQuarterly DashboardPeriod = "quarterly"
	DashboardYearly    DashboardPeriod = "yearly"
)

// ParseDashboardPeriod validates a period string. Empty means monthly.
func ParseDashboardPeriod(s string) (DashboardPeriod, error) {
	switch p := DashboardPeriod(s); p {
	case "":
		return DashboardMonthly, nil
	case DashboardDaily, DashboardWeekly, DashboardMonthly, DashboardQuarterly, DashboardYearly:
		return p, nil
	default:
		return "", eris.Errorf("model: invalid dashboard period %q", s)
	}
}

// Window is the lookback covered by the period.
func (p DashboardPeriod) Window() time.Duration {
	day := 24 * time.Hour
	switch p {
	case DashboardDaily:
		return day
	case DashboardWeekly:
		return 7 * day
	case DashboardQuarterly:
		return 90 * day
	case DashboardYearly:
		return 365 * day
	default:
		return 30 * day
	}
}

// InsightType classifies a narrative insight.
type InsightType string

const (
	InsightWarning        InsightType = "warning"
	InsightOpportunity    InsightType = "opportunity"
	InsightRecommendation InsightType = "recommendation"
)

// Insight is an AI-written narrative attached to the dashboard.
type Insight struct {
	ID          string         `json:"id"`
	Type        InsightType    `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Confidence  float64        `json:"confidence"`
	Priority    string         `json:"priority"`
	Category    MetricCategory `json:"category"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// ActivityBucket counts activity within one hour.
type ActivityBucket struct {
	Hour         time.Time `json:"hour"`
	Placements   int       `json:"placements"`
	Applications int       `json:"applications"`
	Sessions     int       `json:"sessions"`
}

// Dashboard is the CEO dashboard response.
type Dashboard struct {
	Period    DashboardPeriod           `json:"period"`
	Metrics   []BusinessMetric          `json:"metrics"`
	KPIs      []KPI                     `json:"kpis"`
	Forecasts map[string]MetricForecast `json:"forecasts"`
	Insights  []Insight                 `json:"insights"`
	Alerts    []Alert                   `json:"alerts"`
	Realtime  []ActivityBucket          `json:"realtime"`
	Timestamp time.Time                 `json:"timestamp"`
}

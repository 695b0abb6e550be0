// Package model holds the domain types shared by the collector, KPI
// calculator, event router and dashboard.
package model

import "time"

// MetricCategory groups business metrics.
type MetricCategory string

const (
	CategoryRevenue      MetricCategory = "revenue"
	CategoryPlacement    MetricCategory = "placement"
	CategoryProductivity MetricCategory = "productivity"
	CategoryLearning     MetricCategory = "learning"
	CategoryEngagement   MetricCategory = "engagement"
	CategoryQuality      MetricCategory = "quality"
	CategoryCost         MetricCategory = "cost"
	CategoryPipeline     MetricCategory = "pipeline"
)

// Trend describes the direction of a metric against its comparison period.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// TrendFor maps a change percentage to a trend by sign.
func TrendFor(changePercent float64) Trend {
	switch {
	case changePercent > 0:
		return TrendUp
	case changePercent < 0:
		return TrendDown
	default:
		return TrendStable
	}
}

// Period is the aggregation window a metric value covers.
type Period string

const (
	PeriodHourly    Period = "hourly"
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

// Metric names written by the collector.
const (
	MetricMonthlyRevenue     = "monthly_revenue"
	MetricMonthlyPlacements  = "monthly_placements"
	MetricPlacementRate      = "placement_rate"
	MetricAvgProductivity    = "avg_productivity"
	MetricTopicCompletions   = "topic_completions"
	MetricAvgQuizScore       = "avg_quiz_score"
	MetricQuizPassRate       = "quiz_pass_rate"
	MetricActiveUsers        = "active_users"
	MetricSessions24h        = "sessions_24h"
	MetricOpenJobs           = "open_jobs"
	MetricActiveApplications = "active_applications"
)

// BusinessMetric is one append-only observation of a metric series.
type BusinessMetric struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      MetricCategory `json:"category"`
	Value         float64        `json:"value"`
	Trend         Trend          `json:"trend"`
	ChangePercent float64        `json:"change_percent"`
	Period        Period         `json:"period"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// SeriesKey identifies the metric series this observation belongs to.
func (m BusinessMetric) SeriesKey() string {
	return SeriesKey(m.Category, m.Name)
}

// SeriesKey builds the "category:name" key for a metric series.
func SeriesKey(category MetricCategory, name string) string {
	return string(category) + ":" + name
}

package model

import "time"

// Forecast series names.
const (
	ForecastRevenue      = "revenue"
	ForecastPlacements   = "placements"
	ForecastProductivity = "productivity"
)

// MetricForecast is a recomputed-on-demand point estimate with a heuristic band.
type MetricForecast struct {
	Metric      string    `json:"metric"`
	Predicted   float64   `json:"predicted"`
	Confidence  float64   `json:"confidence"`
	UpperBound  float64   `json:"upper_bound"`
	LowerBound  float64   `json:"lower_bound"`
	HorizonDays int       `json:"horizon_days"`
	GeneratedAt time.Time `json:"generated_at"`
}

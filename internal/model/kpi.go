package model

import "time"

// KPIStatus is the three-level health of a KPI against its target.
type KPIStatus string

const (
	KPIOnTrack  KPIStatus = "on-track"
	KPIAtRisk   KPIStatus = "at-risk"
	KPIOffTrack KPIStatus = "off-track"
)

// KPI is the latest target/actual summary for one KPI id. Rows are
// overwritten on every calculation cycle.
type KPI struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Formula     string    `json:"formula"`
	Target      float64   `json:"target"`
	Current     float64   `json:"current"`
	Achievement float64   `json:"achievement"`
	Status      KPIStatus `json:"status"`
	// DataMissing is set when the source metric could not be read and
	// Current fell back to zero.
	DataMissing bool      `json:"data_missing,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

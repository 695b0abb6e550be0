// Package report exports a dashboard snapshot as a spreadsheet.
package report

import (
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/pulse/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetSummary   = "Summary"
	SheetMetrics   = "Metrics"
	SheetKPIs      = "KPIs"
	SheetForecasts = "Forecasts"
	SheetAlerts    = "Alerts"
)

const (
	numberFormat  = "#,##0.00"
	percentFormat = "0.0%"
)

var printer = message.NewPrinter(language.English)

// WriteXLSX writes d as a workbook with one sheet per dashboard section.
func WriteXLSX(w io.Writer, d *model.Dashboard) error {
	if d == nil {
		return eris.New("report: nil dashboard")
	}

	f := xlsx.NewFile()
	builders := []struct {
		name  string
		build func(*xlsx.Sheet, *model.Dashboard)
	}{
		{SheetSummary, summarySheet},
		{SheetMetrics, metricsSheet},
		{SheetKPIs, kpiSheet},
		{SheetForecasts, forecastSheet},
		{SheetAlerts, alertSheet},
	}
	for _, b := range builders {
		sheet, err := f.AddSheet(b.name)
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %s", b.name)
		}
		b.build(sheet, d)
	}

	return eris.Wrap(f.Write(w), "report: write workbook")
}

func summarySheet(s *xlsx.Sheet, d *model.Dashboard) {
	addStrings(s, "Field", "Value")
	addStrings(s, "Period", string(d.Period))
	addStrings(s, "Generated", d.Timestamp.UTC().Format(time.RFC3339))

	var onTrack int
	for _, k := range d.KPIs {
		if k.Status == model.KPIOnTrack {
			onTrack++
		}
	}
	addStrings(s, "KPIs on track", printer.Sprintf("%d of %d", onTrack, len(d.KPIs)))
	addStrings(s, "Active alerts", printer.Sprintf("%d", len(d.Alerts)))

	var placements, applications int
	for _, b := range d.Realtime {
		placements += b.Placements
		applications += b.Applications
	}
	addStrings(s, "Placements (24h)", printer.Sprintf("%d", placements))
	addStrings(s, "Applications (24h)", printer.Sprintf("%d", applications))

	for _, in := range d.Insights {
		addStrings(s, "Insight: "+in.Title, in.Content)
	}
}

func metricsSheet(s *xlsx.Sheet, d *model.Dashboard) {
	addStrings(s, "Category", "Metric", "Value", "Change %", "Trend", "Period", "Timestamp")
	for _, m := range d.Metrics {
		row := s.AddRow()
		row.AddCell().SetString(string(m.Category))
		row.AddCell().SetString(m.Name)
		row.AddCell().SetFloatWithFormat(m.Value, numberFormat)
		row.AddCell().SetFloatWithFormat(m.ChangePercent/100, percentFormat)
		row.AddCell().SetString(string(m.Trend))
		row.AddCell().SetString(string(m.Period))
		row.AddCell().SetString(m.Timestamp.UTC().Format(time.RFC3339))
	}
}

func kpiSheet(s *xlsx.Sheet, d *model.Dashboard) {
	addStrings(s, "KPI", "Formula", "Current", "Target", "Achievement", "Status", "Note")
	for _, k := range d.KPIs {
		row := s.AddRow()
		row.AddCell().SetString(k.Name)
		row.AddCell().SetString(k.Formula)
		row.AddCell().SetFloatWithFormat(k.Current, numberFormat)
		row.AddCell().SetFloatWithFormat(k.Target, numberFormat)
		row.AddCell().SetFloatWithFormat(k.Achievement/100, percentFormat)
		row.AddCell().SetString(statusLabel(k.Status))
		note := ""
		if k.DataMissing {
			note = "source metric unavailable"
		}
		row.AddCell().SetString(note)
	}
}

func forecastSheet(s *xlsx.Sheet, d *model.Dashboard) {
	addStrings(s, "Metric", "Predicted", "Lower", "Upper", "Confidence", "Horizon", "Generated")
	for _, name := range sortedKeys(d.Forecasts) {
		fc := d.Forecasts[name]
		row := s.AddRow()
		row.AddCell().SetString(name)
		row.AddCell().SetFloatWithFormat(fc.Predicted, numberFormat)
		row.AddCell().SetFloatWithFormat(fc.LowerBound, numberFormat)
		row.AddCell().SetFloatWithFormat(fc.UpperBound, numberFormat)
		row.AddCell().SetFloatWithFormat(fc.Confidence, percentFormat)
		row.AddCell().SetString(printer.Sprintf("%d days", fc.HorizonDays))
		row.AddCell().SetString(fc.GeneratedAt.UTC().Format(time.RFC3339))
	}
}

func alertSheet(s *xlsx.Sheet, d *model.Dashboard) {
	addStrings(s, "Severity", "Type", "Message", "Status", "Created")
	for _, a := range d.Alerts {
		addStrings(s,
			strings.ToUpper(string(a.Severity)),
			a.AlertType,
			a.Message,
			string(a.Status),
			a.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
}

func addStrings(s *xlsx.Sheet, values ...string) {
	row := s.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func statusLabel(st model.KPIStatus) string {
	switch st {
	case model.KPIOnTrack:
		return "On track"
	case model.KPIAtRisk:
		return "At risk"
	case model.KPIOffTrack:
		return "Off track"
	}
	return string(st)
}

func sortedKeys(m map[string]model.MetricForecast) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

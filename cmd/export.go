package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/report"
)

var (
	exportPeriod string
	exportOut    string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the CEO dashboard to a spreadsheet",
	Long:  "Builds the dashboard for --period and writes it as an xlsx workbook (or JSON with --format json).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		period, err := model.ParseDashboardPeriod(exportPeriod)
		if err != nil {
			return err
		}
		if exportFormat != "xlsx" && exportFormat != "json" {
			return eris.Errorf("unknown format %q (want xlsx or json)", exportFormat)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Dashboard.Build(ctx, period)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		path := exportOut
		if path == "" {
			path = exportFilename(period, exportFormat, time.Now())
		}
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		if err := writeDashboard(f, d, exportFormat); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "export: close file")
		}

		zap.L().Info("dashboard exported",
			zap.String("path", path),
			zap.String("period", string(period)),
			zap.Int("metrics", len(d.Metrics)),
			zap.Int("alerts", len(d.Alerts)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPeriod, "period", "monthly", "dashboard period: daily, weekly, monthly, quarterly or yearly")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default pulse-<period>-<date>.<format>)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "output format: xlsx or json")
	rootCmd.AddCommand(exportCmd)
}

func exportFilename(period model.DashboardPeriod, format string, now time.Time) string {
	return fmt.Sprintf("pulse-%s-%s.%s", period, now.UTC().Format("2006-01-02"), format)
}

func writeDashboard(w io.Writer, d *model.Dashboard, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(d), "export: encode json")
	}
	return report.WriteXLSX(w, d)
}

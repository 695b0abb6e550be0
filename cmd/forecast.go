package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
)

var forecastMetric string

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Generate metric forecasts",
	Long:  "Generates the revenue, placements and productivity forecasts, or only --metric, using the configured prediction engine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()

		if forecastMetric != "" {
			fc, err := env.Forecasts.Generate(ctx, forecastMetric)
			if err != nil {
				return eris.Wrap(err, "forecast")
			}
			formatForecasts(os.Stdout, map[string]model.MetricForecast{fc.Metric: *fc})
			return nil
		}

		all, err := env.Forecasts.All(ctx)
		formatForecasts(os.Stdout, all)
		if err != nil {
			if len(all) == 0 {
				return eris.Wrap(err, "forecast")
			}
			zap.L().Warn("some forecasts failed", zap.Error(err))
		}
		return nil
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastMetric, "metric", "", "forecast only this metric: revenue, placements or productivity")
	rootCmd.AddCommand(forecastCmd)
}

// formatForecasts writes forecasts to w ordered by metric name.
func formatForecasts(out io.Writer, forecasts map[string]model.MetricForecast) {
	names := make([]string, 0, len(forecasts))
	for name := range forecasts {
		names = append(names, name)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tPREDICTED\tLOWER\tUPPER\tCONFIDENCE\tHORIZON")
	_, _ = fmt.Fprintln(w, "------\t---------\t-----\t-----\t----------\t-------")
	for _, name := range names {
		fc := forecasts[name]
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.0f%%\t%dd\n",
			name,
			fc.Predicted,
			fc.LowerBound,
			fc.UpperBound,
			fc.Confidence*100,
			fc.HorizonDays,
		)
	}
	_ = w.Flush()
}

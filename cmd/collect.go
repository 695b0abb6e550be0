package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/metrics"
)

var (
	collectTier string
	collectKPIs bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one metric collection cycle",
	Long:  "Collects every metric family once (or only those of --tier), writes the observations and refreshes the metric cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, ok := metrics.ParseTier(collectTier)
		if !ok {
			return eris.Errorf("unknown tier %q (want realtime, frequent or hourly)", collectTier)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()

		var rep metrics.Report
		if tier == "" {
			rep = env.Collector.CollectAll(ctx)
		} else {
			rep = env.Collector.CollectTier(ctx, tier)
		}
		formatCollectReport(os.Stdout, rep)

		if collectKPIs {
			kpis, err := env.KPIs.Calculate(ctx)
			if err != nil {
				return eris.Wrap(err, "collect: calculate kpis")
			}
			formatKPIs(os.Stdout, kpis)
		}

		if rep.Status() == "failed" {
			return eris.New("collect: every metric family failed")
		}
		if failed := rep.Failed(); len(failed) > 0 {
			zap.L().Warn("collection partially failed", zap.Int("failed_families", len(failed)))
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectTier, "tier", "", "collect only this tier: realtime, frequent or hourly")
	collectCmd.Flags().BoolVar(&collectKPIs, "kpis", false, "recalculate KPIs after collecting")
	rootCmd.AddCommand(collectCmd)
}

// formatCollectReport writes one line per metric family to w.
func formatCollectReport(out io.Writer, rep metrics.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FAMILY\tTIER\tMETRICS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "------\t----\t-------\t--------\t-----")
	for _, o := range rep.Outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = truncate(o.Err.Error(), 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			o.Family,
			o.Tier,
			o.Written,
			o.Duration.Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nstatus: %s (%d metrics)\n", rep.Status(), len(rep.Metrics()))
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

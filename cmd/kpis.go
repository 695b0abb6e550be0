package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/monitoring"
)

var kpisCheck bool

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Recalculate and print KPIs",
	Long:  "Scores every KPI from the latest metrics, stores the result and, with --check, raises or resolves KPI alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()

		kpis, err := env.KPIs.Calculate(ctx)
		if err != nil {
			return eris.Wrap(err, "kpis")
		}
		formatKPIs(os.Stdout, kpis)

		if !kpisCheck {
			return nil
		}
		res, err := monitoring.NewChecker(env.Store, env.Alerter, cfg.Monitoring).Check(ctx)
		if err != nil {
			return eris.Wrap(err, "kpis: check alerts")
		}
		_, _ = fmt.Fprintf(os.Stdout, "\nalerts: %d triggered, %d raised, %d resolved\n", res.Triggered, res.Raised, res.Resolved)
		return nil
	},
}

func init() {
	kpisCmd.Flags().BoolVar(&kpisCheck, "check", false, "evaluate KPI alerts after calculating")
	rootCmd.AddCommand(kpisCmd)
}

// formatKPIs writes a tabular representation of kpis to w.
func formatKPIs(out io.Writer, kpis []model.KPI) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KPI\tCURRENT\tTARGET\tACHIEVED\tSTATUS")
	_, _ = fmt.Fprintln(w, "---\t-------\t------\t--------\t------")
	for _, k := range kpis {
		status := string(k.Status)
		if k.DataMissing {
			status += " (no data)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.1f%%\t%s\n",
			k.ID,
			k.Current,
			k.Target,
			k.Achievement,
			status,
		)
	}
	_ = w.Flush()
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/orchestrator"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Emit, process and inspect system events",
}

// -- events emit --

var eventsEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Insert a system event",
	Long:  "Validates the payload against the handler for --type and inserts a pending event. The running router picks it up via LISTEN/NOTIFY.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		t, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		payload, _ := cmd.Flags().GetString("payload")
		targets, _ := cmd.Flags().GetStringSlice("target")

		raw, err := readPayload(payload, os.Stdin)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "events")
		if err != nil {
			return err
		}
		defer env.Close()

		ev, err := env.Events.Emit(ctx, model.EventType(t), source, raw, targets...)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout, ev.ID)
		return nil
	},
}

// -- events process --

var eventsProcessCmd = &cobra.Command{
	Use:   "process [event-id]",
	Short: "Route pending events once",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "events")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			out, err := env.Events.Process(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s: %s\n", args[0], out)
			return nil
		}

		counts, err := env.Events.ProcessPending(ctx, cfg.Events.BatchSize)
		if err != nil {
			return err
		}
		formatOutcomes(os.Stdout, counts)
		return nil
	},
}

// -- events requeue --

var eventsRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move failed and stale processing events back to pending",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "events")
		if err != nil {
			return err
		}
		defer env.Close()

		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		if maxAttempts <= 0 {
			maxAttempts = cfg.Events.MaxAttempts
		}
		stale, err := env.Events.RequeueStale(ctx, secs(cfg.Events.ClaimTimeoutSecs), maxAttempts)
		if err != nil {
			return err
		}
		n, err := env.Events.RequeueFailed(ctx, maxAttempts)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "requeued %d failed and %d stale events\n", n, stale)
		return nil
	},
}

// -- events schemas --

var eventsSchemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Print the payload schema of every event type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		return writeSchemas(os.Stdout, format)
	},
}

func init() {
	eventsEmitCmd.Flags().String("type", "", "event type, e.g. candidate_placed")
	eventsEmitCmd.Flags().String("source", "cli", "source module")
	eventsEmitCmd.Flags().String("payload", "{}", "JSON payload, or - to read stdin")
	eventsEmitCmd.Flags().StringSlice("target", nil, "target modules")
	_ = eventsEmitCmd.MarkFlagRequired("type")

	eventsRequeueCmd.Flags().Int("max-attempts", 0, "requeue only events with fewer attempts (default from config)")
	eventsSchemasCmd.Flags().String("format", "yaml", "output format: yaml or json")

	eventsCmd.AddCommand(eventsEmitCmd, eventsProcessCmd, eventsRequeueCmd, eventsSchemasCmd)
	rootCmd.AddCommand(eventsCmd)
}

// writeSchemas prints the schemas of the default handlers. It needs no
// database.
func writeSchemas(w io.Writer, format string) error {
	reg := orchestrator.NewRegistry().MustRegister(orchestrator.DefaultHandlers(nil)...)
	return reg.WriteSchemas(w, format)
}

// readPayload returns flag as JSON, reading stdin when flag is "-".
func readPayload(flag string, stdin io.Reader) (json.RawMessage, error) {
	if flag == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "read payload from stdin")
		}
		flag = string(b)
	}
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(flag)) {
		return nil, eris.Wrap(model.ErrInvalidPayload, "payload is not valid JSON")
	}
	return json.RawMessage(flag), nil
}

// formatOutcomes writes routing counts in a fixed order.
func formatOutcomes(out io.Writer, counts map[orchestrator.Outcome]int) {
	for _, o := range []orchestrator.Outcome{
		orchestrator.OutcomeProcessed,
		orchestrator.OutcomeSkipped,
		orchestrator.OutcomeUnhandled,
		orchestrator.OutcomeFailed,
	} {
		_, _ = fmt.Fprintf(out, "%-10s %d\n", o, counts[o])
	}
}

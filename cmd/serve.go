package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/api"
	"github.com/sells-group/pulse/internal/metrics"
	"github.com/sells-group/pulse/internal/monitoring"
	"github.com/sells-group/pulse/internal/orchestrator"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort       int
	serveNoCollect  bool
	serveNoEvents   bool
	serveNoMonitors bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector, event router, KPI monitor and dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		wg := startBackground(ctx, env, backgroundOptions{
			collect:  !serveNoCollect,
			events:   !serveNoEvents,
			monitors: !serveNoMonitors,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := newServer(env, port)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return eris.Wrap(err, "server listen")
		}

		wg.Wait()
		return nil
	},
}

// newServer builds the HTTP server for the dashboard and event API.
func newServer(env *appEnv, port int) *http.Server {
	h := api.NewHandler(env.Dashboard, env.Events, env.Events.Registry(), env.Telemetry.Handler(), env.Store.Ping)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewRouter(h, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type backgroundOptions struct {
	collect  bool
	events   bool
	monitors bool
}

// startBackground launches the scheduler, event listener and KPI checker.
// The returned WaitGroup completes once ctx is cancelled and all have
// stopped.
func startBackground(ctx context.Context, env *appEnv, opts backgroundOptions) *sync.WaitGroup {
	var wg sync.WaitGroup

	if opts.collect {
		sched := metrics.NewScheduler(env.Collector, cfg.Collector, env.Telemetry)
		sched.AfterFrequent = func(ctx context.Context) {
			if _, err := env.KPIs.Calculate(ctx); err != nil {
				zap.L().Error("kpi calculation failed", zap.Error(err))
			}
		}
		wg.Go(func() { sched.Run(ctx) })
	}

	if opts.events {
		if cfg.Events.ClaimTimeoutSecs > 0 {
			if _, err := env.Events.RequeueStale(ctx, secs(cfg.Events.ClaimTimeoutSecs), cfg.Events.MaxAttempts); err != nil {
				zap.L().Warn("requeue stale events", zap.Error(err))
			}
		}
		if _, err := env.Events.RequeueFailed(ctx, cfg.Events.MaxAttempts); err != nil {
			zap.L().Warn("requeue failed events", zap.Error(err))
		}

		var notifier orchestrator.Notifier
		if cfg.Events.Listen {
			notifier = env.Store
		}
		listener := orchestrator.NewListener(env.Events, notifier, cfg.Events)
		wg.Go(func() { listener.Run(ctx) })
	}

	if opts.monitors {
		checker := monitoring.NewChecker(env.Store, env.Alerter, cfg.Monitoring)
		wg.Go(func() { checker.Run(ctx) })
	}

	return &wg
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCollect, "no-collect", false, "do not run the metric scheduler")
	serveCmd.Flags().BoolVar(&serveNoEvents, "no-events", false, "do not route system events")
	serveCmd.Flags().BoolVar(&serveNoMonitors, "no-monitor", false, "do not run the KPI alert checker")
	rootCmd.AddCommand(serveCmd)
}

package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/model"
)

// KPISource lists the current KPI rows.
type KPISource interface {
	ListKPIs(ctx context.Context) ([]model.KPI, error)
}

// Result summarises one check.
type Result struct {
	Triggered int
	Raised    int
	Resolved  int64
}

// Checker runs periodic alert checks in the background.
type Checker struct {
	kpis    KPISource
	alerter *Alerter
	cfg     config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(kpis KPISource, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		kpis:    kpis,
		alerter: alerter,
		cfg:     cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			res, err := c.Check(ctx)
			if err != nil {
				log.Error("monitoring: alert check failed", zap.Error(err))
				continue
			}
			if res.Triggered == 0 && res.Resolved == 0 {
				log.Debug("monitoring: no alerts triggered")
				continue
			}
			log.Info("monitoring: alert check complete",
				zap.Int("alerts_triggered", res.Triggered),
				zap.Int("alerts_raised", res.Raised),
				zap.Int64("alerts_resolved", res.Resolved),
			)
		}
	}
}

// Check loads the KPIs, resolves alerts for statuses a KPI has left and
// raises alerts for its current status.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	kpis, err := c.kpis.ListKPIs(ctx)
	if err != nil {
		return Result{}, eris.Wrap(err, "monitoring: load kpis")
	}

	var res Result
	for _, k := range kpis {
		for _, s := range []model.KPIStatus{model.KPIAtRisk, model.KPIOffTrack} {
			if s == k.Status {
				continue
			}
			n, err := c.alerter.store.ResolveAlerts(ctx, AlertType(k.ID, s))
			if err != nil {
				return res, eris.Wrapf(err, "monitoring: resolve %s", k.ID)
			}
			res.Resolved += n
		}
	}

	alerts := c.alerter.Evaluate(kpis)
	res.Triggered = len(alerts)
	res.Raised, err = c.alerter.Raise(ctx, alerts)
	return res, err
}

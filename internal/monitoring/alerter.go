// Package monitoring raises and resolves alerts from KPI status.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/kpi"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/telemetry"
)

// AlertStore persists alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *model.Alert) error
	HasActiveAlert(ctx context.Context, alertType string) (bool, error)
	ResolveAlerts(ctx context.Context, prefix string) (int64, error)
}

// AlertType is the alert type raised for a KPI in status.
func AlertType(kpiID string, status model.KPIStatus) string {
	return "kpi_" + kpiID + "_" + string(status)
}

// Alerter evaluates KPIs and raises alerts, posting each new one to an
// optional webhook.
type Alerter struct {
	store   AlertStore
	cfg     config.MonitoringConfig
	client  *http.Client
	metrics *telemetry.Metrics
}

// NewAlerter creates an Alerter. m may be nil.
func NewAlerter(st AlertStore, cfg config.MonitoringConfig, m *telemetry.Metrics) *Alerter {
	return &Alerter{
		store:   st,
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: m,
	}
}

// Evaluate returns one alert per KPI that is not on track. Off-track
// revenue is critical, any other off-track KPI high, at-risk medium.
func (a *Alerter) Evaluate(kpis []model.KPI) []model.Alert {
	var alerts []model.Alert
	now := time.Now().UTC()

	for _, k := range kpis {
		var sev model.Severity
		switch {
		case k.Status == model.KPIOffTrack && k.ID == kpi.Revenue:
			sev = model.SeverityCritical
		case k.Status == model.KPIOffTrack:
			sev = model.SeverityHigh
		case k.Status == model.KPIAtRisk:
			sev = model.SeverityMedium
		default:
			continue
		}

		msg := fmt.Sprintf("%s is %s: %.1f of %.1f target (%.1f%%)",
			k.Name, k.Status, k.Current, k.Target, k.Achievement)
		if k.DataMissing {
			msg += "; source metric unavailable"
		}
		alerts = append(alerts, model.Alert{
			Severity:  sev,
			AlertType: AlertType(k.ID, k.Status),
			Message:   msg,
			Status:    model.AlertActive,
			Details: map[string]any{
				"kpi_id":       k.ID,
				"current":      k.Current,
				"target":       k.Target,
				"achievement":  k.Achievement,
				"data_missing": k.DataMissing,
			},
			CreatedAt: now,
		})
	}
	return alerts
}

// Raise stores each alert unless one of the same type is already active,
// and posts newly stored alerts to the webhook. It returns how many were
// stored.
func (a *Alerter) Raise(ctx context.Context, alerts []model.Alert) (int, error) {
	raised := 0
	for i := range alerts {
		alert := &alerts[i]
		exists, err := a.store.HasActiveAlert(ctx, alert.AlertType)
		if err != nil {
			return raised, eris.Wrapf(err, "monitoring: check %s", alert.AlertType)
		}
		if exists {
			continue
		}
		if err := a.store.InsertAlert(ctx, alert); err != nil {
			return raised, eris.Wrapf(err, "monitoring: raise %s", alert.AlertType)
		}
		raised++
		a.metrics.RecordAlert(string(alert.Severity))
		zap.L().Info("monitoring: alert raised",
			zap.String("type", alert.AlertType),
			zap.String("severity", string(alert.Severity)),
		)

		if a.cfg.WebhookURL == "" {
			continue
		}
		if err := a.sendWebhook(ctx, *alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", alert.AlertType),
				zap.Error(err),
			)
		}
	}
	return raised, nil
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

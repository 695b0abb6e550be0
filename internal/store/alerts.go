package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/model"
)

// InsertAlert stores a new alert, filling id, status and creation time when unset.
func (s *PostgresStore) InsertAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AlertActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(nonNilMap(a.Details))
	if err != nil {
		return eris.Wrap(err, "store: marshal alert details")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO system_alerts (id, severity, alert_type, message, status, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, string(a.Severity), a.AlertType, a.Message, string(a.Status), details, a.CreatedAt,
	)
	return eris.Wrapf(err, "store: insert alert %s", a.AlertType)
}

// HasActiveAlert reports whether an active alert of alertType exists.
func (s *PostgresStore) HasActiveAlert(ctx context.Context, alertType string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM system_alerts WHERE alert_type = $1 AND status = 'active')`, alertType,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "store: check active alert %s", alertType)
}

// ResolveAlerts resolves active alerts whose type starts with prefix.
func (s *PostgresStore) ResolveAlerts(ctx context.Context, prefix string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE system_alerts SET status = 'resolved', resolved_at = now()
		 WHERE status = 'active' AND starts_with(alert_type, $1)`, prefix)
	if err != nil {
		return 0, eris.Wrapf(err, "store: resolve alerts %s", prefix)
	}
	return tag.RowsAffected(), nil
}

// ActiveAlerts returns up to limit active alerts, most severe first and
// most recent first within a severity.
func (s *PostgresStore) ActiveAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, severity, alert_type, message, status, details, created_at
		FROM system_alerts
		WHERE status = 'active'
		ORDER BY CASE severity
			WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0
		END DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: active alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a                model.Alert
			severity, status string
			details          []byte
		)
		if err := rows.Scan(&a.ID, &severity, &a.AlertType, &a.Message, &status, &details, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan alert")
		}
		a.Severity = model.Severity(severity)
		a.Status = model.AlertStatus(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, eris.Wrap(err, "store: decode alert details")
			}
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate alerts")
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
)

// EventsChannel is the NOTIFY channel fired by the system_events insert trigger.
const EventsChannel = "system_events"

// InsertEvent stores a new pending event, assigning an id and creation time
// when unset. The insert trigger notifies listeners.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.SystemEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Status = model.EventPending
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	targets := ev.TargetModules
	if targets == nil {
		targets = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_events (id, event_type, source_module, target_modules, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, string(ev.EventType), ev.SourceModule, targets, []byte(payload), string(ev.Status), ev.CreatedAt,
	)
	return eris.Wrapf(err, "store: insert event %s", ev.ID)
}

const eventSelect = `SELECT id, event_type, source_module, target_modules, payload, status, attempts, error, created_at, processed_at FROM system_events`

// GetEvent loads one event, or ErrNotFound.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.SystemEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, eventSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get event %s", id)
	}
	return ev, nil
}

// ListPendingEvents returns up to limit pending events of the given types,
// oldest first.
func (s *PostgresStore) ListPendingEvents(ctx context.Context, types []model.EventType, limit int) ([]model.SystemEvent, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := s.pool.Query(ctx,
		eventSelect+` WHERE status = 'pending' AND event_type = ANY($1) ORDER BY created_at LIMIT $2`,
		names, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list pending events")
	}
	defer rows.Close()

	var out []model.SystemEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate events")
}

// ClaimEvent moves an event from pending to processing. It reports false
// when another worker already claimed it or it is no longer pending.
func (s *PostgresStore) ClaimEvent(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE system_events SET status = 'processing', attempts = attempts + 1, claimed_at = now() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "store: claim event %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// FailEvent marks a claimed event failed and records the error text.
func (s *PostgresStore) FailEvent(ctx context.Context, id string, cause string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE system_events SET status = 'failed', error = $2 WHERE id = $1`, id, cause)
	return eris.Wrapf(err, "store: fail event %s", id)
}

// RequeueFailed returns failed events with fewer than maxAttempts attempts
// to pending and reports how many moved.
func (s *PostgresStore) RequeueFailed(ctx context.Context, maxAttempts int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE system_events SET status = 'pending' WHERE status = 'failed' AND attempts < $1`, maxAttempts)
	if err != nil {
		return 0, eris.Wrap(err, "store: requeue failed events")
	}
	return tag.RowsAffected(), nil
}

// RequeueStale recovers events whose claim is older than cutoff, which
// happens when a worker dies between claiming and applying. Events with
// fewer than maxAttempts attempts go back to pending; the rest are marked
// failed so they stop counting as in flight.
func (s *PostgresStore) RequeueStale(ctx context.Context, cutoff time.Time, maxAttempts int) (requeued, failed int64, err error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE system_events
		SET status     = CASE WHEN attempts < $2 THEN 'pending' ELSE 'failed' END,
			error      = CASE WHEN attempts < $2 THEN error ELSE 'claim expired' END,
			claimed_at = NULL
		WHERE status = 'processing' AND (claimed_at IS NULL OR claimed_at < $1)
		RETURNING status`, cutoff, maxAttempts)
	if err != nil {
		return 0, 0, eris.Wrap(err, "store: requeue stale events")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, 0, eris.Wrap(err, "store: scan stale event")
		}
		if status == string(model.EventPending) {
			requeued++
		} else {
			failed++
		}
	}
	return requeued, failed, eris.Wrap(rows.Err(), "store: iterate stale events")
}

// ApplyEffects writes every effect and marks the event processed in one
// transaction. Keyed inserts use the event id so a replay is a no-op.
func (s *PostgresStore) ApplyEffects(ctx context.Context, eventID string, effects []model.Effect) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: apply effects: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range effects {
		if err := applyEffect(ctx, tx, eventID, e); err != nil {
			return eris.Wrapf(err, "store: apply %s for event %s", e.EffectKind(), eventID)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE system_events SET status = 'processed', error = '', processed_at = now() WHERE id = $1`, eventID,
	); err != nil {
		return eris.Wrapf(err, "store: mark event %s processed", eventID)
	}
	return eris.Wrap(tx.Commit(ctx), "store: apply effects: commit")
}

func applyEffect(ctx context.Context, tx pgx.Tx, eventID string, e model.Effect) error {
	switch v := e.(type) {
	case model.RoleChange:
		if v.Remove != "" {
			if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, v.UserID, v.Remove); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, v.UserID, v.Add)
		return err

	case model.OnboardingRecord:
		details, err := json.Marshal(nonNilMap(v.Details))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO onboarding_records (id, user_id, source, source_event_id, details)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (source_event_id, user_id) DO NOTHING`,
			uuid.NewString(), v.UserID, v.Source, eventID, details)
		return err

	case model.Notification:
		data, err := json.Marshal(nonNilMap(v.Data))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO notifications (id, user_id, kind, title, message, data, source_event_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (source_event_id, user_id, kind) DO NOTHING`,
			uuid.NewString(), v.UserID, v.Kind, v.Title, v.Message, data, eventID)
		return err

	case model.TrackingSettings:
		goals, err := json.Marshal(nonNilMap(v.Goals))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO productivity_settings (user_id, enabled, goals) VALUES ($1, true, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			v.UserID, goals)
		return err

	case model.WorkflowInstance:
		wfCtx, err := json.Marshal(nonNilMap(v.Context))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_instances (id, workflow_type, user_id, context, source_event_id)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (source_event_id, workflow_type) DO NOTHING`,
			uuid.NewString(), v.WorkflowType, v.UserID, wfCtx, eventID)
		return err

	case model.WorkflowStatus:
		_, err := tx.Exec(ctx,
			`UPDATE workflow_instances SET status = $2, updated_at = now() WHERE id = $1`, v.InstanceID, v.Status)
		return err

	case model.JobStatus:
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, v.JobID, v.Status)
		return err
	}
	return eris.Errorf("unknown effect %T", e)
}

// Listen blocks on LISTEN channel and calls handle with each notification
// payload until ctx is cancelled.
func (s *PostgresStore) Listen(ctx context.Context, channel string, handle func(payload string)) error {
	if s.raw == nil {
		return eris.New("store: listen requires a dedicated pgx pool")
	}
	conn, err := s.raw.Acquire(ctx)
	if err != nil {
		return eris.Wrap(err, "store: acquire listen conn")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return eris.Wrapf(err, "store: listen %s", channel)
	}
	zap.L().Info("store: listening", zap.String("channel", channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return eris.Wrapf(err, "store: wait for notification on %s", channel)
		}
		handle(n.Payload)
	}
}

func scanEvent(row pgx.Row) (*model.SystemEvent, error) {
	var (
		ev                model.SystemEvent
		eventType, status string
		payload           []byte
	)
	if err := row.Scan(&ev.ID, &eventType, &ev.SourceModule, &ev.TargetModules, &payload,
		&status, &ev.Attempts, &ev.Error, &ev.CreatedAt, &ev.ProcessedAt); err != nil {
		return nil, err
	}
	ev.EventType = model.EventType(eventType)
	ev.Status = model.EventStatus(status)
	ev.Payload = json.RawMessage(payload)
	return &ev, nil
}

// Package orchestrator routes cross-module system events to handlers and
// applies their effects.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/telemetry"
)

// Outcome is the result of routing one event.
type Outcome string

const (
	// OutcomeProcessed means every effect was applied and the event is processed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped means another worker had already claimed the event.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUnhandled means no handler is registered; the event stays pending.
	OutcomeUnhandled Outcome = "unhandled"
	// OutcomeFailed means planning or applying failed; the event is marked failed.
	OutcomeFailed Outcome = "failed"
)

// Store is the event persistence the router needs.
type Store interface {
	InsertEvent(ctx context.Context, ev *model.SystemEvent) error
	GetEvent(ctx context.Context, id string) (*model.SystemEvent, error)
	ListPendingEvents(ctx context.Context, types []model.EventType, limit int) ([]model.SystemEvent, error)
	ClaimEvent(ctx context.Context, id string) (bool, error)
	FailEvent(ctx context.Context, id string, cause string) error
	ApplyEffects(ctx context.Context, eventID string, effects []model.Effect) error
	RequeueFailed(ctx context.Context, maxAttempts int) (int64, error)
	RequeueStale(ctx context.Context, cutoff time.Time, maxAttempts int) (requeued, failed int64, err error)
}

// Router dispatches events to registered handlers.
type Router struct {
	store    Store
	registry *Registry
	metrics  *telemetry.Metrics
}

// NewRouter creates a Router. m may be nil.
func NewRouter(st Store, reg *Registry, m *telemetry.Metrics) *Router {
	return &Router{store: st, registry: reg, metrics: m}
}

// Registry returns the handler registry.
func (r *Router) Registry() *Registry { return r.registry }

// Route handles one event. Unknown types are left untouched. Known types
// are claimed, planned and applied in one transaction; any failure after
// the claim marks the event failed. The returned error is set only for
// OutcomeFailed or when the claim itself could not be attempted.
func (r *Router) Route(ctx context.Context, ev model.SystemEvent) (Outcome, error) {
	log := zap.L().With(
		zap.String("component", "orchestrator"),
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.EventType)),
	)

	h, ok := r.registry.Get(ev.EventType)
	if !ok {
		log.Warn("orchestrator: no handler for event type, leaving pending")
		r.metrics.RecordEvent(string(ev.EventType), string(OutcomeUnhandled))
		return OutcomeUnhandled, nil
	}

	claimed, err := r.store.ClaimEvent(ctx, ev.ID)
	if err != nil {
		r.metrics.RecordEvent(string(ev.EventType), "error")
		return "", eris.Wrapf(err, "orchestrator: claim %s", ev.ID)
	}
	if !claimed {
		log.Debug("orchestrator: event already claimed")
		r.metrics.RecordEvent(string(ev.EventType), string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}

	effects, err := h.Plan(ctx, ev)
	if err != nil {
		return r.fail(ctx, log, ev, eris.Wrapf(err, "orchestrator: plan %s", ev.EventType))
	}
	if err := r.store.ApplyEffects(ctx, ev.ID, effects); err != nil {
		return r.fail(ctx, log, ev, err)
	}

	log.Info("orchestrator: event processed", zap.Int("effects", len(effects)))
	r.metrics.RecordEvent(string(ev.EventType), string(OutcomeProcessed))
	return OutcomeProcessed, nil
}

func (r *Router) fail(ctx context.Context, log *zap.Logger, ev model.SystemEvent, cause error) (Outcome, error) {
	log.Error("orchestrator: event failed", zap.Error(cause))
	r.metrics.RecordEvent(string(ev.EventType), string(OutcomeFailed))
	if err := r.store.FailEvent(context.WithoutCancel(ctx), ev.ID, cause.Error()); err != nil {
		log.Error("orchestrator: could not mark event failed", zap.Error(err))
	}
	return OutcomeFailed, cause
}

// Process loads the event by id and routes it.
func (r *Router) Process(ctx context.Context, id string) (Outcome, error) {
	ev, err := r.store.GetEvent(ctx, id)
	if err != nil {
		return "", eris.Wrapf(err, "orchestrator: load event %s", id)
	}
	if ev.Status != model.EventPending {
		return OutcomeSkipped, nil
	}
	return r.Route(ctx, *ev)
}

// ProcessPending routes up to limit pending events of registered types,
// oldest first, and returns how many ended in each outcome.
func (r *Router) ProcessPending(ctx context.Context, limit int) (map[Outcome]int, error) {
	types := r.registry.Types()
	if len(types) == 0 {
		return nil, nil
	}
	events, err := r.store.ListPendingEvents(ctx, types, limit)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list pending")
	}

	counts := make(map[Outcome]int)
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		out, err := r.Route(ctx, ev)
		if out == "" && err != nil {
			zap.L().Warn("orchestrator: route failed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		counts[out]++
	}
	return counts, nil
}

// Emit validates payload against the registered handler, when there is one,
// and inserts a new pending event.
func (r *Router) Emit(ctx context.Context, t model.EventType, source string, payload json.RawMessage, targets ...string) (*model.SystemEvent, error) {
	if t == "" {
		return nil, eris.New("orchestrator: event type is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, eris.Wrap(model.ErrInvalidPayload, "orchestrator: payload is not valid JSON")
	}
	ev := &model.SystemEvent{
		EventType:     t,
		SourceModule:  source,
		TargetModules: targets,
		Payload:       payload,
	}
	if h, ok := r.registry.Get(t); ok {
		if err := validate(h, *ev); err != nil {
			return nil, err
		}
	}
	if err := r.store.InsertEvent(ctx, ev); err != nil {
		return nil, eris.Wrap(err, "orchestrator: emit")
	}
	zap.L().Info("orchestrator: event emitted",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(t)),
		zap.String("source", source),
	)
	return ev, nil
}

// validate dry-runs the handler's payload decoding.
func validate(h Handler, ev model.SystemEvent) error {
	var err error
	switch h.Type() {
	case model.EventAcademyCompleted:
		_, err = decode[model.AcademyCompleted](ev)
	case model.EventEmployeeHired:
		_, err = decode[model.EmployeeHired](ev)
	case model.EventCandidatePlaced:
		_, err = decode[model.CandidatePlaced](ev)
	case model.EventProductivityMilestone:
		_, err = decode[model.ProductivityMilestone](ev)
	case model.EventWorkflowCompleted:
		_, err = decode[model.WorkflowCompleted](ev)
	}
	return err
}

// RequeueFailed moves failed events with fewer than maxAttempts attempts
// back to pending.
func (r *Router) RequeueFailed(ctx context.Context, maxAttempts int) (int64, error) {
	n, err := r.store.RequeueFailed(ctx, maxAttempts)
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: requeue")
	}
	if n > 0 {
		zap.L().Info("orchestrator: requeued failed events", zap.Int64("count", n), zap.Int("max_attempts", maxAttempts))
	}
	return n, nil
}

// RequeueStale recovers events stuck in processing for longer than
// timeout. Those still under maxAttempts return to pending, the rest fail.
func (r *Router) RequeueStale(ctx context.Context, timeout time.Duration, maxAttempts int) (int64, error) {
	requeued, failed, err := r.store.RequeueStale(ctx, time.Now().UTC().Add(-timeout), maxAttempts)
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: requeue stale")
	}
	if requeued > 0 || failed > 0 {
		zap.L().Warn("orchestrator: recovered stale claims",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed),
			zap.Duration("timeout", timeout),
		)
	}
	return requeued, nil
}

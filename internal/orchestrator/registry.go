package orchestrator

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pulse/internal/model"
)

// Handler plans the writes caused by one event type. Plan must not write;
// the router applies the returned effects atomically.
type Handler interface {
	Type() model.EventType
	Schema() model.EventSchema
	Plan(ctx context.Context, ev model.SystemEvent) ([]model.Effect, error)
}

// Registry maps event types to handlers.
type Registry struct {
	handlers map[model.EventType]Handler
	order    []model.EventType // registration order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.EventType]Handler)}
}

// Register adds h. Registering a second handler for the same type fails.
func (r *Registry) Register(h Handler) error {
	t := h.Type()
	if _, dup := r.handlers[t]; dup {
		return eris.Errorf("orchestrator: handler for %q already registered", t)
	}
	r.handlers[t] = h
	r.order = append(r.order, t)
	return nil
}

// MustRegister is Register that panics on duplicates. For wiring at startup.
func (r *Registry) MustRegister(hs ...Handler) *Registry {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the handler for t.
func (r *Registry) Get(t model.EventType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []model.EventType {
	return append([]model.EventType(nil), r.order...)
}

// Schemas returns the payload schema of every registered type.
func (r *Registry) Schemas() []model.EventSchema {
	out := make([]model.EventSchema, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.handlers[t].Schema())
	}
	return out
}

// WriteSchemas encodes the schemas as "yaml" or "json".
func (r *Registry) WriteSchemas(w io.Writer, format string) error {
	switch format {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r.Schemas()); err != nil {
			return eris.Wrap(err, "orchestrator: encode schemas")
		}
		return eris.Wrap(enc.Close(), "orchestrator: encode schemas")
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r.Schemas()), "orchestrator: encode schemas")
	default:
		return eris.Errorf("orchestrator: unknown schema format %q", format)
	}
}

// payload is implemented by the typed event payloads.
type payload interface {
	Validate() error
}

// decode unmarshals and validates the payload of ev.
func decode[T payload](ev model.SystemEvent) (T, error) {
	var p T
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, eris.Wrapf(err, "orchestrator: decode %s payload", ev.EventType)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

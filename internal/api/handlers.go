package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
)

const maxEventBody = 1 << 20

// DashboardSource returns an encoded dashboard.
type DashboardSource interface {
	JSON(ctx context.Context, period model.DashboardPeriod) ([]byte, error)
}

// EventEmitter inserts system events.
type EventEmitter interface {
	Emit(ctx context.Context, t model.EventType, source string, payload json.RawMessage, targets ...string) (*model.SystemEvent, error)
}

// SchemaSource lists the accepted event payloads.
type SchemaSource interface {
	Schemas() []model.EventSchema
}

// Handler holds the HTTP handlers' dependencies.
type Handler struct {
	dashboard DashboardSource
	events    EventEmitter
	schemas   SchemaSource
	metrics   http.Handler
	ping      func(ctx context.Context) error
}

// NewHandler creates a Handler. metrics and ping may be nil.
func NewHandler(d DashboardSource, e EventEmitter, s SchemaSource, metrics http.Handler, ping func(context.Context) error) *Handler {
	return &Handler{dashboard: d, events: e, schemas: s, metrics: metrics, ping: ping}
}

// Health reports liveness and, when configured, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dashboard serves GET /api/ceo/dashboard?period=...
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	period, err := model.ParseDashboardPeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period: use daily, weekly, monthly, quarterly or yearly")
		return
	}

	raw, err := h.dashboard.JSON(r.Context(), period)
	if err != nil {
		zap.L().Error("api: dashboard failed", zap.String("period", string(period)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw) //nolint:errcheck
}

type emitRequest struct {
	EventType     model.EventType `json:"event_type"`
	SourceModule  string          `json:"source_module"`
	TargetModules []string        `json:"target_modules"`
	Payload       json.RawMessage `json:"payload"`
}

// EmitEvent serves POST /api/events.
func (h *Handler) EmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if req.SourceModule == "" {
		req.SourceModule = "api"
	}

	ev, err := h.events.Emit(r.Context(), req.EventType, req.SourceModule, req.Payload, req.TargetModules...)
	if errors.Is(err, model.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		zap.L().Error("api: emit failed", zap.String("event_type", string(req.EventType)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to emit event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     ev.ID,
		"status": string(ev.Status),
	})
}

// EventSchemas serves GET /api/events/schemas.
func (h *Handler) EventSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.schemas.Schemas())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

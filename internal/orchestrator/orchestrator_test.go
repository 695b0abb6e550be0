package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pulse/internal/ai"
	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
	"github.com/sells-group/pulse/internal/telemetry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory event store.
type memStore struct {
	mu       sync.Mutex
	events   map[string]*model.SystemEvent
	order    []string
	applied  map[string][]model.Effect
	claims   int
	applyErr error
	seq      int
	claimed  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		events:  map[string]*model.SystemEvent{},
		applied: map[string][]model.Effect{},
		claimed: map[string]time.Time{},
	}
}

func (m *memStore) add(t model.EventType, payload string) *model.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ev := &model.SystemEvent{
		ID:        "ev-" + string(rune('a'+m.seq-1)),
		EventType: t,
		Payload:   json.RawMessage(payload),
		Status:    model.EventPending,
		CreatedAt: time.Date(2026, 1, 1, 0, m.seq, 0, 0, time.UTC),
	}
	m.events[ev.ID] = ev
	m.order = append(m.order, ev.ID)
	return ev
}

func (m *memStore) get(id string) model.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.events[id]
}

func (m *memStore) InsertEvent(_ context.Context, ev *model.SystemEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ev.ID = "emitted-" + string(rune('a'+m.seq-1))
	ev.Status = model.EventPending
	cp := *ev
	m.events[ev.ID] = &cp
	m.order = append(m.order, ev.ID)
	return nil
}

func (m *memStore) GetEvent(_ context.Context, id string) (*model.SystemEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *memStore) ListPendingEvents(_ context.Context, types []model.EventType, limit int) ([]model.SystemEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[model.EventType]bool{}
	for _, t := range types {
		want[t] = true
	}
	var out []model.SystemEvent
	for _, id := range m.order {
		ev := m.events[id]
		if ev.Status == model.EventPending && want[ev.EventType] && len(out) < limit {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *memStore) ClaimEvent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims++
	ev := m.events[id]
	if ev == nil || ev.Status != model.EventPending {
		return false, nil
	}
	ev.Status = model.EventProcessing
	ev.Attempts++
	m.claimed[id] = time.Now().UTC()
	return true, nil
}

func (m *memStore) FailEvent(_ context.Context, id string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id].Status = model.EventFailed
	m.events[id].Error = cause
	return nil
}

func (m *memStore) ApplyEffects(_ context.Context, id string, effects []model.Effect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied[id] = effects
	m.events[id].Status = model.EventProcessed
	return nil
}

func (m *memStore) RequeueFailed(_ context.Context, maxAttempts int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ev := range m.events {
		if ev.Status == model.EventFailed && ev.Attempts < maxAttempts {
			ev.Status = model.EventPending
			n++
		}
	}
	return n, nil
}

func (m *memStore) RequeueStale(_ context.Context, cutoff time.Time, maxAttempts int) (requeued, failed int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ev := range m.events {
		if ev.Status != model.EventProcessing || !m.claimed[id].Before(cutoff) {
			continue
		}
		delete(m.claimed, id)
		if ev.Attempts < maxAttempts {
			ev.Status = model.EventPending
			requeued++
		} else {
			ev.Status = model.EventFailed
			ev.Error = "claim expired"
			failed++
		}
	}
	return requeued, failed, nil
}

// backdateClaim pretends the worker holding id died age ago.
func (m *memStore) backdateClaim(id string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed[id] = m.claimed[id].Add(-age)
}

// fakeGen answers every prompt with text or err.
type fakeGen struct {
	text  string
	err   error
	calls int
}

func (f *fakeGen) Route(_ context.Context, _ ai.Request) (*ai.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Completion{Content: f.text, Provider: "anthropic"}, nil
}

func newRouter(st Store, gen ai.Generator) *Router {
	return NewRouter(st, NewRegistry().MustRegister(DefaultHandlers(gen)...), telemetry.New())
}

func kinds(effects []model.Effect) []string {
	out := make([]string, len(effects))
	for i, e := range effects {
		out[i] = e.EffectKind()
	}
	return out
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(AcademyCompletedHandler{}))
	err := r.Register(AcademyCompletedHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, []model.EventType{model.EventAcademyCompleted}, r.Types())
}

func TestRegistry_DefaultTypes(t *testing.T) {
	r := NewRegistry().MustRegister(DefaultHandlers(nil)...)
	assert.Equal(t, []model.EventType{
		model.EventAcademyCompleted,
		model.EventEmployeeHired,
		model.EventCandidatePlaced,
		model.EventProductivityMilestone,
		model.EventWorkflowCompleted,
	}, r.Types())
}

func TestRoute_AcademyCompleted(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventAcademyCompleted, `{"user_id":"u1","course_id":"go-101"}`)

	out, err := newRouter(st, nil).Route(context.Background(), *ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	effects := st.applied[ev.ID]
	assert.Equal(t, []string{"role_change", "onboarding_record", "notification", "tracking_settings", "workflow_instance"}, kinds(effects))
	assert.Equal(t, model.RoleChange{UserID: "u1", Remove: "student", Add: "employee"}, effects[0])
	wf := effects[4].(model.WorkflowInstance)
	assert.Equal(t, WorkflowEmployeeOnboarding, wf.WorkflowType)
	assert.Equal(t, "u1", wf.UserID)

	got := st.get(ev.ID)
	assert.Equal(t, model.EventProcessed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestRoute_UnknownTypeStaysPending(t *testing.T) {
	st := newMemStore()
	ev := st.add("invoice_paid", `{"invoice_id":"i1"}`)
	m := telemetry.New()
	r := NewRouter(st, NewRegistry().MustRegister(DefaultHandlers(nil)...), m)

	out, err := r.Route(context.Background(), *ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnhandled, out)
	assert.Equal(t, 0, st.claims)
	assert.Equal(t, model.EventPending, st.get(ev.ID).Status)
	assert.Empty(t, st.applied)
}

func TestRoute_AlreadyClaimed(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"w1","user_id":"u1"}`)
	st.events[ev.ID].Status = model.EventProcessing

	out, err := newRouter(st, nil).Route(context.Background(), *ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, st.applied)
}

func TestRoute_InvalidPayloadFails(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventCandidatePlaced, `{"candidate_id":"c1"}`)

	out, err := newRouter(st, nil).Route(context.Background(), *ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidPayload))
	assert.Equal(t, OutcomeFailed, out)

	got := st.get(ev.ID)
	assert.Equal(t, model.EventFailed, got.Status)
	assert.Contains(t, got.Error, "candidate_id and job_id are required")
	assert.Equal(t, 1, got.Attempts)
}

func TestRoute_ApplyFailureMarksFailed(t *testing.T) {
	st := newMemStore()
	st.applyErr = errors.New("store: apply notification: unique violation")
	ev := st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"w1","user_id":"u1"}`)

	out, err := newRouter(st, nil).Route(context.Background(), *ev)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, model.EventFailed, st.get(ev.ID).Status)
	assert.Empty(t, st.applied)
}

func TestEmployeeHired_UsesAIRecommendation(t *testing.T) {
	gen := &fakeGen{text: "Shadow a senior engineer in week one."}
	st := newMemStore()
	ev := st.add(model.EventEmployeeHired, `{"user_id":"u2","department":"engineering"}`)

	_, err := newRouter(st, gen).Route(context.Background(), *ev)
	require.NoError(t, err)

	effects := st.applied[ev.ID]
	assert.Equal(t, []string{"role_change", "onboarding_record", "workflow_instance", "notification"}, kinds(effects))
	assert.Equal(t, "Shadow a senior engineer in week one.", effects[3].(model.Notification).Message)
	assert.Equal(t, WorkflowNewHire, effects[2].(model.WorkflowInstance).WorkflowType)
	assert.Equal(t, 1, gen.calls)
}

func TestEmployeeHired_AIFailureUsesFallback(t *testing.T) {
	gen := &fakeGen{err: ai.ErrNoProviders}
	st := newMemStore()
	ev := st.add(model.EventEmployeeHired, `{"user_id":"u2"}`)

	out, err := newRouter(st, gen).Route(context.Background(), *ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
	assert.Equal(t, fallbackOnboarding, st.applied[ev.ID][3].(model.Notification).Message)
}

func TestProductivityMilestone_NilGeneratorUsesFallback(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventProductivityMilestone, `{"user_id":"u3","milestone":"100 tasks","score":92}`)

	_, err := newRouter(st, nil).Route(context.Background(), *ev)
	require.NoError(t, err)
	n := st.applied[ev.ID][0].(model.Notification)
	assert.Equal(t, fallbackMilestone, n.Message)
	assert.Equal(t, "Milestone reached: 100 tasks", n.Title)
}

func TestCandidatePlaced_Effects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"with recruiter", `{"candidate_id":"c1","job_id":"j1","recruiter_id":"r1","fee_amount":12000}`,
			[]string{"job_status", "notification", "notification", "workflow_instance"}},
		{"without recruiter", `{"candidate_id":"c1","job_id":"j1"}`,
			[]string{"job_status", "notification", "workflow_instance"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effects, err := CandidatePlacedHandler{}.Plan(context.Background(), model.SystemEvent{
				EventType: model.EventCandidatePlaced,
				Payload:   json.RawMessage(tt.payload),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, kinds(effects))
			assert.Equal(t, model.JobStatus{JobID: "j1", Status: "filled"}, effects[0])
		})
	}
}

func TestWorkflowCompleted_Effects(t *testing.T) {
	effects, err := WorkflowCompletedHandler{}.Plan(context.Background(), model.SystemEvent{
		EventType: model.EventWorkflowCompleted,
		Payload:   json.RawMessage(`{"workflow_instance_id":"w9","user_id":"u1","workflow_type":"new_hire"}`),
	})
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.Equal(t, model.WorkflowStatus{InstanceID: "w9", Status: "completed"}, effects[0])
	assert.Equal(t, "Workflow completed: new_hire", effects[1].(model.Notification).Title)
}

func TestProcessPending(t *testing.T) {
	st := newMemStore()
	st.add(model.EventAcademyCompleted, `{"user_id":"u1"}`)
	st.add("invoice_paid", `{}`)
	bad := st.add(model.EventCandidatePlaced, `{}`)
	st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"w1","user_id":"u1"}`)

	counts, err := newRouter(st, nil).ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{OutcomeProcessed: 2, OutcomeFailed: 1}, counts)
	assert.Equal(t, model.EventFailed, st.get(bad.ID).Status)
	assert.Equal(t, model.EventPending, st.get("ev-b").Status)
}

func TestProcess_ByID(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventAcademyCompleted, `{"user_id":"u1"}`)
	r := newRouter(st, nil)

	out, err := r.Process(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	out, err = r.Process(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)

	_, err = r.Process(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestEmit(t *testing.T) {
	st := newMemStore()
	r := newRouter(st, nil)

	ev, err := r.Emit(context.Background(), model.EventAcademyCompleted, "academy", json.RawMessage(`{"user_id":"u1"}`), "hr")
	require.NoError(t, err)
	assert.Equal(t, model.EventPending, ev.Status)
	assert.Equal(t, []string{"hr"}, st.get(ev.ID).TargetModules)

	_, err = r.Emit(context.Background(), model.EventAcademyCompleted, "academy", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, model.ErrInvalidPayload))

	_, err = r.Emit(context.Background(), model.EventAcademyCompleted, "academy", json.RawMessage(`{not json`))
	assert.True(t, errors.Is(err, model.ErrInvalidPayload))

	_, err = r.Emit(context.Background(), "", "academy", nil)
	assert.Error(t, err)

	unknown, err := r.Emit(context.Background(), "invoice_paid", "billing", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{}`), st.get(unknown.ID).Payload)
}

func TestRequeueFailed(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventCandidatePlaced, `{}`)
	r := newRouter(st, nil)

	_, err := r.Route(context.Background(), *ev)
	require.Error(t, err)

	n, err := r.RequeueFailed(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "attempt cap reached")

	n, err = r.RequeueFailed(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.EventPending, st.get(ev.ID).Status)
}

func TestRequeueStale_RecoversAbandonedClaim(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"wf-1","user_id":"u1"}`)
	r := newRouter(st, nil)

	// A worker claimed the event and died before applying effects.
	claimed, err := st.ClaimEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := r.RequeueStale(context.Background(), 10*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "claim is still fresh")
	assert.Equal(t, model.EventProcessing, st.get(ev.ID).Status)

	st.backdateClaim(ev.ID, 11*time.Minute)
	n, err = r.RequeueStale(context.Background(), 10*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.EventPending, st.get(ev.ID).Status)

	counts, err := r.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[OutcomeProcessed])
	assert.Equal(t, 2, st.get(ev.ID).Attempts)
}

func TestRequeueStale_AttemptCapFails(t *testing.T) {
	st := newMemStore()
	ev := st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"wf-1","user_id":"u1"}`)
	r := newRouter(st, nil)

	_, err := st.ClaimEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	st.backdateClaim(ev.ID, time.Hour)

	n, err := r.RequeueStale(context.Background(), 10*time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	got := st.get(ev.ID)
	assert.Equal(t, model.EventFailed, got.Status)
	assert.Equal(t, "claim expired", got.Error)
}

func TestWriteSchemas(t *testing.T) {
	r := NewRegistry().MustRegister(DefaultHandlers(nil)...)

	var y bytes.Buffer
	require.NoError(t, r.WriteSchemas(&y, "yaml"))
	var fromYAML []model.EventSchema
	require.NoError(t, yaml.Unmarshal(y.Bytes(), &fromYAML))
	require.Len(t, fromYAML, 5)
	assert.Equal(t, model.EventAcademyCompleted, fromYAML[0].Type)
	assert.True(t, fromYAML[0].Fields[0].Required)

	var j bytes.Buffer
	require.NoError(t, r.WriteSchemas(&j, "json"))
	var fromJSON []model.EventSchema
	require.NoError(t, json.Unmarshal(j.Bytes(), &fromJSON))
	assert.Equal(t, fromYAML, fromJSON)

	assert.Error(t, r.WriteSchemas(&j, "xml"))
}

// chanNotifier delivers ids pushed on ch.
type chanNotifier struct {
	ch chan string
}

func (n chanNotifier) Listen(ctx context.Context, _ string, handle func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-n.ch:
			handle(id)
		}
	}
}

func TestListener_NotificationAndPoll(t *testing.T) {
	st := newMemStore()
	backlog := st.add(model.EventAcademyCompleted, `{"user_id":"u1"}`)
	r := newRouter(st, nil)
	n := chanNotifier{ch: make(chan string)}
	l := NewListener(r, n, config.EventsConfig{PollIntervalSecs: 3600})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return st.get(backlog.ID).Status == model.EventProcessed
	}, 2*time.Second, 10*time.Millisecond, "backlog drained at start")

	live := st.add(model.EventWorkflowCompleted, `{"workflow_instance_id":"w1","user_id":"u1"}`)
	n.ch <- live.ID
	require.Eventually(t, func() bool {
		return st.get(live.ID).Status == model.EventProcessed
	}, 2*time.Second, 10*time.Millisecond, "notified event processed")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Listener.Run did not stop after context cancellation")
	}

	ids := make([]string, 0, len(st.applied))
	for id := range st.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{backlog.ID, live.ID}, ids)
}

func TestNewListener_Defaults(t *testing.T) {
	l := NewListener(newRouter(newMemStore(), nil), nil, config.EventsConfig{})
	assert.Equal(t, defaultPollInterval, l.interval)
	assert.Equal(t, defaultBatchSize, l.batch)
}

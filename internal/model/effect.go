package model

// Effect is one write planned by an event handler. The store applies all
// effects of an event in a single transaction, keyed on the event id so a
// replayed event cannot duplicate rows.
type Effect interface {
	EffectKind() string
}

// RoleChange removes Remove (when set) and grants Add to UserID.
type RoleChange struct {
	UserID string `json:"user_id"`
	Remove string `json:"remove,omitempty"`
	Add    string `json:"add"`
}

// OnboardingRecord opens an onboarding case for a user.
type OnboardingRecord struct {
	UserID  string         `json:"user_id"`
	Source  string         `json:"source"`
	Details map[string]any `json:"details,omitempty"`
}

// Notification is an in-app message to a user.
type Notification struct {
	UserID  string         `json:"user_id"`
	Kind    string         `json:"kind"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// TrackingSettings enables productivity tracking for a user.
type TrackingSettings struct {
	UserID string         `json:"user_id"`
	Goals  map[string]any `json:"goals,omitempty"`
}

// WorkflowInstance starts a workflow of WorkflowType for a user.
type WorkflowInstance struct {
	WorkflowType string         `json:"workflow_type"`
	UserID       string         `json:"user_id"`
	Context      map[string]any `json:"context,omitempty"`
}

// WorkflowStatus moves an existing workflow instance to Status.
type WorkflowStatus struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
}

// JobStatus moves a job posting to Status.
type JobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (RoleChange) EffectKind() string       { return "role_change" }
func (OnboardingRecord) EffectKind() string { return "onboarding_record" }
func (Notification) EffectKind() string     { return "notification" }
func (TrackingSettings) EffectKind() string { return "tracking_settings" }
func (WorkflowInstance) EffectKind() string { return "workflow_instance" }
func (WorkflowStatus) EffectKind() string   { return "workflow_status" }
func (JobStatus) EffectKind() string        { return "job_status" }

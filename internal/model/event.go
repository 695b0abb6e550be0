package model

import (
	"encoding/json"
	"time"
)

// EventType names a kind of cross-module system event.
type EventType string

const (
	EventAcademyCompleted      EventType = "academy_completed"
	EventEmployeeHired         EventType = "employee_hired"
	EventCandidatePlaced       EventType = "candidate_placed"
	EventProductivityMilestone EventType = "productivity_milestone"
	EventWorkflowCompleted     EventType = "workflow_completed"
)

// EventStatus tracks consumption of a system event.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// SystemEvent is a row in system_events.
type SystemEvent struct {
	ID            string          `json:"id"`
	EventType     EventType       `json:"event_type"`
	SourceModule  string          `json:"source_module"`
	TargetModules []string        `json:"target_modules,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// EventSchema documents the payload accepted for one event type.
type EventSchema struct {
	Type        EventType     `json:"type" yaml:"type"`
	Description string        `json:"description" yaml:"description"`
	Fields      []FieldSchema `json:"fields" yaml:"fields"`
}

// FieldSchema documents a single payload field.
type FieldSchema struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

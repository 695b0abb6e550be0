package model

import "github.com/rotisserie/eris"

// ErrInvalidPayload is returned when an event payload misses required fields.
var ErrInvalidPayload = eris.New("invalid event payload")

// AcademyCompleted is the payload of academy_completed.
type AcademyCompleted struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id,omitempty"`
}

// Validate checks required fields.
func (p AcademyCompleted) Validate() error {
	if p.UserID == "" {
		return eris.Wrap(ErrInvalidPayload, "academy_completed: user_id is required")
	}
	return nil
}

// EmployeeHired is the payload of employee_hired.
type EmployeeHired struct {
	UserID     string `json:"user_id"`
	JobID      string `json:"job_id,omitempty"`
	Department string `json:"department,omitempty"`
}

// Validate checks required fields.
func (p EmployeeHired) Validate() error {
	if p.UserID == "" {
		return eris.Wrap(ErrInvalidPayload, "employee_hired: user_id is required")
	}
	return nil
}

// CandidatePlaced is the payload of candidate_placed.
type CandidatePlaced struct {
	CandidateID string  `json:"candidate_id"`
	JobID       string  `json:"job_id"`
	RecruiterID string  `json:"recruiter_id,omitempty"`
	FeeAmount   float64 `json:"fee_amount,omitempty"`
}

// Validate checks required fields.
func (p CandidatePlaced) Validate() error {
	if p.CandidateID == "" || p.JobID == "" {
		return eris.Wrap(ErrInvalidPayload, "candidate_placed: candidate_id and job_id are required")
	}
	return nil
}

// ProductivityMilestone is the payload of productivity_milestone.
type ProductivityMilestone struct {
	UserID    string  `json:"user_id"`
	Milestone string  `json:"milestone"`
	Score     float64 `json:"score"`
}

// Validate checks required fields.
func (p ProductivityMilestone) Validate() error {
	if p.UserID == "" || p.Milestone == "" {
		return eris.Wrap(ErrInvalidPayload, "productivity_milestone: user_id and milestone are required")
	}
	return nil
}

// WorkflowCompleted is the payload of workflow_completed.
type WorkflowCompleted struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	UserID             string `json:"user_id"`
	WorkflowType       string `json:"workflow_type,omitempty"`
}

// Validate checks required fields.
func (p WorkflowCompleted) Validate() error {
	if p.WorkflowInstanceID == "" || p.UserID == "" {
		return eris.Wrap(ErrInvalidPayload, "workflow_completed: workflow_instance_id and user_id are required")
	}
	return nil
}

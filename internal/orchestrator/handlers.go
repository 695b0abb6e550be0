package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/ai"
	"github.com/sells-group/pulse/internal/model"
)

// Workflow types started by the handlers.
const (
	WorkflowEmployeeOnboarding = "employee_onboarding"
	WorkflowNewHire            = "new_hire"
	WorkflowPlacementFollowup  = "placement_followup"
)

// Canned texts used when the AI call fails.
const (
	fallbackOnboarding = "Welcome aboard! Start with your team introductions, review the onboarding checklist and book a check-in with your manager for the end of week one."
	fallbackMilestone  = "Great progress. Keep the momentum by setting a stretch goal for next week and sharing what worked with your team."
)

// DefaultHandlers returns the five built-in handlers. gen may be nil, in
// which case AI-written texts always use their fallback.
func DefaultHandlers(gen ai.Generator) []Handler {
	adv := advisor{gen: gen}
	return []Handler{
		AcademyCompletedHandler{},
		EmployeeHiredHandler{advisor: adv},
		CandidatePlacedHandler{},
		ProductivityMilestoneHandler{advisor: adv},
		WorkflowCompletedHandler{},
	}
}

// advisor asks the AI router for a short recommendation.
type advisor struct {
	gen ai.Generator
}

func (a advisor) advise(ctx context.Context, prompt string, data map[string]any, fallback string) string {
	if a.gen == nil {
		return fallback
	}
	c, err := a.gen.Route(ctx, ai.Request{
		System:    "You are an HR assistant for a recruiting and training company. Answer in at most three sentences.",
		Prompt:    prompt,
		Context:   data,
		MaxTokens: 300,
	})
	if err != nil {
		zap.L().Warn("orchestrator: ai recommendation failed, using fallback", zap.Error(err))
		return fallback
	}
	return c.Content
}

// AcademyCompletedHandler promotes a graduate from student to employee.
type AcademyCompletedHandler struct{}

func (AcademyCompletedHandler) Type() model.EventType { return model.EventAcademyCompleted }

func (AcademyCompletedHandler) Schema() model.EventSchema {
	return model.EventSchema{
		Type:        model.EventAcademyCompleted,
		Description: "A student finished the academy and becomes an employee.",
		Fields: []model.FieldSchema{
			{Name: "user_id", Type: "string", Required: true},
			{Name: "course_id", Type: "string"},
		},
	}
}

func (AcademyCompletedHandler) Plan(_ context.Context, ev model.SystemEvent) ([]model.Effect, error) {
	p, err := decode[model.AcademyCompleted](ev)
	if err != nil {
		return nil, err
	}
	return []model.Effect{
		model.RoleChange{UserID: p.UserID, Remove: "student", Add: "employee"},
		model.OnboardingRecord{
			UserID:  p.UserID,
			Source:  "academy",
			Details: map[string]any{"course_id": p.CourseID},
		},
		model.Notification{
			UserID:  p.UserID,
			Kind:    "academy_graduation",
			Title:   "Congratulations, graduate!",
			Message: "You completed the academy. Your employee onboarding has started.",
			Data:    map[string]any{"course_id": p.CourseID},
		},
		model.TrackingSettings{
			UserID: p.UserID,
			Goals:  map[string]any{"daily_active_hours": 6, "weekly_tasks": 20},
		},
		model.WorkflowInstance{
			WorkflowType: WorkflowEmployeeOnboarding,
			UserID:       p.UserID,
			Context:      map[string]any{"source": "academy", "course_id": p.CourseID},
		},
	}, nil
}

// EmployeeHiredHandler onboards a direct hire.
type EmployeeHiredHandler struct {
	advisor advisor
}

func (EmployeeHiredHandler) Type() model.EventType { return model.EventEmployeeHired }

func (EmployeeHiredHandler) Schema() model.EventSchema {
	return model.EventSchema{
		Type:        model.EventEmployeeHired,
		Description: "A new employee was hired.",
		Fields: []model.FieldSchema{
			{Name: "user_id", Type: "string", Required: true},
			{Name: "job_id", Type: "string"},
			{Name: "department", Type: "string"},
		},
	}
}

func (h EmployeeHiredHandler) Plan(ctx context.Context, ev model.SystemEvent) ([]model.Effect, error) {
	p, err := decode[model.EmployeeHired](ev)
	if err != nil {
		return nil, err
	}
	advice := h.advisor.advise(ctx,
		"Write a short onboarding recommendation for a newly hired employee.",
		map[string]any{"department": p.Department, "job_id": p.JobID},
		fallbackOnboarding,
	)
	return []model.Effect{
		model.RoleChange{UserID: p.UserID, Add: "employee"},
		model.OnboardingRecord{
			UserID:  p.UserID,
			Source:  "hire",
			Details: map[string]any{"job_id": p.JobID, "department": p.Department},
		},
		model.WorkflowInstance{
			WorkflowType: WorkflowNewHire,
			UserID:       p.UserID,
			Context:      map[string]any{"job_id": p.JobID, "department": p.Department},
		},
		model.Notification{
			UserID:  p.UserID,
			Kind:    "welcome",
			Title:   "Welcome to the team",
			Message: advice,
		},
	}, nil
}

// CandidatePlacedHandler closes a job and notifies the people involved.
type CandidatePlacedHandler struct{}

func (CandidatePlacedHandler) Type() model.EventType { return model.EventCandidatePlaced }

func (CandidatePlacedHandler) Schema() model.EventSchema {
	return model.EventSchema{
		Type:        model.EventCandidatePlaced,
		Description: "A candidate accepted a placement.",
		Fields: []model.FieldSchema{
			{Name: "candidate_id", Type: "string", Required: true},
			{Name: "job_id", Type: "string", Required: true},
			{Name: "recruiter_id", Type: "string"},
			{Name: "fee_amount", Type: "number"},
		},
	}
}

func (CandidatePlacedHandler) Plan(_ context.Context, ev model.SystemEvent) ([]model.Effect, error) {
	p, err := decode[model.CandidatePlaced](ev)
	if err != nil {
		return nil, err
	}
	effects := []model.Effect{
		model.JobStatus{JobID: p.JobID, Status: "filled"},
		model.Notification{
			UserID:  p.CandidateID,
			Kind:    "placement",
			Title:   "You've been placed!",
			Message: "Congratulations on your new role. Your recruiter will follow up with next steps.",
			Data:    map[string]any{"job_id": p.JobID},
		},
	}
	if p.RecruiterID != "" {
		effects = append(effects, model.Notification{
			UserID:  p.RecruiterID,
			Kind:    "placement_recorded",
			Title:   "Placement recorded",
			Message: fmt.Sprintf("Placement for job %s has been recorded.", p.JobID),
			Data:    map[string]any{"job_id": p.JobID, "candidate_id": p.CandidateID, "fee_amount": p.FeeAmount},
		})
	}
	effects = append(effects, model.WorkflowInstance{
		WorkflowType: WorkflowPlacementFollowup,
		UserID:       p.CandidateID,
		Context:      map[string]any{"job_id": p.JobID, "recruiter_id": p.RecruiterID},
	})
	return effects, nil
}

// ProductivityMilestoneHandler congratulates a user and suggests a next step.
type ProductivityMilestoneHandler struct {
	advisor advisor
}

func (ProductivityMilestoneHandler) Type() model.EventType { return model.EventProductivityMilestone }

func (ProductivityMilestoneHandler) Schema() model.EventSchema {
	return model.EventSchema{
		Type:        model.EventProductivityMilestone,
		Description: "A user reached a productivity milestone.",
		Fields: []model.FieldSchema{
			{Name: "user_id", Type: "string", Required: true},
			{Name: "milestone", Type: "string", Required: true},
			{Name: "score", Type: "number"},
		},
	}
}

func (h ProductivityMilestoneHandler) Plan(ctx context.Context, ev model.SystemEvent) ([]model.Effect, error) {
	p, err := decode[model.ProductivityMilestone](ev)
	if err != nil {
		return nil, err
	}
	advice := h.advisor.advise(ctx,
		"Suggest the next step for an employee who just reached a productivity milestone.",
		map[string]any{"milestone": p.Milestone, "score": p.Score},
		fallbackMilestone,
	)
	return []model.Effect{
		model.Notification{
			UserID:  p.UserID,
			Kind:    "milestone",
			Title:   fmt.Sprintf("Milestone reached: %s", p.Milestone),
			Message: advice,
			Data:    map[string]any{"milestone": p.Milestone, "score": p.Score},
		},
	}, nil
}

// WorkflowCompletedHandler closes a workflow instance.
type WorkflowCompletedHandler struct{}

func (WorkflowCompletedHandler) Type() model.EventType { return model.EventWorkflowCompleted }

func (WorkflowCompletedHandler) Schema() model.EventSchema {
	return model.EventSchema{
		Type:        model.EventWorkflowCompleted,
		Description: "A workflow instance finished.",
		Fields: []model.FieldSchema{
			{Name: "workflow_instance_id", Type: "string", Required: true},
			{Name: "user_id", Type: "string", Required: true},
			{Name: "workflow_type", Type: "string"},
		},
	}
}

func (WorkflowCompletedHandler) Plan(_ context.Context, ev model.SystemEvent) ([]model.Effect, error) {
	p, err := decode[model.WorkflowCompleted](ev)
	if err != nil {
		return nil, err
	}
	title := "Workflow completed"
	if p.WorkflowType != "" {
		title = fmt.Sprintf("Workflow completed: %s", p.WorkflowType)
	}
	return []model.Effect{
		model.WorkflowStatus{InstanceID: p.WorkflowInstanceID, Status: "completed"},
		model.Notification{
			UserID:  p.UserID,
			Kind:    "workflow_completed",
			Title:   title,
			Message: "All steps are done. Nice work!",
			Data:    map[string]any{"workflow_instance_id": p.WorkflowInstanceID},
		},
	}, nil
}

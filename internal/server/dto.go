package server

import (
	"time"

	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/taskgen"
)

// Request payloads

type MetricRequest struct {
	Name    string       `json:"name" minLength:"1"`
	Value   *float64     `json:"value,omitempty"`
	Text    string       `json:"text,omitempty"`
	Unit    string       `json:"unit,omitempty"`
	Trend   domain.Trend `json:"trend,omitempty" enum:"up,down,stable"`
	Leading bool         `json:"leading,omitempty"`
}

type MetricValueRequest struct {
	Value   *float64     `json:"value,omitempty"`
	Text    string       `json:"text,omitempty"`
	Unit    string       `json:"unit,omitempty"`
	Trend   domain.Trend `json:"trend,omitempty" enum:"up,down,stable"`
	Leading bool         `json:"leading,omitempty"`
}

type CreateNodeRequest struct {
	ID          string           `json:"id,omitempty"`
	Title       string           `json:"title" minLength:"1"`
	Stage       domain.NodeStage `json:"stage,omitempty" enum:"start,process,end"`
	Position    int              `json:"position,omitempty"`
	Description string           `json:"description,omitempty"`
	Metrics     []MetricRequest  `json:"metrics,omitempty"`
}

type CreateRuleRequest struct {
	ID            string          `json:"id,omitempty"`
	NodeID        string          `json:"node_id" minLength:"1"`
	Metric        string          `json:"metric" minLength:"1"`
	Operator      domain.Operator `json:"operator" enum:">,<,=,>=,<="`
	Threshold     float64         `json:"threshold"`
	Severity      domain.Severity `json:"severity,omitempty" enum:"critical,warning"`
	TriggerAction string          `json:"trigger_action" minLength:"1"`
	TargetRole    string          `json:"target_role" minLength:"1"`
	SopID         string          `json:"sop_id,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
}

type UpdateRuleRequest struct {
	Metric        *string          `json:"metric,omitempty"`
	Operator      *domain.Operator `json:"operator,omitempty" enum:">,<,=,>=,<="`
	Threshold     *float64         `json:"threshold,omitempty"`
	Severity      *domain.Severity `json:"severity,omitempty"`
	TriggerAction *string          `json:"trigger_action,omitempty"`
	TargetRole    *string          `json:"target_role,omitempty"`
	SopID         *string          `json:"sop_id,omitempty"`
	Enabled       *bool            `json:"enabled,omitempty"`
}

type ApplyTemplateRequest struct {
	NodeID string `json:"node_id" minLength:"1"`
	RuleID string `json:"rule_id,omitempty"`
}

type PutSOPRequest struct {
	Title   string   `json:"title" minLength:"1"`
	Content string   `json:"content,omitempty"`
	Steps   []string `json:"steps,omitempty"`
}

type CreateTaskRequest struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"title" minLength:"1"`
	NodeID      string          `json:"node_id" minLength:"1"`
	Priority    domain.Priority `json:"priority,omitempty" enum:"high,medium,low"`
	Assignee    string          `json:"assignee,omitempty"`
	Description string          `json:"description,omitempty"`
	SopID       string          `json:"sop_id,omitempty"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
}

type FeedbackRequest struct {
	RootCause string `json:"root_cause,omitempty" example:"supply-chain.chip-shortage"`
	Comment   string `json:"comment,omitempty"`
}

type UpdateTaskRequest struct {
	Status      *domain.TaskStatus `json:"status,omitempty" enum:"pending,in_progress,completed"`
	Title       *string            `json:"title,omitempty"`
	Priority    *domain.Priority   `json:"priority,omitempty" enum:"high,medium,low"`
	Assignee    *string            `json:"assignee,omitempty"`
	Description *string            `json:"description,omitempty"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Feedback    *FeedbackRequest   `json:"feedback,omitempty"`
}

// Response payloads

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type EvaluateAllResponse struct {
	Reports []engine.EvaluationReport `json:"reports"`
	Errors  []string                  `json:"errors,omitempty"`
}

type MeResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Source  string   `json:"source"`
}

func (m MetricRequest) input() engine.MetricInput {
	return engine.MetricInput{Name: m.Name, Value: m.Value, Text: m.Text, Unit: m.Unit, Trend: m.Trend, Leading: m.Leading}
}

func (r CreateNodeRequest) options(actorID string) engine.NodeCreateOptions {
	opts := engine.NodeCreateOptions{
		ID:          r.ID,
		Title:       r.Title,
		Stage:       r.Stage,
		Position:    r.Position,
		Description: r.Description,
		ActorID:     actorID,
	}
	for _, m := range r.Metrics {
		opts.Metrics = append(opts.Metrics, m.input())
	}
	return opts
}

func (r CreateRuleRequest) input(actorID string) engine.RuleInput {
	return engine.RuleInput{
		ID:            r.ID,
		NodeID:        r.NodeID,
		Metric:        r.Metric,
		Operator:      r.Operator,
		Threshold:     r.Threshold,
		Severity:      r.Severity,
		TriggerAction: r.TriggerAction,
		TargetRole:    r.TargetRole,
		SopID:         r.SopID,
		Enabled:       r.Enabled,
		ActorID:       actorID,
	}
}

func (r UpdateRuleRequest) patch(actorID string) engine.RulePatch {
	return engine.RulePatch{
		Metric:        r.Metric,
		Operator:      r.Operator,
		Threshold:     r.Threshold,
		Severity:      r.Severity,
		TriggerAction: r.TriggerAction,
		TargetRole:    r.TargetRole,
		SopID:         r.SopID,
		Enabled:       r.Enabled,
		ActorID:       actorID,
	}
}

func (r CreateTaskRequest) options(actorID string) taskgen.CreateOptions {
	opts := taskgen.CreateOptions{
		ID:          r.ID,
		Title:       r.Title,
		NodeID:      r.NodeID,
		Priority:    r.Priority,
		Assignee:    r.Assignee,
		Description: r.Description,
		SopID:       r.SopID,
		ActorID:     actorID,
	}
	if r.DueAt != nil {
		opts.DueAt = *r.DueAt
	}
	return opts
}

func (f *FeedbackRequest) feedback() *domain.Feedback {
	if f == nil {
		return nil
	}
	return &domain.Feedback{RootCause: f.RootCause, Comment: f.Comment}
}

func (r UpdateTaskRequest) options(id, actorID string) taskgen.UpdateOptions {
	return taskgen.UpdateOptions{
		ID:          id,
		Status:      r.Status,
		Title:       r.Title,
		Priority:    r.Priority,
		Assignee:    r.Assignee,
		Description: r.Description,
		DueAt:       r.DueAt,
		Feedback:    r.Feedback.feedback(),
		ActorID:     actorID,
	}
}

package taskgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/repo"
)

// CreateOptions are parameters for an operator-created task.
type CreateOptions struct {
	ID          string
	Title       string
	NodeID      string
	Priority    domain.Priority
	Assignee    string
	Description string
	SopID       string
	// DueAt overrides the default SLA window when set.
	DueAt   time.Time
	ActorID string
}

// UpdateOptions changes an open task. Nil fields are left alone.
type UpdateOptions struct {
	ID          string
	Status      *domain.TaskStatus
	Title       *string
	Priority    *domain.Priority
	Assignee    *string
	Description *string
	DueAt       *time.Time
	// Feedback is required when Status moves the task to completed.
	Feedback *domain.Feedback
	ActorID  string
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus) error {
	switch oldStatus {
	case domain.TaskPending:
		if newStatus == domain.TaskInProgress || newStatus == domain.TaskCompleted {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskCompleted {
			return nil
		}
	case domain.TaskCompleted:
		return domain.ErrTaskImmutable
	}
	return fmt.Errorf("%w %s -> %s", domain.ErrInvalidTransition, oldStatus, newStatus)
}

func (g Generator) checkFeedback(fb *domain.Feedback) error {
	if fb == nil || strings.TrimSpace(fb.RootCause) == "" {
		return fmt.Errorf("%w: root cause is required to complete a task", domain.ErrMissingFeedback)
	}
	if !g.Config.KnownRootCause(fb.RootCause) {
		return fmt.Errorf("%w: not in the root cause catalog", domain.InvalidRef("root_cause", fb.RootCause))
	}
	return nil
}

// CreateManual creates a task outside of rule evaluation. Node and SOP must both exist.
func (g Generator) CreateManual(ctx context.Context, opts CreateOptions) (domain.Task, error) {
	if g.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.SopID == "" {
		opts.SopID = g.Config.Tasks.DefaultSop
	}
	now := g.now().UTC()
	nowStr := now.Format(time.RFC3339)
	due := opts.DueAt
	if due.IsZero() {
		due = now.Add(g.Config.SLA.Default)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	ok, err := g.Repo.NodeExists(ctx, tx, opts.NodeID)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("node %q: %w", opts.NodeID, domain.ErrUnknownNode)
	}
	if _, err := g.SOPs.Link(ctx, tx, opts.SopID); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          id,
		Title:       opts.Title,
		NodeID:      opts.NodeID,
		Status:      domain.TaskPending,
		Priority:    opts.Priority,
		Assignee:    opts.Assignee,
		DueAt:       due.UTC().Format(time.RFC3339),
		Description: opts.Description,
		SopID:       opts.SopID,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if err := g.Repo.InsertTask(ctx, tx, t); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Task{}, fmt.Errorf("%w: task %s already exists", domain.ErrConflict, id)
		}
		return domain.Task{}, err
	}
	if err := g.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "node_id": t.NodeID, "priority": t.Priority, "sop_id": t.SopID, "manual": true,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask edits or transitions an open task. Completed tasks reject every change;
// use RecordFeedback to amend their feedback.
func (g Generator) UpdateTask(ctx context.Context, opts UpdateOptions) (domain.Task, error) {
	if g.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := g.Repo.GetTask(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	if t.Status == domain.TaskCompleted {
		return t, fmt.Errorf("task %s: %w", t.ID, domain.ErrTaskImmutable)
	}
	original := t
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return t, errors.New("title is required")
		}
		t.Title = *opts.Title
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return t, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Assignee != nil {
		t.Assignee = *opts.Assignee
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.DueAt != nil {
		t.DueAt = opts.DueAt.UTC().Format(time.RFC3339)
	}
	nowStr := g.now().UTC().Format(time.RFC3339)
	if opts.Status != nil && *opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, *opts.Status); err != nil {
			return t, err
		}
		if *opts.Status == domain.TaskCompleted {
			if err := g.checkFeedback(opts.Feedback); err != nil {
				return t, err
			}
			fb := *opts.Feedback
			fb.RecordedBy = opts.ActorID
			fb.RecordedAt = nowStr
			t.Feedback = &fb
			t.CompletedAt = &nowStr
		}
		t.Status = *opts.Status
	} else if opts.Feedback != nil {
		return t, fmt.Errorf("%w: feedback is attached when the task is completed", domain.ErrInvalidTransition)
	}
	t.UpdatedAt = nowStr

	if err := g.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := g.Events.Append(ctx, tx, events.TaskUpdated, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if t.Status == domain.TaskCompleted {
		if err := g.Events.Append(ctx, tx, events.TaskCompleted, "task", t.ID, opts.ActorID, events.EventPayload{
			"node_id": t.NodeID, "root_cause": t.Feedback.RootCause,
		}); err != nil {
			return t, err
		}
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// Complete moves a task to completed with its feedback record.
func (g Generator) Complete(ctx context.Context, taskID string, fb *domain.Feedback, actorID string) (domain.Task, error) {
	status := domain.TaskCompleted
	return g.UpdateTask(ctx, UpdateOptions{ID: taskID, Status: &status, Feedback: fb, ActorID: actorID})
}

// RecordFeedback replaces the feedback of a completed task, the only change a completed task accepts.
func (g Generator) RecordFeedback(ctx context.Context, taskID string, fb domain.Feedback, actorID string) (domain.Task, error) {
	if g.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if err := g.checkFeedback(&fb); err != nil {
		return domain.Task{}, err
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := g.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status != domain.TaskCompleted {
		return t, fmt.Errorf("%w: task %s is %s; feedback is recorded at or after completion", domain.ErrInvalidTransition, t.ID, t.Status)
	}
	nowStr := g.now().UTC().Format(time.RFC3339)
	fb.RecordedBy = actorID
	fb.RecordedAt = nowStr
	t.Feedback = &fb
	t.UpdatedAt = nowStr
	if err := g.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := g.Events.Append(ctx, tx, events.TaskFeedbackUpdated, "task", t.ID, actorID, events.EventPayload{
		"root_cause": fb.RootCause,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

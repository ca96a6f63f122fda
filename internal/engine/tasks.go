package engine

import (
	"context"

	"otdops/internal/domain"
	"otdops/internal/repo"
	"otdops/internal/taskgen"
)

func (e Engine) CreateTask(ctx context.Context, opts taskgen.CreateOptions) (domain.Task, error) {
	return e.Tasks.CreateManual(ctx, opts)
}

func (e Engine) UpdateTask(ctx context.Context, opts taskgen.UpdateOptions) (domain.Task, error) {
	return e.Tasks.UpdateTask(ctx, opts)
}

// CompleteTask closes a task. Feedback is mandatory.
func (e Engine) CompleteTask(ctx context.Context, id string, fb *domain.Feedback, actorID string) (domain.Task, error) {
	return e.Tasks.Complete(ctx, id, fb, actorID)
}

func (e Engine) RecordFeedback(ctx context.Context, id string, fb domain.Feedback, actorID string) (domain.Task, error) {
	return e.Tasks.RecordFeedback(ctx, id, fb, actorID)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, nil, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

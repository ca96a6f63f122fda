package taskgen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/domain"
)

func statusPtr(s domain.TaskStatus) *domain.TaskStatus { return &s }

func TestCompleteRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out, err := env.gen.OnTrigger(ctx, backlogTrigger(30, domain.SeverityCritical, "sop-1"), "system")
	require.NoError(t, err)
	id := out.Task.ID

	_, err = env.gen.Complete(ctx, id, nil, "alice")
	assert.True(t, errors.Is(err, domain.ErrMissingFeedback))
	_, err = env.gen.Complete(ctx, id, &domain.Feedback{Comment: "no cause"}, "alice")
	assert.True(t, errors.Is(err, domain.ErrMissingFeedback))
	_, err = env.gen.Complete(ctx, id, &domain.Feedback{RootCause: "aliens"}, "alice")
	assert.True(t, errors.Is(err, domain.ErrInvalidReference))

	stored, err := env.repo.GetTask(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, stored.Status)
	assert.Nil(t, stored.Feedback)

	done, err := env.gen.Complete(ctx, id, &domain.Feedback{RootCause: "supply-chain.chip-shortage", Comment: "MCU allocation cut"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Feedback)
	assert.Equal(t, "alice", done.Feedback.RecordedBy)

	stored, err = env.repo.GetTask(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, done, stored)
}

func TestCompletedTaskIsImmutableExceptFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out, err := env.gen.OnTrigger(ctx, backlogTrigger(30, domain.SeverityCritical, "sop-1"), "system")
	require.NoError(t, err)
	id := out.Task.ID
	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Status: statusPtr(domain.TaskInProgress), ActorID: "alice"})
	require.NoError(t, err)
	_, err = env.gen.Complete(ctx, id, &domain.Feedback{RootCause: "other", Comment: "first pass"}, "alice")
	require.NoError(t, err)

	title := "renamed"
	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Title: &title})
	assert.True(t, errors.Is(err, domain.ErrTaskImmutable))
	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Status: statusPtr(domain.TaskPending)})
	assert.True(t, errors.Is(err, domain.ErrTaskImmutable))

	updated, err := env.gen.RecordFeedback(ctx, id, domain.Feedback{RootCause: "production.staffing-shortage", Comment: "night shift"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "production.staffing-shortage", updated.Feedback.RootCause)
	assert.Equal(t, "bob", updated.Feedback.RecordedBy)
	assert.Equal(t, "Create high-priority shortage chase task", updated.Title)
	assert.Equal(t, domain.TaskCompleted, updated.Status)
}

func TestTransitionsNeverGoBackwards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	out, err := env.gen.OnTrigger(ctx, backlogTrigger(30, domain.SeverityCritical, "sop-1"), "system")
	require.NoError(t, err)
	id := out.Task.ID

	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Status: statusPtr(domain.TaskInProgress)})
	require.NoError(t, err)
	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Status: statusPtr(domain.TaskPending)})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = env.gen.RecordFeedback(ctx, id, domain.Feedback{RootCause: "other"}, "alice")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: id, Feedback: &domain.Feedback{RootCause: "other"}})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = env.gen.UpdateTask(ctx, UpdateOptions{ID: "missing", Status: statusPtr(domain.TaskInProgress)})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateManualValidatesReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.gen.CreateManual(ctx, CreateOptions{Title: "Audit supplier", NodeID: "nowhere", SopID: "sop-1"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(err, domain.ErrUnknownNode))

	_, err = env.gen.CreateManual(ctx, CreateOptions{Title: "Audit supplier", NodeID: "scheduling", SopID: "sop-404"})
	assert.True(t, errors.Is(err, domain.ErrInvalidSopReference))

	task, err := env.gen.CreateManual(ctx, CreateOptions{Title: "Audit supplier", NodeID: "scheduling", SopID: "sop-1", Assignee: "Procurement Lead"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, task.Priority)
	assert.Nil(t, task.RuleID)
	assert.Equal(t, "2024-05-07T08:00:00Z", task.DueAt)

	n, err := env.repo.CountOpenTasks(ctx, nil, "scheduling")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"otdops/internal/db"
	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/migrate"
	"otdops/internal/repo"
)

const ts = "2024-01-01T08:00:00Z"

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	// Running twice is a no-op.
	require.NoError(t, migrate.Migrate(ctx, conn))
	return repo.Repo{DB: conn}, ctx
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func seedNode(t *testing.T, r repo.Repo, ctx context.Context) {
	t.Helper()
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		if err := r.PutSOP(ctx, tx, domain.SOP{ID: "sop-1", Title: "Shortage response", Steps: []string{"Check ERP"}}, ts); err != nil {
			return err
		}
		return r.InsertNode(ctx, tx, domain.ProcessNode{
			ID: "scheduling", Title: "Scheduling", Stage: domain.StageProcess, Status: domain.StatusHealthy,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}))
}

func openTask(id string) domain.Task {
	rule := "rule-1"
	return domain.Task{
		ID: id, Title: "Chase shortages", NodeID: "scheduling", RuleID: &rule,
		Status: domain.TaskPending, Priority: domain.PriorityHigh, DueAt: ts, SopID: "sop-1",
		CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestMigrationsReachLatest(t *testing.T) {
	r, ctx := newRepo(t)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	current, err := migrate.Current(ctx, r.DB)
	require.NoError(t, err)
	require.Equal(t, latest, current)
}

func TestOneOpenTaskPerRuleAndNode(t *testing.T) {
	r, ctx := newRepo(t)
	seedNode(t, r, ctx)

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.InsertTask(ctx, tx, openTask("task-a")) }))
	err := inTx(t, r, func(tx *sql.Tx) error { return r.InsertTask(ctx, tx, openTask("task-b")) })
	require.Error(t, err)
	require.True(t, repo.IsUniqueViolation(err))

	// A completed task frees the slot.
	done := openTask("task-a")
	done.Status = domain.TaskCompleted
	done.Feedback = &domain.Feedback{RootCause: "other", RecordedBy: "tester", RecordedAt: ts}
	completedAt := ts
	done.CompletedAt = &completedAt
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.UpdateTask(ctx, tx, done) }))
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.InsertTask(ctx, tx, openTask("task-b")) }))

	open, err := r.OpenTaskFor(ctx, nil, "rule-1", "scheduling")
	require.NoError(t, err)
	require.Equal(t, "task-b", open.ID)
	n, err := r.CountOpenTasks(ctx, nil, "scheduling")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := r.GetTask(ctx, nil, "task-a")
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	require.Equal(t, "other", got.Feedback.RootCause)
}

func TestGetMissingIsNotFound(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.GetNode(ctx, nil, "nowhere")
	require.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = r.GetSOP(ctx, nil, "sop-9")
	require.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = r.GetTask(ctx, nil, "task-9")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEventPaging(t *testing.T) {
	r, ctx := newRepo(t)
	w := events.Writer{}
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
			return w.Append(ctx, tx, events.NodeCreated, "node", id, "", events.EventPayload{"title": id})
		}))
	}

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, latest)

	page, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "d", page[0].EntityID)
	require.Equal(t, "system", page[0].ActorID)

	older, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 10, Before: page[1].ID})
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, "b", older[0].EntityID)

	after, err := r.EventsAfter(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, "c", after[0].EntityID)

	filtered, err := r.LatestEvents(ctx, repo.EventFilters{EntityKind: "node", EntityID: "a"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/config"
	"otdops/internal/db"
	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/migrate"
	"otdops/internal/seed"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	now := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	return engine.New(conn, config.Default(), nil).WithClock(func() time.Time { return now })
}

func TestApplyDefaultFixture(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	f, err := seed.Default()
	require.NoError(t, err)

	st, err := seed.Apply(ctx, eng, f, "seed")
	require.NoError(t, err)
	assert.Equal(t, seed.Stats{SOPs: 2, Nodes: 5, Rules: 2, Tasks: 2}, st)

	nodes, err := eng.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 5)
	assert.Equal(t, "node-1", nodes[0].ID)
	assert.Equal(t, "node-5", nodes[4].ID)

	scheduling, err := eng.GetNode(ctx, "node-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCritical, scheduling.Status)
	assert.Equal(t, 1, scheduling.ActiveTasks)

	assembly, err := eng.GetNode(ctx, "node-3")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHealthy, assembly.Status)
	assert.Equal(t, 0, assembly.ActiveTasks)

	done, err := eng.GetTask(ctx, "task-103")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	require.NotNil(t, done.Feedback)
	assert.Equal(t, "production.equipment-failure", done.Feedback.RootCause)

	inProgress, err := eng.GetTask(ctx, "task-102")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskInProgress, inProgress.Status)
}

func TestApplyTwiceSkipsExisting(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	f, err := seed.Default()
	require.NoError(t, err)

	_, err = seed.Apply(ctx, eng, f, "seed")
	require.NoError(t, err)
	st, err := seed.Apply(ctx, eng, f, "seed")
	require.NoError(t, err)
	assert.Equal(t, 2, st.SOPs)
	assert.Zero(t, st.Nodes)
	assert.Zero(t, st.Rules)
	assert.Zero(t, st.Tasks)
	assert.Equal(t, 9, st.Skipped)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := seed.Parse([]byte("nodes: [unterminated"))
	assert.Error(t, err)
}

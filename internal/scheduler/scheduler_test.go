package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/engine"
)

type fakeEvaluator struct {
	calls       atomic.Int32
	parallelism atomic.Int32
	err         error
}

func (f *fakeEvaluator) EvaluateAll(_ context.Context, parallelism int, opts engine.EvaluateOptions) ([]engine.EvaluationReport, error) {
	f.calls.Add(1)
	f.parallelism.Store(int32(parallelism))
	if opts.ActorID != actorID {
		return nil, errors.New("unexpected actor " + opts.ActorID)
	}
	return []engine.EvaluationReport{{NodeID: "node-2", Tasks: []engine.TaskResult{{RuleID: "rule-1", Outcome: "created"}}}}, f.err
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeEvaluator{}, "", 1, nil)
	assert.Error(t, err)
	_, err = New(&fakeEvaluator{}, "every tuesday", 1, nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	fe := &fakeEvaluator{}
	s, err := New(fe, "@every 1h", 3, nil)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 1, fe.calls.Load())
	assert.EqualValues(t, 3, fe.parallelism.Load())

	fe.err = errors.New("node-3: boom")
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	fe := &fakeEvaluator{}
	s, err := New(fe, "* * * * * *", 1, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	require.Eventually(t, func() bool { return fe.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	n := fe.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, fe.calls.Load())
}

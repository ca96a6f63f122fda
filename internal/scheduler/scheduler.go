// Package scheduler runs periodic evaluation of every node on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"otdops/internal/engine"
	"otdops/internal/telemetry"
)

// Evaluator is the part of the engine the scheduler drives.
type Evaluator interface {
	EvaluateAll(ctx context.Context, parallelism int, opts engine.EvaluateOptions) ([]engine.EvaluationReport, error)
}

type Scheduler struct {
	eval        Evaluator
	spec        string
	parallelism int
	log         hclog.Logger
	cron        *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

const actorID = "scheduler"

// New validates spec and prepares a scheduler. Spec accepts six-field cron expressions
// (with seconds) and descriptors such as "@every 1m".
func New(eval Evaluator, spec string, parallelism int, logger hclog.Logger) (*Scheduler, error) {
	if spec == "" {
		return nil, errors.New("schedule is empty")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("scheduler")
	cronLog := cron.PrintfLogger(logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	s := &Scheduler{eval: eval, spec: spec, parallelism: parallelism, log: logger, cron: c}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running evaluations in the background until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.log.Info("scheduled evaluation started", "schedule", s.spec, "parallelism", s.parallelism)
	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running evaluation to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.log.Info("scheduled evaluation stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = s.RunOnce(ctx)
}

// RunOnce evaluates every node once and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	reports, err := s.eval.EvaluateAll(ctx, s.parallelism, engine.EvaluateOptions{ActorID: actorID})
	triggered, created := 0, 0
	for _, r := range reports {
		triggered += len(r.Triggered)
		for _, t := range r.Tasks {
			if t.Outcome == "created" {
				created++
			}
		}
	}
	if err != nil {
		telemetry.ScheduledRuns.WithLabelValues("error").Inc()
		s.log.Error("scheduled evaluation failed", "nodes", len(reports), "error", err)
		return err
	}
	telemetry.ScheduledRuns.WithLabelValues("ok").Inc()
	s.log.Info("scheduled evaluation done", "nodes", len(reports), "triggered", triggered, "tasks_created", created, "duration", time.Since(start))
	return nil
}

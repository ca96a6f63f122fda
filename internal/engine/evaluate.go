package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/repo"
	"otdops/internal/rules"
	"otdops/internal/telemetry"
)

type EvaluateOptions struct {
	// DryRun evaluates without persisting status, events or tasks.
	DryRun  bool
	ActorID string
}

// TaskResult is what the task generator did for one triggered rule.
type TaskResult struct {
	RuleID  string `json:"rule_id"`
	TaskID  string `json:"task_id,omitempty"`
	Outcome string `json:"outcome" enum:"created,refreshed,replayed,failed"`
	Error   string `json:"error,omitempty"`
}

type EvaluationReport struct {
	NodeID         string                    `json:"node_id"`
	PreviousStatus domain.NodeStatus         `json:"previous_status"`
	Status         domain.NodeStatus         `json:"status"`
	Triggered      []rules.Trigger           `json:"triggered"`
	Warnings       []domain.StaleRuleWarning `json:"warnings"`
	Tasks          []TaskResult              `json:"tasks"`
	DryRun         bool                      `json:"dry_run"`
	EvaluatedAt    string                    `json:"evaluated_at" format:"date-time"`
}

// EvaluateNode runs the node's rules, persists the derived status and hands every
// triggered rule to the task generator. A failure for one trigger, such as a dangling
// SOP, is reported in the result and does not stop the others.
func (e Engine) EvaluateNode(ctx context.Context, nodeID string, opts EvaluateOptions) (EvaluationReport, error) {
	start := time.Now()
	defer func() { telemetry.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	if opts.DryRun {
		node, err := e.GetNode(ctx, nodeID)
		if err != nil {
			return EvaluationReport{}, err
		}
		rs, err := e.Repo.ListRules(ctx, nil, repo.RuleFilters{NodeID: nodeID, EnabledOnly: true})
		if err != nil {
			return EvaluationReport{}, err
		}
		res := rules.Evaluate(node, rs, e.ruleOptions())
		report := newReport(res, node.Status, e.nowString())
		report.DryRun = true
		return report, nil
	}

	unlock := e.lockNode(nodeID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return EvaluationReport{}, err
	}
	defer tx.Rollback()

	res, prev, err := e.recompute(ctx, tx, nodeID, opts.ActorID)
	if err != nil {
		return EvaluationReport{}, err
	}
	if err := e.recordEvaluation(ctx, tx, res, opts.ActorID); err != nil {
		return EvaluationReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return EvaluationReport{}, err
	}
	return e.generate(ctx, res, prev, opts.ActorID), nil
}

func newReport(res rules.Result, prev domain.NodeStatus, at string) EvaluationReport {
	return EvaluationReport{
		NodeID:         res.NodeID,
		PreviousStatus: prev,
		Status:         res.Status,
		Triggered:      res.Triggered,
		Warnings:       res.Warnings,
		Tasks:          []TaskResult{},
		EvaluatedAt:    at,
	}
}

// recordEvaluation appends rule.triggered and rule.stale events for res.
func (e Engine) recordEvaluation(ctx context.Context, tx *sql.Tx, res rules.Result, actorID string) error {
	telemetry.Evaluations.WithLabelValues(string(res.Status)).Inc()
	for _, w := range res.Warnings {
		telemetry.StaleRules.Inc()
		e.Log.Warn("stale rule", "rule_id", w.RuleID, "node_id", w.NodeID, "metric", w.Metric, "reason", w.Reason)
		if err := e.Events.Append(ctx, tx, events.RuleStale, "rule", w.RuleID, actorID, events.EventPayload{
			"node_id": w.NodeID, "metric": w.Metric, "reason": w.Reason,
		}); err != nil {
			return err
		}
	}
	for _, t := range res.Triggered {
		telemetry.RuleTriggers.WithLabelValues(string(t.Severity)).Inc()
		if err := e.Events.Append(ctx, tx, events.RuleTriggered, "rule", t.Rule.ID, actorID, events.EventPayload{
			"node_id": t.Rule.NodeID, "metric": t.Rule.Metric, "value": t.Value, "severity": t.Severity,
		}); err != nil {
			return err
		}
	}
	return nil
}

// generate runs the task generator for each trigger. Callers hold the node lock.
func (e Engine) generate(ctx context.Context, res rules.Result, prev domain.NodeStatus, actorID string) EvaluationReport {
	report := newReport(res, prev, e.nowString())
	for _, t := range res.Triggered {
		out, err := e.Tasks.OnTrigger(ctx, t, actorID)
		if err != nil {
			e.Log.Warn("task generation failed", "rule_id", t.Rule.ID, "node_id", t.Rule.NodeID, "error", err)
			report.Tasks = append(report.Tasks, TaskResult{RuleID: t.Rule.ID, Outcome: "failed", Error: err.Error()})
			continue
		}
		tr := TaskResult{RuleID: t.Rule.ID, TaskID: out.Task.ID}
		switch {
		case out.Created:
			tr.Outcome = "created"
		case out.Refreshed:
			tr.Outcome = "refreshed"
		default:
			tr.Outcome = "replayed"
		}
		report.Tasks = append(report.Tasks, tr)
	}
	return report
}

// EvaluateAll evaluates every node with at most parallelism nodes in flight.
// Per-node failures are joined into the returned error; reports for the other nodes are kept.
func (e Engine) EvaluateAll(ctx context.Context, parallelism int, opts EvaluateOptions) ([]EvaluationReport, error) {
	nodes, err := e.Repo.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	if parallelism < 1 {
		parallelism = 1
	}
	reports := make([]EvaluationReport, len(nodes))
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, n := range nodes {
		g.Go(func() error {
			r, err := e.EvaluateNode(ctx, n.ID, opts)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", n.ID, err))
				mu.Unlock()
				return nil
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()
	out := reports[:0]
	for _, r := range reports {
		if r.NodeID != "" {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// Package taskgen turns rule triggers into tasks and owns the task lifecycle.
package taskgen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"otdops/internal/config"
	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/keylock"
	"otdops/internal/repo"
	"otdops/internal/rules"
	"otdops/internal/sop"
	"otdops/internal/telemetry"
)

type Generator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	SOPs   *sop.Linker
	Config *config.Config
	Locks  *keylock.Map
	Now    func() time.Time
	Log    hclog.Logger
}

// Outcome reports what OnTrigger did. Exactly one of Created, Refreshed or Replayed is set.
type Outcome struct {
	Task      domain.Task `json:"task"`
	Created   bool        `json:"created"`
	Refreshed bool        `json:"refreshed"`
	Replayed  bool        `json:"replayed"`
}

func New(db *sql.DB, cfg *config.Config, linker *sop.Linker, locks *keylock.Map, logger hclog.Logger) Generator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return Generator{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		SOPs:   linker,
		Config: cfg,
		Locks:  locks,
		Now:    time.Now,
		Log:    logger.Named("taskgen"),
	}
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Generator) logger() hclog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return hclog.NewNullLogger()
}

func (g Generator) lock(key string) func() {
	if g.Locks == nil {
		return func() {}
	}
	return g.Locks.Lock(key)
}

// PriorityFor maps a rule severity to task priority. Unflagged rules get medium.
func PriorityFor(s domain.Severity) domain.Priority {
	if s == domain.SeverityCritical {
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}

// TaskID is stable for a (rule, node, bucket) triple so retried generation finds its own task.
func TaskID(ruleID, nodeID string, bucket time.Time) string {
	key := ruleID + "|" + nodeID + "|" + bucket.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func describe(r domain.Rule, value float64) string {
	return fmt.Sprintf("Rule %s fired on node %s: %s %s %s (observed %s).",
		r.ID, r.NodeID, r.Metric, r.Operator, formatNumber(r.Threshold), formatNumber(value))
}

// OnTrigger creates the task for a triggered rule, or refreshes the open one.
// At most one open task exists per (rule, node): the check and insert run under
// a per-pair lock inside one transaction, backed by a partial unique index.
// Task ids are derived from the trigger bucket, so a trigger landing in the same
// bucket as an already completed task returns that task as Replayed and opens
// nothing new; the next bucket creates a fresh task if the rule still fires.
func (g Generator) OnTrigger(ctx context.Context, trig rules.Trigger, actorID string) (Outcome, error) {
	if g.Config == nil {
		return Outcome{}, errors.New("config not loaded")
	}
	r := trig.Rule
	unlock := g.lock(r.ID + "|" + r.NodeID)
	defer unlock()

	now := g.now().UTC()
	nowStr := now.Format(time.RFC3339)
	value := trig.Value

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()

	open, err := g.Repo.OpenTaskFor(ctx, tx, r.ID, r.NodeID)
	if err == nil {
		open.TriggerValue = &value
		open.TriggeredAt = &nowStr
		if err := g.Repo.UpdateTask(ctx, tx, open); err != nil {
			return Outcome{}, err
		}
		if err := g.Events.Append(ctx, tx, events.TaskTriggerRefreshed, "task", open.ID, actorID, events.EventPayload{
			"rule_id": r.ID, "node_id": r.NodeID, "value": value,
		}); err != nil {
			return Outcome{}, err
		}
		if err := tx.Commit(); err != nil {
			return Outcome{}, err
		}
		telemetry.TaskOutcomes.WithLabelValues("refreshed").Inc()
		g.logger().Debug("refreshed open task", "task_id", open.ID, "rule_id", r.ID, "value", value)
		return Outcome{Task: open, Refreshed: true}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return Outcome{}, err
	}

	id := TaskID(r.ID, r.NodeID, now.Truncate(g.Config.Tasks.TriggerBucket))
	existing, err := g.Repo.GetTask(ctx, tx, id)
	if err == nil {
		telemetry.TaskOutcomes.WithLabelValues("replayed").Inc()
		return Outcome{Task: existing, Replayed: true}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return Outcome{}, err
	}

	sopID := r.SopID
	if sopID == "" {
		sopID = g.Config.Tasks.DefaultSop
	}
	if _, err := g.SOPs.Link(ctx, tx, sopID); err != nil {
		telemetry.TaskOutcomes.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	ruleID := r.ID
	t := domain.Task{
		ID:           id,
		Title:        r.TriggerAction,
		NodeID:       r.NodeID,
		RuleID:       &ruleID,
		Status:       domain.TaskPending,
		Priority:     PriorityFor(r.Severity),
		Assignee:     r.TargetRole,
		DueAt:        now.Add(g.Config.SLAFor(string(r.Severity))).Format(time.RFC3339),
		Description:  describe(r, value),
		SopID:        sopID,
		TriggerValue: &value,
		TriggeredAt:  &nowStr,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	if err := g.Repo.InsertTask(ctx, tx, t); err != nil {
		if repo.IsUniqueViolation(err) {
			return Outcome{}, fmt.Errorf("%w: open task already exists for rule %s on node %s", domain.ErrConflict, r.ID, r.NodeID)
		}
		return Outcome{}, err
	}
	if err := g.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, actorID, events.EventPayload{
		"title": t.Title, "rule_id": r.ID, "node_id": t.NodeID, "priority": t.Priority, "sop_id": t.SopID, "value": value,
	}); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}
	telemetry.TaskOutcomes.WithLabelValues("created").Inc()
	g.logger().Info("created task", "task_id", t.ID, "rule_id", r.ID, "node_id", t.NodeID, "priority", t.Priority)
	return Outcome{Task: t, Created: true}, nil
}

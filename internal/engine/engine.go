package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"otdops/internal/advisory"
	"otdops/internal/config"
	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/keylock"
	"otdops/internal/repo"
	"otdops/internal/rules"
	"otdops/internal/sop"
	"otdops/internal/taskgen"
)

// Engine is the single entry point for commands against the process model.
// Work on a node is serialized through a per-node lock; different nodes proceed in parallel.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	SOPs     *sop.Linker
	Tasks    taskgen.Generator
	Advisory *advisory.Service
	Locks    *keylock.Map
	Log      hclog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger hclog.Logger) Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := repo.Repo{DB: db}
	locks := &keylock.Map{}
	linker := sop.New(r, cfg.SOPs.CacheSize, cfg.SOPs.CacheTTL, logger)
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{},
		Config:   cfg,
		SOPs:     linker,
		Tasks:    taskgen.New(db, cfg, linker, locks, logger),
		Advisory: advisory.FromConfig(cfg.Advisory, logger),
		Locks:    locks,
		Log:      logger.Named("engine"),
		Now:      time.Now,
	}
}

// WithClock returns a copy of e that reads time from now everywhere.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Tasks.Now = now
	e.Tasks.Events.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) lockNode(id string) func() {
	if e.Locks == nil {
		return func() {}
	}
	return e.Locks.Lock("node:" + id)
}

func (e Engine) ruleOptions() rules.Options {
	return rules.Options{Epsilon: e.Config.Rules.EqualityEpsilon}
}

func unknownNode(id string) error {
	return fmt.Errorf("node %q: %w", id, domain.ErrUnknownNode)
}

// loadNode reads a node inside tx, mapping absence to ErrUnknownNode.
func (e Engine) loadNode(ctx context.Context, tx *sql.Tx, id string) (domain.ProcessNode, error) {
	n, err := e.Repo.GetNode(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return n, unknownNode(id)
	}
	return n, err
}

// recompute evaluates the node inside tx and persists its derived status when it changed.
func (e Engine) recompute(ctx context.Context, tx *sql.Tx, nodeID, actorID string) (rules.Result, domain.NodeStatus, error) {
	node, err := e.loadNode(ctx, tx, nodeID)
	if err != nil {
		return rules.Result{}, "", err
	}
	rs, err := e.Repo.ListRules(ctx, tx, repo.RuleFilters{NodeID: nodeID, EnabledOnly: true})
	if err != nil {
		return rules.Result{}, "", err
	}
	res := rules.Evaluate(node, rs, e.ruleOptions())
	if res.Status != node.Status {
		if err := e.Repo.UpdateNodeStatus(ctx, tx, nodeID, res.Status, e.nowString()); err != nil {
			return res, node.Status, err
		}
		if err := e.Events.Append(ctx, tx, events.NodeStatusChanged, "node", nodeID, actorID, events.EventPayload{
			"from": node.Status, "to": res.Status, "triggered": len(res.Triggered),
		}); err != nil {
			return res, node.Status, err
		}
		e.Log.Info("node status changed", "node_id", nodeID, "from", node.Status, "to", res.Status)
	}
	return res, node.Status, nil
}

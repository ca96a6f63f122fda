package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/repo"
)

// MetricInput is a metric reading as delivered by ingestion.
type MetricInput struct {
	Name    string
	Value   *float64
	Text    string
	Unit    string
	Trend   domain.Trend
	Leading bool
}

type NodeCreateOptions struct {
	ID          string
	Title       string
	Stage       domain.NodeStage
	Position    int
	Description string
	Metrics     []MetricInput
	ActorID     string
}

// MetricUpdate is the result of UpsertMetric: the node after its status was recomputed and,
// when tasks were generated on ingest, the evaluation report.
type MetricUpdate struct {
	Node       domain.ProcessNode `json:"node"`
	Evaluation *EvaluationReport  `json:"evaluation,omitempty"`
}

func validStage(s domain.NodeStage) bool {
	return s == domain.StageStart || s == domain.StageProcess || s == domain.StageEnd
}

func (m MetricInput) toMetric(now string) (domain.Metric, error) {
	if strings.TrimSpace(m.Name) == "" {
		return domain.Metric{}, errors.New("metric name is required")
	}
	switch m.Trend {
	case "", domain.TrendUp, domain.TrendDown, domain.TrendStable:
	default:
		return domain.Metric{}, fmt.Errorf("invalid trend %q", m.Trend)
	}
	if m.Value != nil && (math.IsNaN(*m.Value) || math.IsInf(*m.Value, 0)) {
		return domain.Metric{}, fmt.Errorf("invalid value for metric %q: must be finite", m.Name)
	}
	trend := m.Trend
	if trend == "" {
		trend = domain.TrendStable
	}
	return domain.Metric{
		ID:        uuid.NewString(),
		Name:      m.Name,
		Value:     m.Value,
		Text:      m.Text,
		Unit:      m.Unit,
		Trend:     trend,
		Leading:   m.Leading,
		UpdatedAt: now,
	}, nil
}

func (e Engine) CreateNode(ctx context.Context, opts NodeCreateOptions) (domain.ProcessNode, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.ProcessNode{}, errors.New("title is required")
	}
	if opts.Stage == "" {
		opts.Stage = domain.StageProcess
	}
	if !validStage(opts.Stage) {
		return domain.ProcessNode{}, fmt.Errorf("invalid stage %q", opts.Stage)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.nowString()
	metrics := make([]domain.Metric, 0, len(opts.Metrics))
	for _, in := range opts.Metrics {
		m, err := in.toMetric(now)
		if err != nil {
			return domain.ProcessNode{}, err
		}
		metrics = append(metrics, m)
	}
	unlock := e.lockNode(opts.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessNode{}, err
	}
	defer tx.Rollback()

	n := domain.ProcessNode{
		ID:          opts.ID,
		Title:       opts.Title,
		Stage:       opts.Stage,
		Status:      domain.StatusHealthy,
		Position:    opts.Position,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertNode(ctx, tx, n); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.ProcessNode{}, fmt.Errorf("%w: node %s already exists", domain.ErrConflict, n.ID)
		}
		return domain.ProcessNode{}, err
	}
	for _, m := range metrics {
		if err := e.Repo.UpsertMetric(ctx, tx, n.ID, m); err != nil {
			return domain.ProcessNode{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.NodeCreated, "node", n.ID, opts.ActorID, events.EventPayload{
		"title": n.Title, "stage": n.Stage, "metrics": len(metrics),
	}); err != nil {
		return domain.ProcessNode{}, err
	}
	n, err = e.Repo.GetNode(ctx, tx, n.ID)
	if err != nil {
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessNode{}, err
	}
	return n, nil
}

// DeleteNode removes a node with its metrics, rules and tasks.
func (e Engine) DeleteNode(ctx context.Context, id, actorID string) error {
	unlock := e.lockNode(id)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteNode(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return unknownNode(id)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, events.NodeDeleted, "node", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetNode returns a snapshot of the node and its metrics.
func (e Engine) GetNode(ctx context.Context, id string) (domain.ProcessNode, error) {
	n, err := e.Repo.GetNode(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return n, unknownNode(id)
	}
	return n, err
}

func (e Engine) ListNodes(ctx context.Context) ([]domain.ProcessNode, error) {
	return e.Repo.ListNodes(ctx)
}

// UpsertMetric stores a metric reading and recomputes the node status in the same
// transaction, so no reader sees the new value with a stale status.
func (e Engine) UpsertMetric(ctx context.Context, nodeID string, in MetricInput, actorID string) (MetricUpdate, error) {
	m, err := in.toMetric(e.nowString())
	if err != nil {
		return MetricUpdate{}, err
	}
	unlock := e.lockNode(nodeID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MetricUpdate{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.NodeExists(ctx, tx, nodeID)
	if err != nil {
		return MetricUpdate{}, err
	}
	if !ok {
		return MetricUpdate{}, unknownNode(nodeID)
	}
	if err := e.Repo.UpsertMetric(ctx, tx, nodeID, m); err != nil {
		return MetricUpdate{}, err
	}
	payload := events.EventPayload{"name": m.Name, "trend": m.Trend}
	if m.Value != nil {
		payload["value"] = *m.Value
	} else {
		payload["text"] = m.Text
	}
	if err := e.Events.Append(ctx, tx, events.MetricUpserted, "node", nodeID, actorID, payload); err != nil {
		return MetricUpdate{}, err
	}
	res, prev, err := e.recompute(ctx, tx, nodeID, actorID)
	if err != nil {
		return MetricUpdate{}, err
	}
	if e.Config.Evaluation.GenerateOnIngest {
		if err := e.recordEvaluation(ctx, tx, res, actorID); err != nil {
			return MetricUpdate{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return MetricUpdate{}, err
	}

	var out MetricUpdate
	if e.Config.Evaluation.GenerateOnIngest {
		report := e.generate(ctx, res, prev, actorID)
		out.Evaluation = &report
	}
	out.Node, err = e.Repo.GetNode(ctx, nil, nodeID)
	return out, err
}

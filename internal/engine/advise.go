package engine

import (
	"context"

	"otdops/internal/advisory"
)

func (e Engine) advisor() *advisory.Service {
	if e.Advisory != nil {
		return e.Advisory
	}
	return advisory.Disabled("advisory provider not configured", e.Log)
}

// AdviseTask asks for an SOP checklist for the task, using its node's current metrics.
// Nothing is written back; an unreachable provider yields an unavailable result, not an error.
func (e Engine) AdviseTask(ctx context.Context, taskID string) (advisory.Result, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return advisory.Result{}, err
	}
	node, err := e.GetNode(ctx, t.NodeID)
	if err != nil {
		return advisory.Result{}, err
	}
	return e.advisor().Advise(ctx, advisory.Request{
		Kind:    advisory.KindSOPChecklist,
		Subject: t.Title,
		Metrics: advisory.MetricsFrom(node.Metrics),
	}), nil
}

// AnalyzeNode asks for a short bottleneck analysis of the node.
func (e Engine) AnalyzeNode(ctx context.Context, nodeID string) (advisory.Result, error) {
	node, err := e.GetNode(ctx, nodeID)
	if err != nil {
		return advisory.Result{}, err
	}
	return e.advisor().Advise(ctx, advisory.Request{
		Kind:    advisory.KindBottleneck,
		Subject: node.Title,
		Metrics: advisory.MetricsFrom(node.Metrics),
	}), nil
}

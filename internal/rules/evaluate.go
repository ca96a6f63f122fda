// Package rules evaluates threshold rules against a node snapshot. Nothing here
// touches storage; callers pass the node and its rules in.
package rules

import (
	"fmt"
	"math"
	"sort"

	"otdops/internal/domain"
)

type Options struct {
	// Epsilon widens '=' to |v-t| <= Epsilon. Zero keeps exact equality.
	Epsilon float64
}

type Trigger struct {
	Rule     domain.Rule     `json:"rule"`
	Value    float64         `json:"value"`
	Severity domain.Severity `json:"severity"`
}

type Result struct {
	NodeID    string                    `json:"node_id"`
	Triggered []Trigger                 `json:"triggered"`
	Warnings  []domain.StaleRuleWarning `json:"warnings"`
	Status    domain.NodeStatus         `json:"status"`
}

// Compare applies op to value and threshold.
func Compare(op domain.Operator, value, threshold, epsilon float64) (bool, error) {
	switch op {
	case domain.OpGreater:
		return value > threshold, nil
	case domain.OpLess:
		return value < threshold, nil
	case domain.OpGreaterEqual:
		return value >= threshold, nil
	case domain.OpLessEqual:
		return value <= threshold, nil
	case domain.OpEqual:
		if epsilon > 0 {
			return math.Abs(value-threshold) <= epsilon, nil
		}
		return value == threshold, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidRule, op)
	}
}

// Evaluate checks every enabled rule bound to node. Rules for other nodes are ignored.
// A rule whose metric is missing or not numeric becomes a warning and never stops the rest.
func Evaluate(node domain.ProcessNode, rules []domain.Rule, opts Options) Result {
	res := Result{NodeID: node.ID, Triggered: []Trigger{}, Warnings: []domain.StaleRuleWarning{}}
	for _, r := range rules {
		if r.NodeID != node.ID || !r.Enabled {
			continue
		}
		m, ok := node.Metric(r.Metric)
		if !ok {
			res.Warnings = append(res.Warnings, domain.StaleRuleWarning{RuleID: r.ID, NodeID: node.ID, Metric: r.Metric, Reason: "metric not present on node"})
			continue
		}
		if !m.Numeric() {
			res.Warnings = append(res.Warnings, domain.StaleRuleWarning{RuleID: r.ID, NodeID: node.ID, Metric: r.Metric, Reason: "metric value is not numeric"})
			continue
		}
		hit, err := Compare(r.Operator, *m.Value, r.Threshold, opts.Epsilon)
		if err != nil {
			res.Warnings = append(res.Warnings, domain.StaleRuleWarning{RuleID: r.ID, NodeID: node.ID, Metric: r.Metric, Reason: err.Error()})
			continue
		}
		if hit {
			res.Triggered = append(res.Triggered, Trigger{Rule: r, Value: *m.Value, Severity: r.Severity.Effective()})
		}
	}
	sort.Slice(res.Triggered, func(i, j int) bool { return res.Triggered[i].Rule.ID < res.Triggered[j].Rule.ID })
	sort.Slice(res.Warnings, func(i, j int) bool { return res.Warnings[i].RuleID < res.Warnings[j].RuleID })
	res.Status = AggregateStatus(res.Triggered)
	return res
}

// AggregateStatus is the highest status contributed by any trigger.
func AggregateStatus(triggered []Trigger) domain.NodeStatus {
	status := domain.StatusHealthy
	for _, t := range triggered {
		if s := t.Severity.Status(); s.Rank() > status.Rank() {
			status = s
		}
	}
	return status
}

// Validate enforces the creation invariant of a rule against its target node.
func Validate(r domain.Rule, node domain.ProcessNode) error {
	if r.NodeID != node.ID {
		return fmt.Errorf("%w: rule targets node %q, got %q", domain.ErrInvalidRule, r.NodeID, node.ID)
	}
	if r.Metric == "" {
		return fmt.Errorf("%w: metric is required", domain.ErrInvalidRule)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidRule, r.Operator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidRule, r.Severity)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", domain.ErrInvalidRule)
	}
	if r.TriggerAction == "" || r.TargetRole == "" {
		return fmt.Errorf("%w: trigger_action and target_role are required", domain.ErrInvalidRule)
	}
	m, ok := node.Metric(r.Metric)
	if !ok {
		return fmt.Errorf("%w: no such metric on node %s", domain.InvalidRef("metric", r.Metric), node.ID)
	}
	if !m.Numeric() {
		return fmt.Errorf("%w: metric is not numeric", domain.InvalidRef("metric", r.Metric))
	}
	return nil
}

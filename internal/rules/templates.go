package rules

import (
	"fmt"
	"sort"

	"otdops/internal/domain"
)

// Template is a pre-filled rule an operator binds to a node.
type Template struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Metric        string          `json:"metric"`
	Operator      domain.Operator `json:"operator"`
	Threshold     float64         `json:"threshold"`
	Severity      domain.Severity `json:"severity,omitempty"`
	TriggerAction string          `json:"trigger_action"`
	TargetRole    string          `json:"target_role"`
	SopID         string          `json:"sop_id,omitempty"`
}

var templates = map[string]Template{
	"otd-backlog-alert": {
		ID:            "otd-backlog-alert",
		Name:          "OTD backlog alert",
		Description:   "Chase shortages when the scheduling backlog piles up.",
		Metric:        "Backlog Orders",
		Operator:      domain.OpGreater,
		Threshold:     20,
		Severity:      domain.SeverityCritical,
		TriggerAction: "Create high-priority shortage chase task",
		TargetRole:    "Planning Supervisor",
		SopID:         "sop-1",
	},
	"quality-circuit-breaker": {
		ID:            "quality-circuit-breaker",
		Name:          "Quality circuit breaker",
		Description:   "Stop the line when first-pass yield drops.",
		Metric:        "First Pass Yield",
		Operator:      domain.OpLess,
		Threshold:     95,
		Severity:      domain.SeverityCritical,
		TriggerAction: "Hold the line and open a quality containment task",
		TargetRole:    "Quality Manager",
	},
	"vip-expedite": {
		ID:            "vip-expedite",
		Name:          "VIP expedite",
		Description:   "Expedite when VIP orders wait too long in transit.",
		Metric:        "In-Transit Delay",
		Operator:      domain.OpGreaterEqual,
		Threshold:     2,
		Severity:      domain.SeverityWarning,
		TriggerAction: "Expedite VIP shipment",
		TargetRole:    "Logistics Coordinator",
	},
}

// Templates lists the built-in templates by id.
func Templates() []Template {
	res := make([]Template, 0, len(templates))
	for _, t := range templates {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// FromTemplate builds an enabled rule bound to nodeID. The caller still validates it.
func FromTemplate(templateID, ruleID, nodeID string) (domain.Rule, error) {
	t, ok := templates[templateID]
	if !ok {
		return domain.Rule{}, fmt.Errorf("rule template %q: %w", templateID, domain.ErrNotFound)
	}
	return domain.Rule{
		ID:            ruleID,
		NodeID:        nodeID,
		Metric:        t.Metric,
		Operator:      t.Operator,
		Threshold:     t.Threshold,
		Severity:      t.Severity,
		TriggerAction: t.TriggerAction,
		TargetRole:    t.TargetRole,
		SopID:         t.SopID,
		Enabled:       true,
	}, nil
}

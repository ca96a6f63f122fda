// Package seed loads the demo Order-to-Delivery process map.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/taskgen"
)

//go:embed fixture.yaml
var fixtureYAML []byte

type Fixture struct {
	SOPs  []domain.SOP `yaml:"sops"`
	Nodes []struct {
		ID          string           `yaml:"id"`
		Title       string           `yaml:"title"`
		Stage       domain.NodeStage `yaml:"stage"`
		Position    int              `yaml:"position"`
		Description string           `yaml:"description"`
		Metrics     []struct {
			Name    string       `yaml:"name"`
			Value   *float64     `yaml:"value"`
			Text    string       `yaml:"text"`
			Unit    string       `yaml:"unit"`
			Trend   domain.Trend `yaml:"trend"`
			Leading bool         `yaml:"leading"`
		} `yaml:"metrics"`
	} `yaml:"nodes"`
	Rules []struct {
		ID            string          `yaml:"id"`
		NodeID        string          `yaml:"node_id"`
		Metric        string          `yaml:"metric"`
		Operator      domain.Operator `yaml:"operator"`
		Threshold     float64         `yaml:"threshold"`
		Severity      domain.Severity `yaml:"severity"`
		TriggerAction string          `yaml:"trigger_action"`
		TargetRole    string          `yaml:"target_role"`
		SopID         string          `yaml:"sop_id"`
	} `yaml:"rules"`
	Tasks []struct {
		ID          string            `yaml:"id"`
		Title       string            `yaml:"title"`
		NodeID      string            `yaml:"node_id"`
		Status      domain.TaskStatus `yaml:"status"`
		Priority    domain.Priority   `yaml:"priority"`
		Assignee    string            `yaml:"assignee"`
		Description string            `yaml:"description"`
		SopID       string            `yaml:"sop_id"`
		Feedback    *struct {
			RootCause string `yaml:"root_cause"`
			Comment   string `yaml:"comment"`
		} `yaml:"feedback"`
	} `yaml:"tasks"`
}

type Stats struct {
	SOPs    int `json:"sops"`
	Nodes   int `json:"nodes"`
	Rules   int `json:"rules"`
	Tasks   int `json:"tasks"`
	Skipped int `json:"skipped"`
}

// Default returns the embedded fixture.
func Default() (Fixture, error) {
	return Parse(fixtureYAML)
}

func Parse(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixture: %w", err)
	}
	return f, nil
}

// Apply loads f through the engine. Entities that already exist are skipped, so Apply
// can be rerun against a seeded workspace.
func Apply(ctx context.Context, eng engine.Engine, f Fixture, actorID string) (Stats, error) {
	var st Stats
	for _, s := range f.SOPs {
		if _, err := eng.PutSOP(ctx, s, actorID); err != nil {
			return st, fmt.Errorf("sop %s: %w", s.ID, err)
		}
		st.SOPs++
	}
	for _, n := range f.Nodes {
		opts := engine.NodeCreateOptions{ID: n.ID, Title: n.Title, Stage: n.Stage, Position: n.Position, Description: n.Description, ActorID: actorID}
		for _, m := range n.Metrics {
			opts.Metrics = append(opts.Metrics, engine.MetricInput{Name: m.Name, Value: m.Value, Text: m.Text, Unit: m.Unit, Trend: m.Trend, Leading: m.Leading})
		}
		if _, err := eng.CreateNode(ctx, opts); err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return st, fmt.Errorf("node %s: %w", n.ID, err)
			}
			st.Skipped++
			continue
		}
		st.Nodes++
	}
	for _, r := range f.Rules {
		_, err := eng.CreateRule(ctx, engine.RuleInput{
			ID: r.ID, NodeID: r.NodeID, Metric: r.Metric, Operator: r.Operator, Threshold: r.Threshold, Severity: r.Severity,
			TriggerAction: r.TriggerAction, TargetRole: r.TargetRole, SopID: r.SopID, ActorID: actorID,
		})
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return st, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			st.Skipped++
			continue
		}
		st.Rules++
	}
	for _, t := range f.Tasks {
		_, err := eng.CreateTask(ctx, taskgen.CreateOptions{
			ID: t.ID, Title: t.Title, NodeID: t.NodeID, Priority: t.Priority, Assignee: t.Assignee,
			Description: t.Description, SopID: t.SopID, ActorID: actorID,
		})
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return st, fmt.Errorf("task %s: %w", t.ID, err)
			}
			st.Skipped++
			continue
		}
		if t.Status != "" && t.Status != domain.TaskPending {
			status := t.Status
			opts := taskgen.UpdateOptions{ID: t.ID, Status: &status, ActorID: actorID}
			if t.Feedback != nil {
				opts.Feedback = &domain.Feedback{RootCause: t.Feedback.RootCause, Comment: t.Feedback.Comment}
			}
			if _, err := eng.UpdateTask(ctx, opts); err != nil {
				return st, fmt.Errorf("task %s: %w", t.ID, err)
			}
		}
		st.Tasks++
	}
	return st, nil
}

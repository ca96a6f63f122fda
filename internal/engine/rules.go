package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"otdops/internal/domain"
	"otdops/internal/events"
	"otdops/internal/repo"
	"otdops/internal/rules"
)

type RuleInput struct {
	ID            string
	NodeID        string
	Metric        string
	Operator      domain.Operator
	Threshold     float64
	Severity      domain.Severity
	TriggerAction string
	TargetRole    string
	SopID         string
	Enabled       *bool
	ActorID       string
}

// RulePatch edits a rule. Nil fields are left alone; the target node cannot change.
type RulePatch struct {
	Metric        *string
	Operator      *domain.Operator
	Threshold     *float64
	Severity      *domain.Severity
	TriggerAction *string
	TargetRole    *string
	SopID         *string
	Enabled       *bool
	ActorID       string
}

func rulePayload(r domain.Rule) events.EventPayload {
	return events.EventPayload{
		"node_id": r.NodeID, "metric": r.Metric, "operator": r.Operator, "threshold": r.Threshold,
		"severity": r.Severity, "sop_id": r.SopID, "enabled": r.Enabled,
	}
}

// checkRule validates r against its node inside tx. SOP links are only checked here when
// rules.validate_sop_on_create is set; otherwise they are resolved when a task is generated.
func (e Engine) checkRule(ctx context.Context, tx *sql.Tx, r domain.Rule) error {
	node, err := e.loadNode(ctx, tx, r.NodeID)
	if err != nil {
		return err
	}
	if err := rules.Validate(r, node); err != nil {
		return err
	}
	if e.Config.Rules.ValidateSopOnCreate && r.SopID != "" {
		if _, err := e.SOPs.Link(ctx, tx, r.SopID); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) CreateRule(ctx context.Context, in RuleInput) (domain.Rule, error) {
	now := e.nowString()
	r := domain.Rule{
		ID:            in.ID,
		NodeID:        in.NodeID,
		Metric:        in.Metric,
		Operator:      in.Operator,
		Threshold:     in.Threshold,
		Severity:      in.Severity,
		TriggerAction: in.TriggerAction,
		TargetRole:    in.TargetRole,
		SopID:         in.SopID,
		Enabled:       in.Enabled == nil || *in.Enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if r.ID == "" {
		r.ID = "rule-" + uuid.NewString()[:8]
	}
	return e.insertRule(ctx, r, in.ActorID)
}

// CreateRuleFromTemplate binds a built-in template to a node.
func (e Engine) CreateRuleFromTemplate(ctx context.Context, templateID, ruleID, nodeID, actorID string) (domain.Rule, error) {
	if ruleID == "" {
		ruleID = "rule-" + uuid.NewString()[:8]
	}
	r, err := rules.FromTemplate(templateID, ruleID, nodeID)
	if err != nil {
		return r, err
	}
	now := e.nowString()
	r.CreatedAt, r.UpdatedAt = now, now
	return e.insertRule(ctx, r, actorID)
}

func (e Engine) insertRule(ctx context.Context, r domain.Rule, actorID string) (domain.Rule, error) {
	unlock := e.lockNode(r.NodeID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()

	if err := e.checkRule(ctx, tx, r); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Repo.InsertRule(ctx, tx, r); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Rule{}, fmt.Errorf("%w: rule %s already exists", domain.ErrConflict, r.ID)
		}
		return domain.Rule{}, err
	}
	if err := e.Events.Append(ctx, tx, events.RuleCreated, "rule", r.ID, actorID, rulePayload(r)); err != nil {
		return domain.Rule{}, err
	}
	if _, _, err := e.recompute(ctx, tx, r.NodeID, actorID); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return r, nil
}

func (e Engine) UpdateRule(ctx context.Context, id string, p RulePatch) (domain.Rule, error) {
	current, err := e.Repo.GetRule(ctx, nil, id)
	if err != nil {
		return current, err
	}
	unlock := e.lockNode(current.NodeID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()

	r, err := e.Repo.GetRule(ctx, tx, id)
	if err != nil {
		return r, err
	}
	if r.NodeID != current.NodeID {
		return r, fmt.Errorf("%w: rule %s moved while updating", domain.ErrConflict, id)
	}
	if p.Metric != nil {
		r.Metric = *p.Metric
	}
	if p.Operator != nil {
		r.Operator = *p.Operator
	}
	if p.Threshold != nil {
		r.Threshold = *p.Threshold
	}
	if p.Severity != nil {
		r.Severity = *p.Severity
	}
	if p.TriggerAction != nil {
		r.TriggerAction = *p.TriggerAction
	}
	if p.TargetRole != nil {
		r.TargetRole = *p.TargetRole
	}
	if p.SopID != nil {
		r.SopID = *p.SopID
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	r.UpdatedAt = e.nowString()
	if err := e.checkRule(ctx, tx, r); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Repo.UpdateRule(ctx, tx, r); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Events.Append(ctx, tx, events.RuleUpdated, "rule", r.ID, p.ActorID, rulePayload(r)); err != nil {
		return domain.Rule{}, err
	}
	if _, _, err := e.recompute(ctx, tx, r.NodeID, p.ActorID); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return r, nil
}

// DeleteRule removes a rule. Tasks it generated stay as they are.
func (e Engine) DeleteRule(ctx context.Context, id, actorID string) error {
	r, err := e.Repo.GetRule(ctx, nil, id)
	if err != nil {
		return err
	}
	unlock := e.lockNode(r.NodeID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.RuleDeleted, "rule", id, actorID, events.EventPayload{"node_id": r.NodeID}); err != nil {
		return err
	}
	if _, _, err := e.recompute(ctx, tx, r.NodeID, actorID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	return e.Repo.GetRule(ctx, nil, id)
}

func (e Engine) ListRules(ctx context.Context, nodeID string) ([]domain.Rule, error) {
	return e.Repo.ListRules(ctx, nil, repo.RuleFilters{NodeID: nodeID})
}

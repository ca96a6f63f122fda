package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"otdops/internal/domain"
)

const ruleColumns = `id,node_id,metric,operator,threshold,severity,trigger_action,target_role,sop_id,enabled,created_at,updated_at`

type RuleFilters struct {
	NodeID      string
	EnabledOnly bool
}

func scanRule(scan func(dest ...any) error) (domain.Rule, error) {
	var r domain.Rule
	var enabled int
	err := scan(&r.ID, &r.NodeID, &r.Metric, &r.Operator, &r.Threshold, &r.Severity, &r.TriggerAction, &r.TargetRole, &r.SopID, &enabled, &r.CreatedAt, &r.UpdatedAt)
	r.Enabled = enabled != 0
	return r, err
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.NodeID, rule.Metric, rule.Operator, rule.Threshold, rule.Severity, rule.TriggerAction, rule.TargetRole,
		rule.SopID, boolInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	res, err := tx.ExecContext(ctx, `UPDATE rules SET node_id=?, metric=?, operator=?, threshold=?, severity=?, trigger_action=?, target_role=?, sop_id=?, enabled=?, updated_at=? WHERE id=?`,
		rule.NodeID, rule.Metric, rule.Operator, rule.Threshold, rule.Severity, rule.TriggerAction, rule.TargetRole, rule.SopID,
		boolInt(rule.Enabled), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, tx *sql.Tx, id string) (domain.Rule, error) {
	rule, err := scanRule(r.q(tx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return rule, ErrNotFound
	}
	return rule, err
}

// ListRules returns rules ordered by id so evaluation output is stable.
func (r Repo) ListRules(ctx context.Context, tx *sql.Tx, f RuleFilters) ([]domain.Rule, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.NodeID != "" {
		clauses = append(clauses, "node_id=?")
		args = append(args, f.NodeID)
	}
	if f.EnabledOnly {
		clauses = append(clauses, "enabled=1")
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"otdops/internal/domain"
)

const taskColumns = `id,title,node_id,rule_id,status,priority,assignee,due_at,description,sop_id,trigger_value,triggered_at,feedback_root_cause,feedback_comment,feedback_by,feedback_at,created_at,updated_at,completed_at`

type TaskFilters struct {
	NodeID   string
	RuleID   string
	Status   string
	Assignee string
	OpenOnly bool
	Limit    int
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var ruleID, triggeredAt, rootCause, comment, by, at, completedAt sql.NullString
	var triggerValue sql.NullFloat64
	err := scan(&t.ID, &t.Title, &t.NodeID, &ruleID, &t.Status, &t.Priority, &t.Assignee, &t.DueAt, &t.Description, &t.SopID,
		&triggerValue, &triggeredAt, &rootCause, &comment, &by, &at, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	if ruleID.Valid {
		t.RuleID = &ruleID.String
	}
	if triggerValue.Valid {
		v := triggerValue.Float64
		t.TriggerValue = &v
	}
	if triggeredAt.Valid {
		t.TriggeredAt = &triggeredAt.String
	}
	if rootCause.Valid {
		t.Feedback = &domain.Feedback{RootCause: rootCause.String, Comment: comment.String, RecordedBy: by.String, RecordedAt: at.String}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func taskArgs(t domain.Task) []any {
	var rootCause, comment, by, at any
	if t.Feedback != nil {
		rootCause, comment, by, at = t.Feedback.RootCause, t.Feedback.Comment, nullable(t.Feedback.RecordedBy), nullable(t.Feedback.RecordedAt)
	}
	return []any{t.Title, t.NodeID, nullableStringPtr(t.RuleID), t.Status, t.Priority, t.Assignee, t.DueAt, t.Description, t.SopID,
		nullableFloatPtr(t.TriggerValue), nullableStringPtr(t.TriggeredAt), rootCause, comment, by, at, t.CreatedAt, t.UpdatedAt,
		nullableStringPtr(t.CompletedAt)}
}

// InsertTask fails with a unique violation when the (rule, node) pair already has an open task.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append([]any{t.ID}, taskArgs(t)...)
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append(taskArgs(t), t.ID)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, node_id=?, rule_id=?, status=?, priority=?, assignee=?, due_at=?, description=?, sop_id=?,
  trigger_value=?, triggered_at=?, feedback_root_cause=?, feedback_comment=?, feedback_by=?, feedback_at=?, created_at=?, updated_at=?, completed_at=?
WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// OpenTaskFor returns the pending or in-progress task generated by rule for node.
func (r Repo) OpenTaskFor(ctx context.Context, tx *sql.Tx, ruleID, nodeID string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE rule_id=? AND node_id=? AND status IN ('pending','in_progress') LIMIT 1`, ruleID, nodeID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) CountOpenTasks(ctx context.Context, tx *sql.Tx, nodeID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE node_id=? AND status IN ('pending','in_progress')`, nodeID).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status domain.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListTasks returns newest tasks first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.NodeID != "" {
		clauses = append(clauses, "node_id=?")
		args = append(args, f.NodeID)
	}
	if f.RuleID != "" {
		clauses = append(clauses, "rule_id=?")
		args = append(args, f.RuleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.OpenOnly {
		clauses = append(clauses, "status IN ('pending','in_progress')")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

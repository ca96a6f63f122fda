package repo

import (
	"context"
	"database/sql"
	"errors"

	"otdops/internal/domain"
)

const nodeColumns = `id,title,stage,status,position,description,created_at,updated_at`

func (r Repo) InsertNode(ctx context.Context, tx *sql.Tx, n domain.ProcessNode) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO nodes(`+nodeColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.Title, n.Stage, n.Status, n.Position, n.Description, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r Repo) UpdateNodeStatus(ctx context.Context, tx *sql.Tx, id string, status domain.NodeStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE nodes SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteNode(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNode loads a node with its metrics and open task count.
func (r Repo) GetNode(ctx context.Context, tx *sql.Tx, id string) (domain.ProcessNode, error) {
	q := r.q(tx)
	var n domain.ProcessNode
	err := q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id=?`, id).
		Scan(&n.ID, &n.Title, &n.Stage, &n.Status, &n.Position, &n.Description, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if n.Metrics, err = r.ListMetrics(ctx, tx, id); err != nil {
		return n, err
	}
	if n.ActiveTasks, err = r.CountOpenTasks(ctx, tx, id); err != nil {
		return n, err
	}
	return n, nil
}

func (r Repo) NodeExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListNodes returns every node in pipeline order.
func (r Repo) ListNodes(ctx context.Context) ([]domain.ProcessNode, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	var res []domain.ProcessNode
	for rows.Next() {
		var n domain.ProcessNode
		if err := rows.Scan(&n.ID, &n.Title, &n.Stage, &n.Status, &n.Position, &n.Description, &n.CreatedAt, &n.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, n)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Metrics, err = r.ListMetrics(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
		if res[i].ActiveTasks, err = r.CountOpenTasks(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpsertMetric inserts or replaces the metric keyed by (node, name).
func (r Repo) UpsertMetric(ctx context.Context, tx *sql.Tx, nodeID string, m domain.Metric) error {
	trend := m.Trend
	if trend == "" {
		trend = domain.TrendStable
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO metrics(id,node_id,name,value,text_value,unit,trend,leading,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(node_id,name) DO UPDATE SET value=excluded.value, text_value=excluded.text_value, unit=excluded.unit,
  trend=excluded.trend, leading=excluded.leading, updated_at=excluded.updated_at`,
		m.ID, nodeID, m.Name, nullableFloatPtr(m.Value), m.Text, m.Unit, trend, boolInt(m.Leading), m.UpdatedAt)
	return err
}

func (r Repo) ListMetrics(ctx context.Context, tx *sql.Tx, nodeID string) ([]domain.Metric, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,name,value,text_value,unit,trend,leading,updated_at FROM metrics WHERE node_id=? ORDER BY name ASC`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Metric{}
	for rows.Next() {
		var m domain.Metric
		var value sql.NullFloat64
		var leading int
		if err := rows.Scan(&m.ID, &m.Name, &value, &m.Text, &m.Unit, &m.Trend, &leading, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			m.Value = &v
		}
		m.Leading = leading != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

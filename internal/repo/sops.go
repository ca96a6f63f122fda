package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"otdops/internal/domain"
)

// PutSOP creates or replaces an SOP.
func (r Repo) PutSOP(ctx context.Context, tx *sql.Tx, s domain.SOP, now string) error {
	steps := s.Steps
	if steps == nil {
		steps = []string{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal sop steps: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sops(id,title,content,steps_json,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content, steps_json=excluded.steps_json, updated_at=excluded.updated_at`,
		s.ID, s.Title, s.Content, string(data), now, now)
	return err
}

func (r Repo) GetSOP(ctx context.Context, tx *sql.Tx, id string) (domain.SOP, error) {
	var s domain.SOP
	var steps string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,title,content,steps_json FROM sops WHERE id=?`, id).Scan(&s.ID, &s.Title, &s.Content, &steps)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return s, fmt.Errorf("decode sop %s steps: %w", id, err)
	}
	return s, nil
}

func (r Repo) ListSOPs(ctx context.Context) ([]domain.SOP, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,content,steps_json FROM sops ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.SOP{}
	for rows.Next() {
		var s domain.SOP
		var steps string
		if err := rows.Scan(&s.ID, &s.Title, &s.Content, &steps); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
			return nil, fmt.Errorf("decode sop %s steps: %w", s.ID, err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

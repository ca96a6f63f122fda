package engine

import (
	"context"
	"errors"
	"strings"

	"otdops/internal/domain"
	"otdops/internal/events"
)

// PutSOP creates or replaces reference SOP content.
func (e Engine) PutSOP(ctx context.Context, s domain.SOP, actorID string) (domain.SOP, error) {
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Title) == "" {
		return domain.SOP{}, errors.New("sop id and title are required")
	}
	if s.Steps == nil {
		s.Steps = []string{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SOP{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.PutSOP(ctx, tx, s, e.nowString()); err != nil {
		return domain.SOP{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SOPPut, "sop", s.ID, actorID, events.EventPayload{
		"title": s.Title, "steps": len(s.Steps),
	}); err != nil {
		return domain.SOP{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SOP{}, err
	}
	e.SOPs.Invalidate(s.ID)
	return s, nil
}

// ResolveSOP looks an SOP up through the linker cache.
func (e Engine) ResolveSOP(ctx context.Context, id string) (domain.SOP, error) {
	return e.SOPs.Resolve(ctx, id)
}

func (e Engine) ListSOPs(ctx context.Context) ([]domain.SOP, error) {
	return e.Repo.ListSOPs(ctx)
}

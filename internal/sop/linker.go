// Package sop resolves SOP references for tasks.
package sop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"otdops/internal/domain"
)

type Store interface {
	GetSOP(ctx context.Context, tx *sql.Tx, id string) (domain.SOP, error)
}

// Linker resolves SOP ids through an expiring LRU in front of the store.
type Linker struct {
	store Store
	cache *expirable.LRU[string, domain.SOP]
	log   hclog.Logger
}

// New builds a Linker. size 0 disables caching.
func New(store Store, size int, ttl time.Duration, logger hclog.Logger) *Linker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	l := &Linker{store: store, log: logger.Named("sop")}
	if size > 0 {
		l.cache = expirable.NewLRU[string, domain.SOP](size, nil, ttl)
	}
	return l
}

// Resolve returns the SOP or an error wrapping domain.ErrNotFound.
func (l *Linker) Resolve(ctx context.Context, id string) (domain.SOP, error) {
	return l.ResolveTx(ctx, nil, id)
}

// ResolveTx is Resolve reading through tx on a cache miss.
func (l *Linker) ResolveTx(ctx context.Context, tx *sql.Tx, id string) (domain.SOP, error) {
	if id == "" {
		return domain.SOP{}, fmt.Errorf("sop id is empty: %w", domain.ErrNotFound)
	}
	if l.cache != nil {
		if s, ok := l.cache.Get(id); ok {
			return s, nil
		}
	}
	s, err := l.store.GetSOP(ctx, tx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s, fmt.Errorf("sop %q: %w", id, domain.ErrNotFound)
		}
		return s, err
	}
	if l.cache != nil {
		l.cache.Add(id, s)
	}
	return s, nil
}

// Link resolves id for a task about to be created. A missing SOP becomes InvalidSopReference.
func (l *Linker) Link(ctx context.Context, tx *sql.Tx, id string) (domain.SOP, error) {
	s, err := l.ResolveTx(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		l.log.Warn("dangling sop reference", "sop_id", id)
		return s, domain.InvalidSop(id)
	}
	return s, err
}

// Invalidate drops id from the cache after the SOP changed.
func (l *Linker) Invalidate(id string) {
	if l.cache != nil {
		l.cache.Remove(id)
	}
}

package sop

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/domain"
)

type fakeStore struct {
	sops  map[string]domain.SOP
	calls int
}

func (f *fakeStore) GetSOP(_ context.Context, _ *sql.Tx, id string) (domain.SOP, error) {
	f.calls++
	s, ok := f.sops[id]
	if !ok {
		return domain.SOP{}, domain.ErrNotFound
	}
	return s, nil
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	store := &fakeStore{sops: map[string]domain.SOP{"sop-1": {ID: "sop-1", Title: "Shortage handling", Steps: []string{"Check inventory"}}}}
	l := New(store, 8, time.Minute, nil)
	ctx := context.Background()

	s, err := l.Resolve(ctx, "sop-1")
	require.NoError(t, err)
	assert.Equal(t, "Shortage handling", s.Title)
	_, err = l.Resolve(ctx, "sop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	store.sops["sop-1"] = domain.SOP{ID: "sop-1", Title: "Shortage handling v2"}
	l.Invalidate("sop-1")
	s, err = l.Resolve(ctx, "sop-1")
	require.NoError(t, err)
	assert.Equal(t, "Shortage handling v2", s.Title)
	assert.Equal(t, 2, store.calls)
}

func TestResolveMissing(t *testing.T) {
	l := New(&fakeStore{sops: map[string]domain.SOP{}}, 0, 0, nil)
	_, err := l.Resolve(context.Background(), "sop-404")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = l.Link(context.Background(), nil, "sop-404")
	assert.True(t, errors.Is(err, domain.ErrInvalidSopReference))
	assert.True(t, errors.Is(err, domain.ErrInvalidReference))
	var ref domain.ReferenceError
	require.True(t, errors.As(err, &ref))
	assert.Equal(t, "sop-404", ref.ID)

	_, err = l.Link(context.Background(), nil, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidSopReference))
}

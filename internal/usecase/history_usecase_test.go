package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/cutout/internal/domain"
)

type fakeHistoryRepo struct {
	rows        map[string]*domain.SessionRecord
	lastLimit   int
	lastOffset  int
	upsertError error
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{rows: make(map[string]*domain.SessionRecord)}
}

func (f *fakeHistoryRepo) Upsert(_ context.Context, rec *domain.SessionRecord) error {
	if f.upsertError != nil {
		return f.upsertError
	}
	cp := *rec
	f.rows[rec.SessionID] = &cp
	return nil
}

func (f *fakeHistoryRepo) FindByID(_ context.Context, id string) (*domain.SessionRecord, error) {
	rec, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec, nil
}

func (f *fakeHistoryRepo) List(_ context.Context, limit, offset int) ([]*domain.SessionRecord, error) {
	f.lastLimit, f.lastOffset = limit, offset
	var out []*domain.SessionRecord
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeHistoryRepo) FindByPhase(_ context.Context, phase domain.Phase, limit, offset int) ([]*domain.SessionRecord, error) {
	f.lastLimit, f.lastOffset = limit, offset
	var out []*domain.SessionRecord
	for _, r := range f.rows {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestHistoryUsecase_Record(t *testing.T) {
	repo := newFakeHistoryRepo()
	u := NewHistoryUsecase(repo)
	ctx := context.Background()

	require.NoError(t, u.Record(ctx, domain.SessionRecord{SessionID: "a", Phase: domain.PhaseDone, FinishedAt: time.Now()}))
	require.NoError(t, u.Record(ctx, domain.SessionRecord{SessionID: "b", Phase: domain.PhaseRemoving}))
	assert.Len(t, repo.rows, 1, "non-terminal records are not stored")

	err := u.Record(ctx, domain.SessionRecord{Phase: domain.PhaseDone})
	assert.True(t, errors.Is(err, domain.ErrNoSession))

	repo.upsertError = errors.New("db down")
	err = u.Record(ctx, domain.SessionRecord{SessionID: "c", Phase: domain.PhaseFailed})
	assert.ErrorContains(t, err, "store session c")

	rec, err := u.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDone, rec.Phase)

	_, err = u.Get(ctx, "zzz")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestHistoryUsecase_Paging(t *testing.T) {
	repo := newFakeHistoryRepo()
	u := NewHistoryUsecase(repo)
	ctx := context.Background()

	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{limit: 0, offset: 0, wantLimit: defaultHistoryLimit, wantOffset: 0},
		{limit: 500, offset: -4, wantLimit: maxHistoryLimit, wantOffset: 0},
		{limit: 10, offset: 30, wantLimit: 10, wantOffset: 30},
	}
	for _, tt := range tests {
		_, err := u.List(ctx, tt.limit, tt.offset)
		require.NoError(t, err)
		assert.Equal(t, tt.wantLimit, repo.lastLimit)
		assert.Equal(t, tt.wantOffset, repo.lastOffset)
	}

	_, err := u.ListByPhase(ctx, domain.PhaseDecoding, 10, 0)
	assert.Error(t, err)
	_, err = u.ListByPhase(ctx, domain.PhaseFailed, 10, 0)
	assert.NoError(t, err)
}

package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeHistory struct {
	records []domain.SessionRecord
	err     error
}

func (f *fakeHistory) Record(_ context.Context, rec domain.SessionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) Get(context.Context, string) (*domain.SessionRecord, error) {
	return nil, domain.ErrSessionNotFound
}

func (f *fakeHistory) List(context.Context, int, int) ([]*domain.SessionRecord, error) {
	return nil, nil
}

func (f *fakeHistory) ListByPhase(context.Context, domain.Phase, int, int) ([]*domain.SessionRecord, error) {
	return nil, nil
}

func TestHistoryWorker_HandleSnapshot(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engineErr := domain.NewEngineError()

	tests := []struct {
		name     string
		snap     domain.Snapshot
		recorded bool
	}{
		{name: "decoding is skipped", snap: domain.Snapshot{SessionID: "s", Phase: domain.PhaseDecoding, Progress: 40}},
		{name: "idle after reset is skipped", snap: domain.Snapshot{Phase: domain.PhaseIdle}},
		{name: "done is recorded", snap: domain.Snapshot{SessionID: "s", Phase: domain.PhaseDone, Progress: 100, ArtifactHandle: "h", StartedAt: &started}, recorded: true},
		{name: "failed is recorded", snap: domain.Snapshot{SessionID: "s", Phase: domain.PhaseFailed, Error: &engineErr}, recorded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHistory{}
			w := NewHistoryWorker(h)

			require.NoError(t, w.HandleSnapshot(context.Background(), tt.snap))
			if !tt.recorded {
				assert.Empty(t, h.records)
				return
			}
			require.Len(t, h.records, 1)
			assert.Equal(t, tt.snap.Phase, h.records[0].Phase)
			if tt.snap.Error != nil {
				assert.Equal(t, domain.KindEngine, h.records[0].ErrorKind)
			}
		})
	}
}

func TestHistoryWorker_PropagatesStoreErrors(t *testing.T) {
	w := NewHistoryWorker(&fakeHistory{err: errors.New("db down")})
	err := w.HandleSnapshot(context.Background(), domain.Snapshot{SessionID: "s", Phase: domain.PhaseDone})
	assert.ErrorContains(t, err, "record session s")
}

package worker

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

// HistoryWorker turns snapshot events into session history records.
type HistoryWorker struct {
	history domain.HistoryService
}

func NewHistoryWorker(history domain.HistoryService) *HistoryWorker {
	return &HistoryWorker{history: history}
}

// HandleSnapshot records terminal snapshots and ignores the rest. An error
// means the event should be redelivered.
func (w *HistoryWorker) HandleSnapshot(ctx context.Context, s domain.Snapshot) error {
	rec, ok := domain.RecordFromSnapshot(s)
	if !ok {
		zlog.Logger.Debug().
			Str("session_id", s.SessionID).
			Str("phase", string(s.Phase)).
			Uint64("seq", s.Seq).
			Msg("snapshot is not terminal, skipping")
		return nil
	}

	zlog.Logger.Info().
		Str("session_id", rec.SessionID).
		Str("phase", string(rec.Phase)).
		Msg("recording finished session")

	if err := w.history.Record(ctx, rec); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("session_id", rec.SessionID).
			Msg("failed to record session")
		return fmt.Errorf("record session %s: %w", rec.SessionID, err)
	}
	return nil
}

package usecase

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type HistoryUsecase struct {
	repo domain.SessionHistoryRepository
}

func NewHistoryUsecase(repo domain.SessionHistoryRepository) *HistoryUsecase {
	return &HistoryUsecase{repo: repo}
}

func (u *HistoryUsecase) Record(ctx context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("record session: %w", domain.ErrNoSession)
	}
	if !rec.Phase.IsTerminal() {
		zlog.Logger.Debug().Str("session_id", rec.SessionID).Str("phase", string(rec.Phase)).Msg("skipping non-terminal session record")
		return nil
	}

	if err := u.repo.Upsert(ctx, &rec); err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", rec.SessionID).Msg("failed to store session record")
		return fmt.Errorf("store session %s: %w", rec.SessionID, err)
	}

	zlog.Logger.Info().
		Str("session_id", rec.SessionID).
		Str("phase", string(rec.Phase)).
		Str("error_kind", string(rec.ErrorKind)).
		Msg("session recorded")
	return nil
}

func (u *HistoryUsecase) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	return u.repo.FindByID(ctx, sessionID)
}

func (u *HistoryUsecase) List(ctx context.Context, limit, offset int) ([]*domain.SessionRecord, error) {
	limit, offset = clampPage(limit, offset)
	return u.repo.List(ctx, limit, offset)
}

func (u *HistoryUsecase) ListByPhase(ctx context.Context, phase domain.Phase, limit, offset int) ([]*domain.SessionRecord, error) {
	if !phase.IsTerminal() {
		return nil, fmt.Errorf("history holds only finished sessions, got phase %q", phase)
	}
	limit, offset = clampPage(limit, offset)
	return u.repo.FindByPhase(ctx, phase, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

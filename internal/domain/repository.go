package domain

import "context"

type SessionHistoryRepository interface {
	Upsert(ctx context.Context, rec *SessionRecord) error
	FindByID(ctx context.Context, sessionID string) (*SessionRecord, error)
	List(ctx context.Context, limit, offset int) ([]*SessionRecord, error)
	FindByPhase(ctx context.Context, phase Phase, limit, offset int) ([]*SessionRecord, error)
}

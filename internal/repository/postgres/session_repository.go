package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

const selectColumns = `
	SELECT session_id, phase, filename, media_type, size,
	       error_kind, error_reason, error_message, artifact_handle,
	       started_at, finished_at
	FROM session_history`

type sessionRepository struct {
	db       *dbpg.DB
	strategy retry.Strategy
}

func NewSessionRepository(db *dbpg.DB, strategy retry.Strategy) domain.SessionHistoryRepository {
	return &sessionRepository{
		db:       db,
		strategy: strategy,
	}
}

// Upsert stores rec. Replaying the same snapshot event overwrites the row
// with identical values.
func (r *sessionRepository) Upsert(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
		INSERT INTO session_history (
			session_id, phase, filename, media_type, size,
			error_kind, error_reason, error_message, artifact_handle,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			error_kind = EXCLUDED.error_kind,
			error_reason = EXCLUDED.error_reason,
			error_message = EXCLUDED.error_message,
			artifact_handle = EXCLUDED.artifact_handle,
			finished_at = EXCLUDED.finished_at,
			recorded_at = NOW()
	`

	_, err := r.db.ExecWithRetry(ctx, r.strategy, query,
		rec.SessionID,
		rec.Phase,
		rec.Filename,
		rec.MediaType,
		rec.Size,
		nullString(string(rec.ErrorKind)),
		nullString(rec.ErrorReason),
		nullString(rec.ErrorMessage),
		nullString(rec.ArtifactHandle),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", rec.SessionID).Msg("failed to upsert session record")
		return fmt.Errorf("upsert session: %w", err)
	}

	zlog.Logger.Debug().Str("session_id", rec.SessionID).Msg("session record upserted")
	return nil
}

func (r *sessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := selectColumns + ` WHERE session_id = $1`

	row := r.db.Master.QueryRowContext(ctx, query, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to find session")
		return nil, fmt.Errorf("find session: %w", err)
	}
	return rec, nil
}

func (r *sessionRepository) List(ctx context.Context, limit, offset int) ([]*domain.SessionRecord, error) {
	query := selectColumns + `
		ORDER BY finished_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryWithRetry(ctx, r.strategy, query, limit, offset)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list sessions")
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *sessionRepository) FindByPhase(ctx context.Context, phase domain.Phase, limit, offset int) ([]*domain.SessionRecord, error) {
	query := selectColumns + `
		WHERE phase = $1
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryWithRetry(ctx, r.strategy, query, phase, limit, offset)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("phase", string(phase)).Msg("failed to find sessions by phase")
		return nil, fmt.Errorf("find sessions by phase: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var errorKind, errorReason, errorMessage, artifact sql.NullString
	var startedAt sql.NullTime

	err := s.Scan(
		&rec.SessionID,
		&rec.Phase,
		&rec.Filename,
		&rec.MediaType,
		&rec.Size,
		&errorKind,
		&errorReason,
		&errorMessage,
		&artifact,
		&startedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ErrorKind = domain.ErrorKind(errorKind.String)
	rec.ErrorReason = errorReason.String
	rec.ErrorMessage = errorMessage.String
	rec.ArtifactHandle = artifact.String
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*domain.SessionRecord, error) {
	var records []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

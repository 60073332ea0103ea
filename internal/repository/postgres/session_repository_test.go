package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

var columns = []string{
	"session_id", "phase", "filename", "media_type", "size",
	"error_kind", "error_reason", "error_message", "artifact_handle",
	"started_at", "finished_at",
}

func newMockRepo(t *testing.T) (domain.SessionHistoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSessionRepository(&dbpg.DB{Master: db}, retry.Strategy{Attempts: 1, Backoff: 1})
	return repo, mock
}

func TestSessionRepository_Upsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	rec := &domain.SessionRecord{
		SessionID:    "s-1",
		Phase:        domain.PhaseFailed,
		Filename:     "cat.jpg",
		MediaType:    "image/jpeg",
		Size:         2048,
		ErrorKind:    domain.KindEngine,
		ErrorMessage: "There was an issue removing the background. Please try again.",
		StartedAt:    &started,
		FinishedAt:   finished,
	}

	mock.ExpectExec("INSERT INTO session_history").
		WithArgs("s-1", "failed", "cat.jpg", "image/jpeg", int64(2048),
			"engine-error", nil, rec.ErrorMessage, nil, started, finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_UpsertError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO session_history").WillReturnError(errors.New("connection reset"))

	err := repo.Upsert(context.Background(), &domain.SessionRecord{SessionID: "s-2", Phase: domain.PhaseDone})
	assert.ErrorContains(t, err, "upsert session")
}

func TestSessionRepository_FindByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	finished := time.Date(2024, 5, 1, 12, 0, 3, 0, time.UTC)

	mock.ExpectQuery("FROM session_history WHERE session_id = \\$1").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("s-1", "done", "cat.jpg", "image/png", int64(10), nil, nil, nil, "art-1", nil, finished))

	rec, err := repo.FindByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDone, rec.Phase)
	assert.Equal(t, "art-1", rec.ArtifactHandle)
	assert.Empty(t, rec.ErrorKind)
	assert.Nil(t, rec.StartedAt)
	assert.True(t, finished.Equal(rec.FinishedAt))

	mock.ExpectQuery("FROM session_history WHERE session_id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ListAndFindByPhase(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("ORDER BY finished_at DESC").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("s-2", "failed", "b.txt", "text/plain", int64(5), "validation-error", "wrong-type", "Please upload an image file (JPEG, PNG, etc.)", nil, now, now).
			AddRow("s-1", "done", "a.png", "image/png", int64(7), nil, nil, nil, "h-1", now, now))

	list, err := repo.List(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.KindValidation, list[0].ErrorKind)
	assert.Equal(t, "wrong-type", list[0].ErrorReason)
	require.NotNil(t, list[0].StartedAt)
	assert.Equal(t, "h-1", list[1].ArtifactHandle)

	mock.ExpectQuery("WHERE phase = \\$1").
		WithArgs("done", 10, 5).
		WillReturnRows(sqlmock.NewRows(columns))

	none, err := repo.FindByPhase(context.Background(), domain.PhaseDone, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.NoError(t, mock.ExpectationsWereMet())
}

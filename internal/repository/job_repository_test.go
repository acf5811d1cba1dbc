package repository

import (
	"autopublisher/internal/models"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordRepositoryImpl_UpdateState(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "pending to processing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE keywords`).
					WithArgs(models.KeywordProcessing, sqlmock.AnyArg(), "kw-1", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "keyword already taken",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE keywords`).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewKeywordRepository(db)
			tt.setupMock(mock)

			err := repo.UpdateState(context.Background(), "kw-1",
				[]models.KeywordState{models.KeywordPending}, models.KeywordProcessing)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobRepositoryImpl_Update(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewJobRepository(db)
	job := &models.GenerationJob{JobID: "job-1", State: models.JobRunning, Attempts: 1}

	mock.ExpectExec(`UPDATE generation_jobs`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), job, models.JobQueued))

	mock.ExpectExec(`UPDATE generation_jobs`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), job, models.JobQueued)
	assert.ErrorIs(t, err, ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryImpl_NextEligible(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewJobRepository(db)
	now := time.Now()

	columns := []string{"job_id", "user_id", "keyword_id", "provider", "content_type", "options", "priority", "state",
		"scheduled_at", "attempts", "max_retries", "timeouts", "last_error", "failure_reason", "warnings", "post_id",
		"created_at", "updated_at", "started_at", "finished_at"}

	mock.ExpectQuery(`SELECT (.+) FROM generation_jobs WHERE state = 'queued' AND scheduled_at <= \$1 (.+) FOR UPDATE SKIP LOCKED`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"job-1", "user-1", "kw-1", "auto", "article", []byte(`{"tone":"friendly","autoPublish":true}`), "high", "queued",
			now, 0, 3, 0, "", "", []byte(`[]`), nil, now, now, nil, nil,
		))

	job, err := repo.NextEligible(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, models.PriorityHigh, job.Priority)
	assert.Equal(t, "friendly", job.Options.Tone)
	assert.True(t, job.Options.AutoPublish)
	assert.Nil(t, job.PostID)

	mock.ExpectQuery(`SELECT (.+) FROM generation_jobs`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.NextEligible(context.Background(), now)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE keywords`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO generation_jobs`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(ctx context.Context, repo *Repository) error {
			if err := repo.Keyword.UpdateState(ctx, "kw-1", []models.KeywordState{models.KeywordPending}, models.KeywordProcessing); err != nil {
				return err
			}
			return repo.Job.Create(ctx, &models.GenerationJob{UserID: "user-1", KeywordID: "kw-1", State: models.JobQueued})
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE keywords`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.WithinTx(context.Background(), func(ctx context.Context, repo *Repository) error {
			return repo.Keyword.UpdateState(ctx, "kw-1", []models.KeywordState{models.KeywordPending}, models.KeywordProcessing)
		})

		assert.True(t, errors.Is(err, ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package repository

import (
	"autopublisher/internal/models"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sqlxDB.Close() })

	return sqlxDB, mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func stringPtr(s string) *string {
	return &s
}

var postRowColumns = []string{
	"post_id", "author_id", "keyword_id", "job_id", "title", "content", "excerpt", "meta_title", "meta_description",
	"focus_keyword", "canonical_url", "author_name", "publisher_name", "schema_type", "article_section", "status", "slug",
	"word_count", "reading_minutes", "published_at", "scheduled_at", "created_at", "updated_at",
}

func TestPostRepositoryImpl_Create(t *testing.T) {
	tests := []struct {
		name      string
		post      *models.Post
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		errorMsg  string
	}{
		{
			name: "creates draft",
			post: &models.Post{
				PostID:   "post-1",
				AuthorID: "user-1",
				JobID:    stringPtr("job-1"),
				Title:    "Mindful Breathing",
				Content:  "<h2>Intro</h2><p>Body</p>",
				Status:   models.PostGenerating,
				Slug:     "mindful-breathing",
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO posts`).
					WithArgs(anyArgs(23)...).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "slug collision",
			post: &models.Post{AuthorID: "user-1", Title: "Mindful Breathing", Slug: "mindful-breathing"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO posts`).
					WillReturnError(&pq.Error{Code: "23505", Constraint: "posts_slug_key"})
			},
			wantErr: ErrSlugTaken,
		},
		{
			name: "second post for the same job",
			post: &models.Post{AuthorID: "user-1", JobID: stringPtr("job-1"), Slug: "other"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO posts`).
					WillReturnError(&pq.Error{Code: "23505", Constraint: "posts_job_id_key"})
			},
			wantErr: ErrDuplicate,
		},
		{
			name: "database error",
			post: &models.Post{AuthorID: "user-1", Slug: "x"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO posts`).
					WillReturnError(fmt.Errorf("connection refused"))
			},
			errorMsg: "error creating post",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewPostRepository(db)
			tt.setupMock(mock)

			err := repo.Create(context.Background(), tt.post)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errorMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			default:
				require.NoError(t, err)
				assert.NotEmpty(t, tt.post.PostID)
				assert.False(t, tt.post.CreatedAt.IsZero())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostRepositoryImpl_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(postRowColumns).AddRow(
			"post-1", "user-1", nil, "job-1", "Title", "<p>x</p>", "x", "Title", "desc",
			"kw", "", "Editorial Team", "AutoPublisher", "Article", "Blog", "draft", "title",
			1, 1, nil, nil, now, now,
		)
		mock.ExpectQuery(`SELECT (.+) FROM posts WHERE post_id = \$1`).
			WithArgs("post-1").
			WillReturnRows(rows)

		post, err := repo.GetByID(context.Background(), "post-1")
		require.NoError(t, err)
		assert.Equal(t, "title", post.Slug)
		assert.Equal(t, models.PostDraft, post.Status)
		require.NotNil(t, post.JobID)
		assert.Equal(t, "job-1", *post.JobID)
		assert.Nil(t, post.KeywordID)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM posts WHERE post_id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(postRowColumns))

		_, err := repo.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryImpl_ListSlugsWithPrefix(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`SELECT slug FROM posts`).
		WithArgs("top_10", `top\_10-%`).
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("top_10").AddRow("top_10-1"))

	slugs, err := repo.ListSlugsWithPrefix(context.Background(), "top_10")
	require.NoError(t, err)
	assert.Equal(t, []string{"top_10", "top_10-1"}, slugs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryImpl_CountCreatedSince(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts`).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountCreatedSince(context.Background(), "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryImpl_Delete(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectExec(`DELETE FROM images WHERE post_id = \$1`).
		WithArgs("post-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM posts WHERE post_id = \$1`).
		WithArgs("post-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "post-1"))

	mock.ExpectExec(`DELETE FROM images`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM posts`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "post-2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"autopublisher/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PostRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewPostRepository(db sqlx.ExtContext) *PostRepositoryImpl {
	return &PostRepositoryImpl{db: db}
}

const postColumns = `post_id, author_id, keyword_id, job_id, title, content, excerpt, meta_title, meta_description,
	focus_keyword, canonical_url, author_name, publisher_name, schema_type, article_section, status, slug,
	word_count, reading_minutes, published_at, scheduled_at, created_at, updated_at`

func (r *PostRepositoryImpl) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES (:post_id, :author_id, :keyword_id, :job_id, :title, :content, :excerpt, :meta_title, :meta_description,
			:focus_keyword, :canonical_url, :author_name, :publisher_name, :schema_type, :article_section, :status, :slug,
			:word_count, :reading_minutes, :published_at, :scheduled_at, :created_at, :updated_at)
	`

	if post.PostID == "" {
		post.PostID = uuid.New().String()
	}

	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	_, err := sqlx.NamedExecContext(ctx, r.db, query, post)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if strings.Contains(constraint, "slug") {
				return fmt.Errorf("slug %q: %w", post.Slug, ErrSlugTaken)
			}
			return fmt.Errorf("post for job: %w", ErrDuplicate)
		}
		return fmt.Errorf("error creating post: %w", err)
	}

	return nil
}

func (r *PostRepositoryImpl) GetByID(ctx context.Context, postID string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE post_id = $1`

	var post models.Post
	err := sqlx.GetContext(ctx, r.db, &post, query, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %s: %w", postID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting post: %w", err)
	}

	return &post, nil
}

func (r *PostRepositoryImpl) GetByJobID(ctx context.Context, jobID string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE job_id = $1`

	var post models.Post
	err := sqlx.GetContext(ctx, r.db, &post, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post for job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting post by job: %w", err)
	}

	return &post, nil
}

func (r *PostRepositoryImpl) Update(ctx context.Context, post *models.Post) error {
	query := `
		UPDATE posts
		SET title = :title, content = :content, excerpt = :excerpt, meta_title = :meta_title,
			meta_description = :meta_description, status = :status, slug = :slug, word_count = :word_count,
			reading_minutes = :reading_minutes, published_at = :published_at, scheduled_at = :scheduled_at,
			updated_at = :updated_at
		WHERE post_id = :post_id
	`

	post.UpdatedAt = time.Now()

	res, err := sqlx.NamedExecContext(ctx, r.db, query, post)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && strings.Contains(constraint, "slug") {
			return fmt.Errorf("slug %q: %w", post.Slug, ErrSlugTaken)
		}
		return fmt.Errorf("error updating post: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("post %s: %w", post.PostID, ErrNotFound)
	}

	return nil
}

func (r *PostRepositoryImpl) Delete(ctx context.Context, postID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("error deleting post images: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE post_id = $1`, postID)
	if err != nil {
		return fmt.Errorf("error deleting post: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}

	return nil
}

func (r *PostRepositoryImpl) ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT slug FROM posts WHERE slug = $1 OR slug LIKE $2`

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	var slugs []string
	if err := sqlx.SelectContext(ctx, r.db, &slugs, query, prefix, escaped+"-%"); err != nil {
		return nil, fmt.Errorf("error listing slugs: %w", err)
	}
	return slugs, nil
}

func (r *PostRepositoryImpl) CountCreatedSince(ctx context.Context, authorID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM posts WHERE author_id = $1 AND created_at >= $2`

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, authorID, since); err != nil {
		return 0, fmt.Errorf("error counting posts: %w", err)
	}
	return count, nil
}

package repository

import (
	"autopublisher/internal/models"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ImageRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewImageRepository(db sqlx.ExtContext) *ImageRepositoryImpl {
	return &ImageRepositoryImpl{db: db}
}

func (r *ImageRepositoryImpl) Create(ctx context.Context, image *models.Image) error {
	query := `
		INSERT INTO images (image_id, post_id, storage_path, image_url, alt_text, prompt, provider, position,
			is_featured, width, height, created_at)
		VALUES (:image_id, :post_id, :storage_path, :image_url, :alt_text, :prompt, :provider, :position,
			:is_featured, :width, :height, :created_at)
	`

	if image.ImageID == "" {
		image.ImageID = uuid.New().String()
	}

	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now()
	}

	_, err := sqlx.NamedExecContext(ctx, r.db, query, image)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("image position %d of post %s: %w", image.Position, image.PostID, ErrDuplicate)
		}
		return fmt.Errorf("error creating image: %w", err)
	}

	return nil
}

func (r *ImageRepositoryImpl) GetByPostID(ctx context.Context, postID string) ([]models.Image, error) {
	query := `
		SELECT image_id, post_id, storage_path, image_url, alt_text, prompt, provider, position,
			is_featured, width, height, created_at
		FROM images
		WHERE post_id = $1
		ORDER BY position
	`

	var images []models.Image
	if err := sqlx.SelectContext(ctx, r.db, &images, query, postID); err != nil {
		return nil, fmt.Errorf("error getting images: %w", err)
	}

	return images, nil
}

func (r *ImageRepositoryImpl) DeleteByPostID(ctx context.Context, postID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE post_id = $1`, postID)
	if err != nil {
		return fmt.Errorf("error deleting images: %w", err)
	}

	return nil
}

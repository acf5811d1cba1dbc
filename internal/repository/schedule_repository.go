package repository

import (
	"autopublisher/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ScheduleRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewScheduleRepository(db sqlx.ExtContext) *ScheduleRepositoryImpl {
	return &ScheduleRepositoryImpl{db: db}
}

const scheduleColumns = `user_id, enabled, cadence, max_posts_per_day, time_of_day, days_of_week, auto_publish,
	generate_images, content_style, language, word_count_min, word_count_max, provider, image_count, image_style,
	image_placement, include_featured, status, last_run_at, next_run_at, created_at, updated_at`

func (r *ScheduleRepositoryImpl) Upsert(ctx context.Context, cfg *models.ScheduleConfig) error {
	query := `
		INSERT INTO schedule_configs (` + scheduleColumns + `)
		VALUES (:user_id, :enabled, :cadence, :max_posts_per_day, :time_of_day, :days_of_week, :auto_publish,
			:generate_images, :content_style, :language, :word_count_min, :word_count_max, :provider, :image_count,
			:image_style, :image_placement, :include_featured, :status, :last_run_at, :next_run_at, :created_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled, cadence = EXCLUDED.cadence, max_posts_per_day = EXCLUDED.max_posts_per_day,
			time_of_day = EXCLUDED.time_of_day, days_of_week = EXCLUDED.days_of_week,
			auto_publish = EXCLUDED.auto_publish, generate_images = EXCLUDED.generate_images,
			content_style = EXCLUDED.content_style, language = EXCLUDED.language,
			word_count_min = EXCLUDED.word_count_min, word_count_max = EXCLUDED.word_count_max,
			provider = EXCLUDED.provider, image_count = EXCLUDED.image_count, image_style = EXCLUDED.image_style,
			image_placement = EXCLUDED.image_placement, include_featured = EXCLUDED.include_featured,
			status = EXCLUDED.status, last_run_at = EXCLUDED.last_run_at, next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, cfg); err != nil {
		return fmt.Errorf("error saving schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedule_configs WHERE user_id = $1`

	var cfg models.ScheduleConfig
	err := sqlx.GetContext(ctx, r.db, &cfg, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule of %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting schedule: %w", err)
	}
	return &cfg, nil
}

func (r *ScheduleRepositoryImpl) ListActive(ctx context.Context) ([]models.ScheduleConfig, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedule_configs
		WHERE status = 'active' AND enabled
		ORDER BY next_run_at ASC NULLS FIRST
	`

	var cfgs []models.ScheduleConfig
	if err := sqlx.SelectContext(ctx, r.db, &cfgs, query); err != nil {
		return nil, fmt.Errorf("error listing active schedules: %w", err)
	}
	return cfgs, nil
}

type ImageConfigRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewImageConfigRepository(db sqlx.ExtContext) *ImageConfigRepositoryImpl {
	return &ImageConfigRepositoryImpl{db: db}
}

const imageConfigColumns = `config_id, user_id, keyword_id, provider, num_images, size, quality, style, placement,
	aspect_ratio, safety_level, auto_generate, include_featured, custom_prompt, created_at, updated_at`

func (r *ImageConfigRepositoryImpl) Upsert(ctx context.Context, cfg *models.ImageConfig) error {
	query := `
		INSERT INTO image_configs (` + imageConfigColumns + `)
		VALUES (:config_id, :user_id, :keyword_id, :provider, :num_images, :size, :quality, :style, :placement,
			:aspect_ratio, :safety_level, :auto_generate, :include_featured, :custom_prompt, :created_at, :updated_at)
		ON CONFLICT (config_id) DO UPDATE SET
			provider = EXCLUDED.provider, num_images = EXCLUDED.num_images, size = EXCLUDED.size,
			quality = EXCLUDED.quality, style = EXCLUDED.style, placement = EXCLUDED.placement,
			aspect_ratio = EXCLUDED.aspect_ratio, safety_level = EXCLUDED.safety_level,
			auto_generate = EXCLUDED.auto_generate, include_featured = EXCLUDED.include_featured,
			custom_prompt = EXCLUDED.custom_prompt, updated_at = EXCLUDED.updated_at
	`

	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.New().String()
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, cfg); err != nil {
		return fmt.Errorf("error saving image config: %w", err)
	}
	return nil
}

func (r *ImageConfigRepositoryImpl) GetGlobal(ctx context.Context, userID string) (*models.ImageConfig, error) {
	query := `SELECT ` + imageConfigColumns + ` FROM image_configs WHERE user_id = $1 AND keyword_id IS NULL`
	return r.get(ctx, query, userID)
}

func (r *ImageConfigRepositoryImpl) GetForKeyword(ctx context.Context, userID, keywordID string) (*models.ImageConfig, error) {
	query := `SELECT ` + imageConfigColumns + ` FROM image_configs WHERE user_id = $1 AND keyword_id = $2`
	return r.get(ctx, query, userID, keywordID)
}

func (r *ImageConfigRepositoryImpl) get(ctx context.Context, query string, args ...interface{}) (*models.ImageConfig, error) {
	var cfg models.ImageConfig
	err := sqlx.GetContext(ctx, r.db, &cfg, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting image config: %w", err)
	}
	return &cfg, nil
}

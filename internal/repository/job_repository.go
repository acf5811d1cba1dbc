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

type JobRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewJobRepository(db sqlx.ExtContext) *JobRepositoryImpl {
	return &JobRepositoryImpl{db: db}
}

const jobColumns = `job_id, user_id, keyword_id, provider, content_type, options, priority, state, scheduled_at,
	attempts, max_retries, timeouts, last_error, failure_reason, warnings, post_id, created_at, updated_at,
	started_at, finished_at`

const queueOrder = `CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, scheduled_at ASC, created_at ASC`

type jobUpdate struct {
	models.GenerationJob
	Expected models.JobState `db:"expected_state"`
}

func (r *JobRepositoryImpl) Create(ctx context.Context, job *models.GenerationJob) error {
	query := `
		INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES (:job_id, :user_id, :keyword_id, :provider, :content_type, :options, :priority, :state, :scheduled_at,
			:attempts, :max_retries, :timeouts, :last_error, :failure_reason, :warnings, :post_id, :created_at, :updated_at,
			:started_at, :finished_at)
	`

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, job); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("job %s: %w", job.JobID, ErrDuplicate)
		}
		return fmt.Errorf("error creating job: %w", err)
	}
	return nil
}

func (r *JobRepositoryImpl) GetByID(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE job_id = $1`

	var job models.GenerationJob
	err := sqlx.GetContext(ctx, r.db, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting job: %w", err)
	}
	return &job, nil
}

func (r *JobRepositoryImpl) Update(ctx context.Context, job *models.GenerationJob, expected models.JobState) error {
	query := `
		UPDATE generation_jobs
		SET state = :state, scheduled_at = :scheduled_at, attempts = :attempts, timeouts = :timeouts,
			last_error = :last_error, failure_reason = :failure_reason, warnings = :warnings, post_id = :post_id,
			updated_at = :updated_at, started_at = :started_at, finished_at = :finished_at
		WHERE job_id = :job_id AND state = :expected_state
	`

	job.UpdatedAt = time.Now()

	err := requireOneRow(sqlx.NamedExecContext(ctx, r.db, query, jobUpdate{GenerationJob: *job, Expected: expected}))
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("job %s is no longer %s: %w", job.JobID, expected, ErrConflict)
		}
		return fmt.Errorf("error updating job: %w", err)
	}
	return nil
}

func (r *JobRepositoryImpl) NextEligible(ctx context.Context, now time.Time) (*models.GenerationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE state = 'queued' AND scheduled_at <= $1
		ORDER BY ` + queueOrder + `
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var job models.GenerationJob
	err := sqlx.GetContext(ctx, r.db, &job, query, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error selecting next job: %w", err)
	}
	return &job, nil
}

func (r *JobRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE user_id = $1 ORDER BY created_at DESC`

	var jobs []models.GenerationJob
	if err := sqlx.SelectContext(ctx, r.db, &jobs, query, userID); err != nil {
		return nil, fmt.Errorf("error listing jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepositoryImpl) ListQueued(ctx context.Context) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE state = 'queued' ORDER BY ` + queueOrder

	var jobs []models.GenerationJob
	if err := sqlx.SelectContext(ctx, r.db, &jobs, query); err != nil {
		return nil, fmt.Errorf("error listing queued jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepositoryImpl) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM generation_jobs
		WHERE user_id = $1 AND state IN ('running', 'writing_draft', 'generating_images', 'finalizing')
	`

	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, userID); err != nil {
		return 0, fmt.Errorf("error counting active jobs: %w", err)
	}
	return count, nil
}

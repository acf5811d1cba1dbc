package repository

import (
	"autopublisher/internal/models"
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("state changed concurrently")
	ErrSlugTaken = errors.New("slug already taken")
	ErrDuplicate = errors.New("duplicate record")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

type CredentialRepository interface {
	Upsert(ctx context.Context, cred *models.ProviderCredential) error
	ListByUser(ctx context.Context, userID string) ([]models.ProviderCredential, error)
}

type KeywordRepository interface {
	Create(ctx context.Context, keyword *models.Keyword) error
	GetByID(ctx context.Context, keywordID string) (*models.Keyword, error)
	NextPending(ctx context.Context, userID string) (*models.Keyword, error)
	// UpdateState moves the keyword to `to` only if its current state is one
	// of from, returning ErrConflict otherwise.
	UpdateState(ctx context.Context, keywordID string, from []models.KeywordState, to models.KeywordState) error
}

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, postID string) (*models.Post, error)
	GetByJobID(ctx context.Context, jobID string) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, postID string) error
	ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error)
	CountCreatedSince(ctx context.Context, authorID string, since time.Time) (int, error)
}

type ImageRepository interface {
	Create(ctx context.Context, image *models.Image) error
	GetByPostID(ctx context.Context, postID string) ([]models.Image, error)
	DeleteByPostID(ctx context.Context, postID string) error
}

type JobRepository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*models.GenerationJob, error)
	// Update persists job if the stored state still equals expected.
	Update(ctx context.Context, job *models.GenerationJob, expected models.JobState) error
	// NextEligible returns the first queued job due at now in queue order.
	NextEligible(ctx context.Context, now time.Time) (*models.GenerationJob, error)
	ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error)
	ListQueued(ctx context.Context) ([]models.GenerationJob, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
}

type ScheduleRepository interface {
	Upsert(ctx context.Context, cfg *models.ScheduleConfig) error
	GetByUserID(ctx context.Context, userID string) (*models.ScheduleConfig, error)
	ListActive(ctx context.Context) ([]models.ScheduleConfig, error)
}

type ImageConfigRepository interface {
	Upsert(ctx context.Context, cfg *models.ImageConfig) error
	GetGlobal(ctx context.Context, userID string) (*models.ImageConfig, error)
	GetForKeyword(ctx context.Context, userID, keywordID string) (*models.ImageConfig, error)
}

type Repository struct {
	User        UserRepository
	Credential  CredentialRepository
	Keyword     KeywordRepository
	Post        PostRepository
	Image       ImageRepository
	Job         JobRepository
	Schedule    ScheduleRepository
	ImageConfig ImageConfigRepository
}

// TxFunc runs inside a unit of work; repo is bound to the transaction.
type TxFunc func(ctx context.Context, repo *Repository) error

// Store is the transactional unit of work over all repositories.
type Store interface {
	Repos() *Repository
	WithinTx(ctx context.Context, fn TxFunc) error
}

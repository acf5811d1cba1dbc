package service

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/config"
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"autopublisher/internal/storage"
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// JobQueue is the subset of the job store the commands drive.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.GenerationJob) error
	Cancel(ctx context.Context, jobID string) (*models.GenerationJob, error)
	Retry(ctx context.Context, jobID string) (*models.GenerationJob, error)
	Get(ctx context.Context, jobID string) (*models.GenerationJob, error)
	ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error)
	ListQueued(ctx context.Context) ([]models.GenerationJob, error)
}

// Runner is the running orchestrator as seen by the commands.
type Runner interface {
	Cancel(jobID string) bool
	Workers() int
	AverageDuration() time.Duration
}

type ScheduleManager interface {
	Configure(ctx context.Context, userID string, cfg *models.ScheduleConfig) (*models.ScheduleConfig, error)
	Start(ctx context.Context, userID string) (*models.ScheduleConfig, error)
	Stop(ctx context.Context, userID string) (*models.ScheduleConfig, error)
}

type Deps struct {
	Store     repository.Store
	Jobs      JobQueue
	Runner    Runner
	Schedules ScheduleManager
	Objects   storage.ObjectStore
	Cfg       *config.Config
	Logger    *zap.Logger
}

type Service struct {
	Generation GenerationService
	Keyword    KeywordService
	Post       PostService
	User       UserService
	Auth       AuthService
}

func NewService(deps Deps) *Service {
	validate := validator.New()
	repos := deps.Store.Repos()
	return &Service{
		Generation: NewGenerationService(deps, validate),
		Keyword:    NewKeywordService(repos.Keyword, repos.ImageConfig, validate),
		Post:       NewPostService(deps.Store, deps.Objects, deps.Logger),
		User:       NewUserService(repos.User, deps.Cfg, validate),
		Auth:       NewAuthService(deps.Cfg),
	}
}

// notFound maps a missing record onto NotFound and anything else onto StorageError.
func notFound(op string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op, err)
	}
	return apperr.Wrap(apperr.StorageError, op, err)
}

func invalid(op string, err error) error {
	return apperr.Wrap(apperr.InputInvalid, op, err)
}

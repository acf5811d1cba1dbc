package handlers

import (
	"autopublisher/internal/config"
	"autopublisher/internal/service"
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Handlers struct {
	GenerationService service.GenerationService
	KeywordService    service.KeywordService
	PostService       service.PostService
	UserService       service.UserService
	Health            HealthChecker
	Cfg               *config.Config
	Validate          *validator.Validate
	Log               *zap.Logger
}

func NewHandlers(services *service.Service, health HealthChecker, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		GenerationService: services.Generation,
		KeywordService:    services.Keyword,
		PostService:       services.Post,
		UserService:       services.User,
		Health:            health,
		Cfg:               cfg,
		Validate:          validator.New(),
		Log:               logger,
	}
}

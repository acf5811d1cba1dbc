package service

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/config"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

type CreateUserRequest struct {
	Email                  string `json:"email" validate:"required,email"`
	Role                   string `json:"role" validate:"omitempty,oneof=Author Admin"`
	DailyLimit             int    `json:"dailyLimit" validate:"min=0,max=1000"`
	PreferredImageProvider string `json:"preferredImageProvider" validate:"omitempty,oneof=openai-image gemini-image placeholder"`
}

type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	cfg      *config.Config
	validate *validator.Validate
}

func NewUserService(userRepo repository.UserRepository, cfg *config.Config, validate *validator.Validate) UserService {
	return &userService{
		userRepo: userRepo,
		cfg:      cfg,
		validate: validate,
	}
}

// CreateUser provisions an active account. A zero daily limit falls back
// to DEFAULT_DAILY_LIMIT.
func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	const op = "user.create"
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(op, err)
	}

	user := &models.User{
		Email:                  req.Email,
		Role:                   req.Role,
		IsActive:               true,
		DailyLimit:             req.DailyLimit,
		PreferredImageProvider: req.PreferredImageProvider,
	}
	if user.Role == "" {
		user.Role = "Author"
	}
	if user.DailyLimit == 0 && s.cfg != nil {
		user.DailyLimit = s.cfg.Generation.DefaultDailyLimit
	}
	if user.PreferredImageProvider == "" {
		user.PreferredImageProvider = string(provider.OpenAIImage)
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.InputInvalid, op, err)
		}
		return nil, apperr.Wrap(apperr.StorageError, op, err)
	}
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, notFound("user.get", err)
	}
	return user, nil
}

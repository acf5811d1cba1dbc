package service

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/imagegen"
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type CreateKeywordRequest struct {
	Phrase      string          `json:"phrase" validate:"required,max=100"`
	Priority    models.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	AuxKeywords []string        `json:"auxKeywords" validate:"max=20,dive,max=100"`
	Notes       string          `json:"notes" validate:"max=1000"`
}

type ImageConfigRequest struct {
	KeywordID       *string `json:"keywordId"`
	Provider        string  `json:"provider" validate:"omitempty,oneof=auto openai-image gemini-image placeholder"`
	NumImages       int     `json:"numImages" validate:"min=0,max=5"`
	Size            string  `json:"size"`
	Quality         string  `json:"quality" validate:"omitempty,oneof=standard hd"`
	Style           string  `json:"style"`
	Placement       string  `json:"placement"`
	AspectRatio     string  `json:"aspectRatio"`
	SafetyLevel     string  `json:"safetyLevel"`
	AutoGenerate    bool    `json:"autoGenerate"`
	IncludeFeatured bool    `json:"includeFeatured"`
	CustomPrompt    string  `json:"customPrompt" validate:"max=500"`
}

type KeywordService interface {
	CreateKeyword(ctx context.Context, userID string, req CreateKeywordRequest) (*models.Keyword, error)
	SetImageConfig(ctx context.Context, userID string, req ImageConfigRequest) (*models.ImageConfig, error)
}

type keywordService struct {
	keywords repository.KeywordRepository
	configs  repository.ImageConfigRepository
	validate *validator.Validate
}

func NewKeywordService(keywords repository.KeywordRepository, configs repository.ImageConfigRepository, validate *validator.Validate) KeywordService {
	return &keywordService{keywords: keywords, configs: configs, validate: validate}
}

func (s *keywordService) CreateKeyword(ctx context.Context, userID string, req CreateKeywordRequest) (*models.Keyword, error) {
	const op = "keyword.create"
	req.Phrase = strings.TrimSpace(req.Phrase)
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(op, err)
	}

	kw := &models.Keyword{
		UserID:      userID,
		Phrase:      req.Phrase,
		Priority:    req.Priority,
		AuxKeywords: req.AuxKeywords,
		Notes:       req.Notes,
	}
	if kw.Priority == "" {
		kw.Priority = models.PriorityMedium
	}
	if err := s.keywords.Create(ctx, kw); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.InputInvalid, op, err)
		}
		return nil, apperr.Wrap(apperr.StorageError, op, err)
	}
	return kw, nil
}

// SetImageConfig stores the user's global image settings, or the override
// for one keyword when KeywordID is set.
func (s *keywordService) SetImageConfig(ctx context.Context, userID string, req ImageConfigRequest) (*models.ImageConfig, error) {
	const op = "keyword.image_config"
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(op, err)
	}
	if req.KeywordID != nil {
		kw, err := s.keywords.GetByID(ctx, *req.KeywordID)
		if err != nil {
			return nil, notFound(op, err)
		}
		if kw.UserID != userID {
			return nil, apperr.New(apperr.NotFound, op, fmt.Sprintf("keyword %s not found", *req.KeywordID))
		}
	}

	cfg := &models.ImageConfig{
		UserID:          userID,
		KeywordID:       req.KeywordID,
		Provider:        req.Provider,
		NumImages:       min(req.NumImages, imagegen.MaxImages),
		Size:            req.Size,
		Quality:         req.Quality,
		Style:           req.Style,
		Placement:       req.Placement,
		AspectRatio:     req.AspectRatio,
		SafetyLevel:     req.SafetyLevel,
		AutoGenerate:    req.AutoGenerate,
		IncludeFeatured: req.IncludeFeatured,
		CustomPrompt:    req.CustomPrompt,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, op, err)
	}
	return cfg, nil
}

package test

import (
	"autopublisher/internal/models"
	"autopublisher/internal/service"
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
)

type MockGenerationService struct {
	mock.Mock
}

func (m *MockGenerationService) status(args mock.Arguments) (*service.JobStatus, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JobStatus), args.Error(1)
}

func (m *MockGenerationService) EnqueueGeneration(ctx context.Context, userID string, req service.EnqueueRequest) (*service.JobStatus, error) {
	return m.status(m.Called(ctx, userID, req))
}

func (m *MockGenerationService) CancelJob(ctx context.Context, userID, jobID string) (*service.JobStatus, error) {
	return m.status(m.Called(ctx, userID, jobID))
}

func (m *MockGenerationService) RetryJob(ctx context.Context, userID, jobID string) (*service.JobStatus, error) {
	return m.status(m.Called(ctx, userID, jobID))
}

func (m *MockGenerationService) QueryJob(ctx context.Context, userID, jobID string) (*service.JobStatus, error) {
	return m.status(m.Called(ctx, userID, jobID))
}

func (m *MockGenerationService) QueryQueue(ctx context.Context, userID string) ([]service.QueueEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.QueueEntry), args.Error(1)
}

func (m *MockGenerationService) schedule(args mock.Arguments) (*models.ScheduleConfig, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScheduleConfig), args.Error(1)
}

func (m *MockGenerationService) ConfigureSchedule(ctx context.Context, userID string, cfg *models.ScheduleConfig) (*models.ScheduleConfig, error) {
	return m.schedule(m.Called(ctx, userID, cfg))
}

func (m *MockGenerationService) StartSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return m.schedule(m.Called(ctx, userID))
}

func (m *MockGenerationService) StopSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return m.schedule(m.Called(ctx, userID))
}

func (m *MockGenerationService) SetProviderCredential(ctx context.Context, userID, name, secret string) (*models.ProviderCredential, error) {
	args := m.Called(ctx, userID, name, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderCredential), args.Error(1)
}

type MockKeywordService struct {
	mock.Mock
}

func (m *MockKeywordService) CreateKeyword(ctx context.Context, userID string, req service.CreateKeywordRequest) (*models.Keyword, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Keyword), args.Error(1)
}

func (m *MockKeywordService) SetImageConfig(ctx context.Context, userID string, req service.ImageConfigRequest) (*models.ImageConfig, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImageConfig), args.Error(1)
}

type MockPostService struct {
	mock.Mock
}

func (m *MockPostService) GetPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	args := m.Called(ctx, userID, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockPostService) DeletePost(ctx context.Context, userID, postID string) error {
	return m.Called(ctx, userID, postID).Error(0)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) CreateUser(ctx context.Context, req service.CreateUserRequest) (*models.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) IssueToken(user *models.User, ttl time.Duration) (string, error) {
	args := m.Called(user, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) ValidateToken(tokenString string) (*jwt.Token, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwt.Token), args.Error(1)
}

func (m *MockAuthService) GetUserFromToken(token string) (*models.User, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

package service

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/imagegen"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/queue"
	"autopublisher/internal/repository"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// defaultJobEstimate stands in for the average job duration until one has finished.
const defaultJobEstimate = 2 * time.Minute

type EnqueueRequest struct {
	KeywordID   string            `json:"keywordId" validate:"required"`
	Provider    string            `json:"provider" validate:"omitempty,oneof=auto openai deepseek"`
	ContentType string            `json:"contentType" validate:"omitempty,oneof=article guide listicle review news"`
	Priority    models.Priority   `json:"priority" validate:"omitempty,oneof=low medium high"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
	Options     models.JobOptions `json:"options"`
}

type JobStatus struct {
	JobID           string          `json:"jobId"`
	KeywordID       string          `json:"keywordId"`
	State           models.JobState `json:"state"`
	Attempts        int             `json:"attempts"`
	MaxRetries      int             `json:"maxRetries"`
	LastError       string          `json:"lastError,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	PostID          *string         `json:"postId,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	ScheduledAt     time.Time       `json:"scheduledAt"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
	CancelRequested bool            `json:"cancelRequested,omitempty"`
}

type QueueEntry struct {
	JobStatus
	Position    int       `json:"position"`
	EstimatedAt time.Time `json:"estimatedAt"`
}

type GenerationService interface {
	EnqueueGeneration(ctx context.Context, userID string, req EnqueueRequest) (*JobStatus, error)
	CancelJob(ctx context.Context, userID, jobID string) (*JobStatus, error)
	RetryJob(ctx context.Context, userID, jobID string) (*JobStatus, error)
	QueryJob(ctx context.Context, userID, jobID string) (*JobStatus, error)
	QueryQueue(ctx context.Context, userID string) ([]QueueEntry, error)
	ConfigureSchedule(ctx context.Context, userID string, cfg *models.ScheduleConfig) (*models.ScheduleConfig, error)
	StartSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error)
	StopSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error)
	SetProviderCredential(ctx context.Context, userID, name, secret string) (*models.ProviderCredential, error)
}

type generationService struct {
	jobs       JobQueue
	runner     Runner
	schedules  ScheduleManager
	creds      repository.CredentialRepository
	validate   *validator.Validate
	maxRetries int
	log        *zap.Logger
	now        func() time.Time
}

func NewGenerationService(deps Deps, validate *validator.Validate) GenerationService {
	maxRetries := queue.DefaultMaxRetries
	if deps.Cfg != nil && deps.Cfg.Generation.MaxRetries > 0 {
		maxRetries = deps.Cfg.Generation.MaxRetries
	}
	return &generationService{
		jobs:       deps.Jobs,
		runner:     deps.Runner,
		schedules:  deps.Schedules,
		creds:      deps.Store.Repos().Credential,
		validate:   validate,
		maxRetries: maxRetries,
		log:        deps.Logger,
		now:        time.Now,
	}
}

func statusOf(job *models.GenerationJob) *JobStatus {
	return &JobStatus{
		JobID:         job.JobID,
		KeywordID:     job.KeywordID,
		State:         job.State,
		Attempts:      job.Attempts,
		MaxRetries:    job.MaxRetries,
		LastError:     job.LastError,
		FailureReason: job.FailureReason,
		PostID:        job.PostID,
		Warnings:      job.Warnings,
		ScheduledAt:   job.ScheduledAt,
		FinishedAt:    job.FinishedAt,
	}
}

func (s *generationService) EnqueueGeneration(ctx context.Context, userID string, req EnqueueRequest) (*JobStatus, error) {
	const op = "generation.enqueue"
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(op, err)
	}
	if err := checkOptions(req.Options); err != nil {
		return nil, invalid(op, err)
	}

	job := &models.GenerationJob{
		UserID:      userID,
		KeywordID:   req.KeywordID,
		Provider:    orDefault(req.Provider, string(provider.Auto)),
		ContentType: orDefault(req.ContentType, "article"),
		Priority:    req.Priority,
		MaxRetries:  s.maxRetries,
		Options:     req.Options,
	}
	if req.ScheduledAt != nil {
		job.ScheduledAt = *req.ScheduledAt
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info("generation enqueued",
		zap.String("job_id", job.JobID),
		zap.String("user_id", userID),
		zap.String("keyword_id", job.KeywordID),
		zap.String("provider", job.Provider),
	)
	return statusOf(job), nil
}

func checkOptions(o models.JobOptions) error {
	if o.WordCountMin < 0 || o.WordCountMax < 0 {
		return fmt.Errorf("word counts must not be negative")
	}
	if o.WordCountMin > 0 && o.WordCountMax > 0 && o.WordCountMin > o.WordCountMax {
		return fmt.Errorf("wordCountMin %d exceeds wordCountMax %d", o.WordCountMin, o.WordCountMax)
	}
	if o.ImageCount != nil && (*o.ImageCount < 0 || *o.ImageCount > imagegen.MaxImages) {
		return fmt.Errorf("imageCount must be between 0 and %d", imagegen.MaxImages)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ownedJob loads a job and hides jobs of other users behind NotFound.
func (s *generationService) ownedJob(ctx context.Context, op, userID, jobID string) (*models.GenerationJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, notFound(op, err)
	}
	if job.UserID != userID {
		return nil, apperr.New(apperr.NotFound, op, fmt.Sprintf("job %s not found", jobID))
	}
	return job, nil
}

// CancelJob cancels a queued job at once and asks a running one to stop
// at its next checkpoint.
func (s *generationService) CancelJob(ctx context.Context, userID, jobID string) (*JobStatus, error) {
	const op = "generation.cancel"
	job, err := s.ownedJob(ctx, op, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, apperr.New(apperr.InputInvalid, op, fmt.Sprintf("job already %s", job.State))
	}

	if job.State == models.JobQueued {
		cancelled, err := s.jobs.Cancel(ctx, jobID)
		if err == nil {
			s.log.Info("queued job cancelled", zap.String("job_id", jobID), zap.String("user_id", userID))
			return statusOf(cancelled), nil
		}
		if !apperr.Is(err, apperr.InputInvalid) {
			return nil, err
		}
		// claimed in the meantime
	}

	if s.runner != nil && s.runner.Cancel(jobID) {
		s.log.Info("cancel requested for running job", zap.String("job_id", jobID), zap.String("user_id", userID))
		if current, err := s.jobs.Get(ctx, jobID); err == nil {
			job = current
		}
		st := statusOf(job)
		st.CancelRequested = !job.State.Terminal()
		return st, nil
	}
	return nil, apperr.New(apperr.InputInvalid, op, "job is not running in this process")
}

func (s *generationService) RetryJob(ctx context.Context, userID, jobID string) (*JobStatus, error) {
	const op = "generation.retry"
	if _, err := s.ownedJob(ctx, op, userID, jobID); err != nil {
		return nil, err
	}
	job, err := s.jobs.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("job retried", zap.String("job_id", jobID), zap.String("user_id", userID))
	return statusOf(job), nil
}

func (s *generationService) QueryJob(ctx context.Context, userID, jobID string) (*JobStatus, error) {
	job, err := s.ownedJob(ctx, "generation.query", userID, jobID)
	if err != nil {
		return nil, err
	}
	return statusOf(job), nil
}

// QueryQueue lists the user's unfinished jobs. A queued job at global
// position p is estimated to start at max(scheduled, now) plus p/workers
// average job durations; running jobs report their start time.
func (s *generationService) QueryQueue(ctx context.Context, userID string) ([]QueueEntry, error) {
	queued, err := s.jobs.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	mine, err := s.jobs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	workers, avg := 1, defaultJobEstimate
	if s.runner != nil {
		workers = max(s.runner.Workers(), 1)
		if d := s.runner.AverageDuration(); d > 0 {
			avg = d
		}
	}
	now := s.now()

	position := make(map[string]int, len(queued))
	for i, job := range queued {
		position[job.JobID] = i
	}

	entries := []QueueEntry{}
	for i := range mine {
		job := &mine[i]
		if job.State.Terminal() {
			continue
		}
		entry := QueueEntry{JobStatus: *statusOf(job), Position: -1}
		if p, ok := position[job.JobID]; ok {
			entry.Position = p
			start := job.ScheduledAt
			if start.Before(now) {
				start = now
			}
			entry.EstimatedAt = start.Add(time.Duration(p/workers) * avg)
		} else if job.StartedAt != nil {
			entry.EstimatedAt = *job.StartedAt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *generationService) ConfigureSchedule(ctx context.Context, userID string, cfg *models.ScheduleConfig) (*models.ScheduleConfig, error) {
	return s.schedules.Configure(ctx, userID, cfg)
}

func (s *generationService) StartSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return s.schedules.Start(ctx, userID)
}

func (s *generationService) StopSchedule(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return s.schedules.Stop(ctx, userID)
}

// SetProviderCredential checks the secret's format and stores it for the user.
func (s *generationService) SetProviderCredential(ctx context.Context, userID, name, secret string) (*models.ProviderCredential, error) {
	const op = "generation.credential"
	key := provider.Name(strings.ToLower(strings.TrimSpace(name))).CredentialKey()
	if err := provider.ValidateCredential(key, secret); err != nil {
		return nil, err
	}

	now := s.now()
	cred := &models.ProviderCredential{
		UserID:      userID,
		Provider:    string(key),
		Secret:      strings.TrimSpace(secret),
		ValidatedAt: &now,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, op, err)
	}
	s.log.Info("provider credential stored", zap.String("user_id", userID), zap.String("provider", cred.Provider))
	return cred, nil
}

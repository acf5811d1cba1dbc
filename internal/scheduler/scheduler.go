// Package scheduler turns per-user schedule configs into queued generation
// jobs at the configured cadence.
package scheduler

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	SourceSchedule = "schedule"

	minWait  = time.Second
	idleWait = 5 * time.Minute
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.GenerationJob) error
}

type Scheduler struct {
	db         repository.Store
	jobs       Enqueuer
	validate   *validator.Validate
	loc        *time.Location
	maxRetries int
	log        *zap.Logger
	now        func() time.Time
	wake       chan struct{}
}

func New(db repository.Store, jobs Enqueuer, loc *time.Location, maxRetries int, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		db:         db,
		jobs:       jobs,
		validate:   validator.New(),
		loc:        loc,
		maxRetries: maxRetries,
		log:        logger,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Configure validates and stores the user's schedule. An active schedule
// stays active with its next run recomputed.
func (s *Scheduler) Configure(ctx context.Context, userID string, cfg *models.ScheduleConfig) (*models.ScheduleConfig, error) {
	cfg.UserID = userID
	if err := s.check(cfg); err != nil {
		return nil, err
	}

	repo := s.db.Repos()
	existing, err := repo.Schedule.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		cfg.Status = models.ScheduleConfigured
		cfg.Enabled = false
	case err != nil:
		return nil, apperr.Wrap(apperr.StorageError, "scheduler.configure", err)
	default:
		cfg.Status = existing.Status
		cfg.Enabled = existing.Enabled
		cfg.LastRunAt = existing.LastRunAt
		if existing.Status != models.ScheduleActive {
			cfg.Status = models.ScheduleConfigured
		}
	}

	cfg.NextRunAt = nil
	if cfg.Status == models.ScheduleActive {
		next := NextDue(cfg, s.now(), s.loc)
		cfg.NextRunAt = &next
	}
	if err := repo.Schedule.Upsert(ctx, cfg); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "scheduler.configure", err)
	}
	s.notify()
	return cfg, nil
}

func (s *Scheduler) check(cfg *models.ScheduleConfig) error {
	if !cfg.Cadence.Valid() {
		return apperr.New(apperr.InputInvalid, "scheduler.configure", fmt.Sprintf("unsupported cadence %q", cfg.Cadence))
	}
	if err := s.validate.Struct(cfg); err != nil {
		return apperr.Wrap(apperr.InputInvalid, "scheduler.configure", err)
	}
	if cfg.TimeOfDay != "" {
		if _, _, ok := parseTimeOfDay(cfg.TimeOfDay); !ok {
			return apperr.New(apperr.InputInvalid, "scheduler.configure", "time of day must be HH:MM")
		}
	}
	if cfg.Provider != "" && cfg.Provider != string(provider.Auto) &&
		cfg.Provider != string(provider.OpenAI) && cfg.Provider != string(provider.DeepSeek) {
		return apperr.New(apperr.InputInvalid, "scheduler.configure", fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return s.setStatus(ctx, userID, models.ScheduleActive)
}

func (s *Scheduler) Stop(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	return s.setStatus(ctx, userID, models.ScheduleStopped)
}

func (s *Scheduler) setStatus(ctx context.Context, userID string, status models.ScheduleStatus) (*models.ScheduleConfig, error) {
	repo := s.db.Repos()
	cfg, err := repo.Schedule.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "scheduler", "schedule not configured")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "scheduler", err)
	}

	cfg.Status = status
	cfg.Enabled = status == models.ScheduleActive
	cfg.NextRunAt = nil
	if cfg.Enabled {
		next := NextDue(cfg, s.now(), s.loc)
		cfg.NextRunAt = &next
	}
	if err := repo.Schedule.Upsert(ctx, cfg); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "scheduler", err)
	}

	s.log.Info("schedule status changed", zap.String("user_id", userID), zap.String("status", string(status)))
	s.notify()
	return cfg, nil
}

// Tick enqueues one job for every active schedule that is due at now and
// returns how many were enqueued.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	configs, err := s.db.Repos().Schedule.ListActive(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageError, "scheduler.tick", err)
	}

	enqueued := 0
	for i := range configs {
		cfg := &configs[i]
		if cfg.NextRunAt == nil || cfg.NextRunAt.After(now) {
			continue
		}
		ok, err := s.runDue(ctx, cfg, now)
		if err != nil {
			s.log.Error("scheduled run failed", zap.String("user_id", cfg.UserID), zap.Error(err))
		}
		if ok {
			enqueued++
		}

		next := NextDue(cfg, now, s.loc)
		cfg.LastRunAt = &now
		cfg.NextRunAt = &next
		if err := s.db.Repos().Schedule.Upsert(ctx, cfg); err != nil {
			return enqueued, apperr.Wrap(apperr.StorageError, "scheduler.tick", err)
		}
	}
	return enqueued, nil
}

func (s *Scheduler) runDue(ctx context.Context, cfg *models.ScheduleConfig, now time.Time) (bool, error) {
	repo := s.db.Repos()
	log := s.log.With(zap.String("user_id", cfg.UserID))

	start := time.Date(now.In(s.loc).Year(), now.In(s.loc).Month(), now.In(s.loc).Day(), 0, 0, 0, 0, s.loc)
	posts, err := repo.Post.CountCreatedSince(ctx, cfg.UserID, start)
	if err != nil {
		return false, err
	}
	jobs, err := repo.Job.ListByUser(ctx, cfg.UserID)
	if err != nil {
		return false, err
	}
	planned := posts
	for _, j := range jobs {
		if !j.State.Terminal() {
			planned++
		}
	}
	if planned >= cfg.MaxPostsPerDay {
		log.Info("daily schedule quota reached", zap.Int("planned", planned), zap.Int("max", cfg.MaxPostsPerDay))
		return false, nil
	}

	kw, err := repo.Keyword.NextPending(ctx, cfg.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info("no pending keyword to schedule")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job := JobFromSchedule(cfg, kw, now, s.maxRetries)
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return false, err
	}
	log.Info("scheduled job enqueued", zap.String("job_id", job.JobID), zap.String("keyword_id", kw.KeywordID))
	return true, nil
}

// JobFromSchedule builds the job a due schedule enqueues for kw.
func JobFromSchedule(cfg *models.ScheduleConfig, kw *models.Keyword, now time.Time, maxRetries int) *models.GenerationJob {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = string(provider.Auto)
	}
	generateImages := cfg.GenerateImages
	imageCount := cfg.ImageCount
	includeFeatured := cfg.IncludeFeatured

	return &models.GenerationJob{
		UserID:      cfg.UserID,
		KeywordID:   kw.KeywordID,
		Provider:    providerName,
		ContentType: "article",
		Priority:    kw.Priority,
		ScheduledAt: now,
		MaxRetries:  maxRetries,
		Options: models.JobOptions{
			Tone:            cfg.ContentStyle,
			Language:        cfg.Language,
			WordCountMin:    cfg.WordCountMin,
			WordCountMax:    cfg.WordCountMax,
			AuxKeywords:     kw.AuxKeywords,
			AutoPublish:     cfg.AutoPublish,
			GenerateImages:  &generateImages,
			ImageCount:      &imageCount,
			ImageStyle:      cfg.ImageStyle,
			IncludeFeatured: &includeFeatured,
			Source:          SourceSchedule,
		},
	}
}

// Run ticks until ctx is done, sleeping until the earliest next run.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", zap.String("timezone", s.loc.String()))
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scheduler tick failed", zap.Error(err))
		}

		timer := time.NewTimer(s.nextWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextWait is the time until the earliest due schedule, bounded by the
// shortest active cadence.
func (s *Scheduler) nextWait(ctx context.Context) time.Duration {
	configs, err := s.db.Repos().Schedule.ListActive(ctx)
	if err != nil || len(configs) == 0 {
		return idleWait
	}

	now := s.now()
	wait := idleWait
	for _, cfg := range configs {
		wait = min(wait, cfg.Cadence.Period())
		if cfg.NextRunAt != nil {
			wait = min(wait, cfg.NextRunAt.Sub(now))
		}
	}
	return max(wait, minWait)
}

// Package queue is the single mutation point for generation job state. All
// transitions go through a repository unit of work so that the job row and
// the keyword it reserves always change together.
package queue

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxRetries = 3

var transitions = map[models.JobState][]models.JobState{
	models.JobQueued:           {models.JobRunning, models.JobCancelled},
	models.JobRunning:          {models.JobWritingDraft, models.JobFinalizing, models.JobQueued, models.JobFailed, models.JobCancelled},
	models.JobWritingDraft:     {models.JobGeneratingImages, models.JobFinalizing, models.JobQueued, models.JobFailed, models.JobCancelled},
	models.JobGeneratingImages: {models.JobFinalizing, models.JobQueued, models.JobFailed, models.JobCancelled},
	models.JobFinalizing:       {models.JobSucceeded, models.JobQueued, models.JobFailed, models.JobCancelled},
	models.JobFailed:           {models.JobQueued},
}

func CanTransition(from, to models.JobState) bool {
	return slices.Contains(transitions[from], to)
}

// Listener observes every committed transition. from is empty for new jobs.
type Listener func(job models.GenerationJob, from models.JobState)

type Store struct {
	mu  sync.Mutex
	db  repository.Store
	log *zap.Logger
	now func() time.Time

	lmu       sync.RWMutex
	listeners []Listener

	wake chan struct{}
}

func New(db repository.Store, logger *zap.Logger) *Store {
	return &Store{
		db:   db,
		log:  logger,
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
}

func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Wakeups fires after a job becomes claimable.
func (s *Store) Wakeups() <-chan struct{} {
	return s.wake
}

func (s *Store) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) publish(job models.GenerationJob, from models.JobState) {
	s.log.Info("job state changed",
		zap.String("job_id", job.JobID),
		zap.String("user_id", job.UserID),
		zap.String("from", string(from)),
		zap.String("state", string(job.State)),
	)

	s.lmu.RLock()
	ls := slices.Clone(s.listeners)
	s.lmu.RUnlock()
	for _, l := range ls {
		l(job, from)
	}
}

// Enqueue reserves the keyword and inserts the job in one unit of work.
// A keyword that is not pending is rejected with InputInvalid.
func (s *Store) Enqueue(ctx context.Context, job *models.GenerationJob) error {
	if job.UserID == "" || job.KeywordID == "" {
		return apperr.New(apperr.InputInvalid, "queue.enqueue", "user and keyword are required")
	}

	now := s.now()
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	job.State = models.JobQueued
	job.Attempts = 0
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = DefaultMaxRetries
	}

	err := s.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		kw, err := repo.Keyword.GetByID(ctx, job.KeywordID)
		if err != nil {
			return storageErr("queue.enqueue", err)
		}
		if kw.UserID != job.UserID {
			return apperr.New(apperr.NotFound, "queue.enqueue", fmt.Sprintf("keyword %s not found", job.KeywordID))
		}
		if job.Priority == "" {
			job.Priority = kw.Priority
		}

		err = repo.Keyword.UpdateState(ctx, kw.KeywordID, []models.KeywordState{models.KeywordPending}, models.KeywordProcessing)
		if errors.Is(err, repository.ErrConflict) {
			return apperr.New(apperr.InputInvalid, "queue.enqueue", "keyword not pending")
		}
		if err != nil {
			return storageErr("queue.enqueue", err)
		}

		if err := repo.Job.Create(ctx, job); err != nil {
			return storageErr("queue.enqueue", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(*job, "")
	s.Wake()
	return nil
}

// Claim moves the first eligible queued job to running. It returns nil
// when nothing is due.
func (s *Store) Claim(ctx context.Context) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed *models.GenerationJob
	err := s.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		job, err := repo.Job.NextEligible(ctx, s.now())
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return storageErr("queue.claim", err)
		}

		now := s.now()
		job.State = models.JobRunning
		job.Attempts++
		job.StartedAt = &now
		job.FinishedAt = nil
		if err := repo.Job.Update(ctx, job, models.JobQueued); err != nil {
			return storageErr("queue.claim", err)
		}
		claimed = job
		return nil
	})
	if err != nil || claimed == nil {
		return nil, err
	}

	s.publish(*claimed, models.JobQueued)
	return claimed, nil
}

// Advance moves an active job to the next state. within runs first in the
// same unit of work and may update job; on error job is left unchanged.
func (s *Store) Advance(ctx context.Context, job *models.GenerationJob, to models.JobState, within repository.TxFunc) error {
	from := job.State
	if !CanTransition(from, to) {
		return apperr.New(apperr.InputInvalid, "queue.advance", fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	return s.commit(ctx, job, "queue.advance", func(ctx context.Context, repo *repository.Repository) error {
		if within != nil {
			if err := within(ctx, repo); err != nil {
				return err
			}
		}
		job.State = to
		return nil
	})
}

type Outcome struct {
	Err    error
	Within repository.TxFunc
}

// Complete ends a job. Success marks the keyword completed; a failure
// returns the keyword to pending when it was a quota denial before any
// draft existed and marks it failed otherwise.
func (s *Store) Complete(ctx context.Context, job *models.GenerationJob, out Outcome) error {
	to, kwState := models.JobSucceeded, models.KeywordCompleted
	if out.Err != nil {
		to, kwState = models.JobFailed, models.KeywordFailed
		if apperr.Is(out.Err, apperr.QuotaExceeded) && job.PostID == nil {
			kwState = models.KeywordPending
		}
	}
	if !CanTransition(job.State, to) {
		return apperr.New(apperr.InputInvalid, "queue.complete", fmt.Sprintf("illegal transition %s -> %s", job.State, to))
	}

	return s.commit(ctx, job, "queue.complete", func(ctx context.Context, repo *repository.Repository) error {
		if out.Within != nil {
			if err := out.Within(ctx, repo); err != nil {
				return err
			}
		}
		if err := s.moveKeyword(ctx, repo, job.KeywordID, kwState); err != nil {
			return err
		}

		now := s.now()
		job.State = to
		job.FinishedAt = &now
		if out.Err != nil {
			job.LastError = out.Err.Error()
			job.FailureReason = failureReason(out.Err)
		} else {
			job.FailureReason = ""
		}
		return nil
	})
}

// Defer puts an active job back in the queue at now+delay. With refund the
// attempt counted by Claim is returned.
func (s *Store) Defer(ctx context.Context, job *models.GenerationJob, delay time.Duration, cause error, refund bool) error {
	if !CanTransition(job.State, models.JobQueued) {
		return apperr.New(apperr.InputInvalid, "queue.defer", fmt.Sprintf("cannot defer a %s job", job.State))
	}
	err := s.commit(ctx, job, "queue.defer", func(ctx context.Context, repo *repository.Repository) error {
		job.State = models.JobQueued
		job.ScheduledAt = s.now().Add(delay)
		if refund && job.Attempts > 0 {
			job.Attempts--
		}
		if cause != nil {
			job.LastError = cause.Error()
		}
		return nil
	})
	if err == nil {
		s.Wake()
	}
	return err
}

// Cancel cancels a job that is not running. A draft left by an earlier
// attempt is kept as a draft and completes the keyword; otherwise the
// keyword becomes pending again.
func (s *Store) Cancel(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var (
		cancelled models.GenerationJob
		from      models.JobState
	)
	err := s.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		job, err := repo.Job.GetByID(ctx, jobID)
		if err != nil {
			return storageErr("queue.cancel", err)
		}
		if job.State != models.JobQueued {
			return apperr.New(apperr.InputInvalid, "queue.cancel", fmt.Sprintf("job is %s", job.State))
		}
		kwState := models.KeywordPending
		if job.PostID != nil {
			kept, err := keepDraft(ctx, repo, *job.PostID)
			if err != nil {
				return storageErr("queue.cancel", err)
			}
			if kept {
				kwState = models.KeywordCompleted
			}
		}
		if err := s.moveKeyword(ctx, repo, job.KeywordID, kwState); err != nil {
			return err
		}

		now := s.now()
		from = job.State
		job.State = models.JobCancelled
		job.FinishedAt = &now
		job.FailureReason = string(apperr.Cancelled)
		if err := repo.Job.Update(ctx, job, from); err != nil {
			return storageErr("queue.cancel", err)
		}
		cancelled = *job
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(cancelled, from)
	return &cancelled, nil
}

// MarkCancelled ends a running job that observed a cancel request. A kept
// draft completes the keyword; otherwise the keyword becomes pending again.
func (s *Store) MarkCancelled(ctx context.Context, job *models.GenerationJob, draftKept bool, within repository.TxFunc) error {
	if !CanTransition(job.State, models.JobCancelled) {
		return apperr.New(apperr.InputInvalid, "queue.cancel", fmt.Sprintf("cannot cancel a %s job", job.State))
	}
	kwState := models.KeywordPending
	if draftKept {
		kwState = models.KeywordCompleted
	}
	return s.commit(ctx, job, "queue.cancel", func(ctx context.Context, repo *repository.Repository) error {
		if within != nil {
			if err := within(ctx, repo); err != nil {
				return err
			}
		}
		if err := s.moveKeyword(ctx, repo, job.KeywordID, kwState); err != nil {
			return err
		}
		now := s.now()
		job.State = models.JobCancelled
		job.FinishedAt = &now
		job.FailureReason = string(apperr.Cancelled)
		return nil
	})
}

// Retry requeues a failed job with a fresh attempt budget.
func (s *Store) Retry(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var retried models.GenerationJob
	err := s.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		job, err := repo.Job.GetByID(ctx, jobID)
		if err != nil {
			return storageErr("queue.retry", err)
		}
		if job.State != models.JobFailed {
			return apperr.New(apperr.InputInvalid, "queue.retry", fmt.Sprintf("only failed jobs can be retried, job is %s", job.State))
		}

		err = repo.Keyword.UpdateState(ctx, job.KeywordID,
			[]models.KeywordState{models.KeywordFailed, models.KeywordPending}, models.KeywordProcessing)
		if errors.Is(err, repository.ErrConflict) {
			return apperr.New(apperr.InputInvalid, "queue.retry", "keyword is reserved by another job")
		}
		if err != nil {
			return storageErr("queue.retry", err)
		}

		job.State = models.JobQueued
		job.Attempts = 0
		job.Timeouts = 0
		job.LastError = ""
		job.FailureReason = ""
		job.ScheduledAt = s.now()
		job.FinishedAt = nil
		if err := repo.Job.Update(ctx, job, models.JobFailed); err != nil {
			return storageErr("queue.retry", err)
		}
		retried = *job
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(retried, models.JobFailed)
	s.Wake()
	return &retried, nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := s.db.Repos().Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, storageErr("queue.get", err)
	}
	return job, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	jobs, err := s.db.Repos().Job.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("queue.list", err)
	}
	return jobs, nil
}

// ListQueued returns every queued job in claim order.
func (s *Store) ListQueued(ctx context.Context) ([]models.GenerationJob, error) {
	jobs, err := s.db.Repos().Job.ListQueued(ctx)
	if err != nil {
		return nil, storageErr("queue.list", err)
	}
	return jobs, nil
}

// commit applies mutate to job and persists it with a compare-and-set on
// the previous state. job is restored if the unit of work fails.
func (s *Store) commit(ctx context.Context, job *models.GenerationJob, op string, mutate repository.TxFunc) error {
	before := *job
	err := s.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		*job = before
		if err := mutate(ctx, repo); err != nil {
			return storageErr(op, err)
		}
		if err := repo.Job.Update(ctx, job, before.State); err != nil {
			return storageErr(op, err)
		}
		return nil
	})
	if err != nil {
		*job = before
		return err
	}
	s.publish(*job, before.State)
	return nil
}

func (s *Store) moveKeyword(ctx context.Context, repo *repository.Repository, keywordID string, to models.KeywordState) error {
	err := repo.Keyword.UpdateState(ctx, keywordID, []models.KeywordState{models.KeywordProcessing}, to)
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("keyword not reserved by job", zap.String("keyword_id", keywordID), zap.String("to", string(to)), zap.Error(err))
		return nil
	}
	if err != nil {
		return storageErr("queue.keyword", err)
	}
	return nil
}

// keepDraft turns a post still marked generating into a draft. It reports
// whether the post exists.
func keepDraft(ctx context.Context, repo *repository.Repository, postID string) (bool, error) {
	post, err := repo.Post.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if post.Status != models.PostGenerating {
		return true, nil
	}
	post.Status = models.PostDraft
	return true, repo.Post.Update(ctx, post)
}

func failureReason(err error) string {
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

func storageErr(op string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op, err)
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.Cancelled, op, err)
	}
	return apperr.Wrap(apperr.StorageError, op, err)
}

// Package orchestrator drives generation jobs from claim to completion:
// admission, text with provider fallback, draft persistence, images and
// finalization, with retries, deferrals and cooperative cancellation.
package orchestrator

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/generator"
	"autopublisher/internal/imagegen"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/queue"
	"autopublisher/internal/ratelimit"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers = 2
	maxBackoff     = time.Hour
	baseBackoff    = time.Minute
)

var (
	ErrAlreadyRunning  = errors.New("job is already running")
	errCancelRequested = errors.New("cancel requested")
	errJobTimeout      = errors.New("job exceeded its time budget")
)

type Config struct {
	MaxWorkers    int
	JobTimeout    time.Duration
	PollInterval  time.Duration
	AuthorName    string
	PublisherName string
}

type Orchestrator struct {
	cfg      Config
	db       repository.Store
	jobs     *queue.Store
	registry *provider.Registry
	limiter  *ratelimit.Limiter
	text     *generator.Generator
	images   *imagegen.Generator
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	owners map[string]context.CancelCauseFunc

	statsMu  sync.Mutex
	total    time.Duration
	finished int
}

func New(
	cfg Config,
	db repository.Store,
	jobs *queue.Store,
	registry *provider.Registry,
	limiter *ratelimit.Limiter,
	text *generator.Generator,
	images *imagegen.Generator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		db:       db,
		jobs:     jobs,
		registry: registry,
		limiter:  limiter,
		text:     text,
		images:   images,
		log:      logger,
		now:      time.Now,
		owners:   map[string]context.CancelCauseFunc{},
	}
}

func (o *Orchestrator) Workers() int {
	return o.cfg.MaxWorkers
}

// AverageDuration is the mean wall time of the jobs run so far, or zero.
func (o *Orchestrator) AverageDuration() time.Duration {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	if o.finished == 0 {
		return 0
	}
	return o.total / time.Duration(o.finished)
}

func (o *Orchestrator) record(d time.Duration) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.total += d
	o.finished++
}

// Backoff is the requeue delay after a fully transient attempt.
func Backoff(attempts int) time.Duration {
	if attempts > 6 {
		return maxBackoff
	}
	return min(baseBackoff*time.Duration(1<<attempts), maxBackoff)
}

// Run claims and executes jobs with at most MaxWorkers in flight until ctx
// is cancelled. Jobs interrupted by shutdown are requeued.
func (o *Orchestrator) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxWorkers))
	var g errgroup.Group

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.log.Info("orchestrator started", zap.Int("workers", o.cfg.MaxWorkers))
loop:
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := o.jobs.Claim(ctx)
		if err != nil || job == nil {
			sem.Release(1)
			if err != nil && ctx.Err() == nil {
				o.log.Error("claim failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				break loop
			case <-o.jobs.Wakeups():
			case <-ticker.C:
			}
			continue
		}

		g.Go(func() error {
			defer sem.Release(1)
			o.execute(ctx, job)
			return nil
		})
	}

	err := g.Wait()
	o.log.Info("orchestrator stopped")
	return err
}

// ProcessNext claims one job and runs it on the caller's goroutine. It
// returns nil when nothing is due.
func (o *Orchestrator) ProcessNext(ctx context.Context) (*models.GenerationJob, error) {
	job, err := o.jobs.Claim(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	if err := o.execute(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Cancel asks a running job to stop at its next checkpoint. It reports
// whether the job was running in this process.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.owners[jobID]
	if ok {
		cancel(errCancelRequested)
	}
	return ok
}

func (o *Orchestrator) own(jobID string, cancel context.CancelCauseFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.owners[jobID]; ok {
		return false
	}
	o.owners[jobID] = cancel
	return true
}

func (o *Orchestrator) disown(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.owners, jobID)
}

func (o *Orchestrator) execute(parent context.Context, job *models.GenerationJob) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	if !o.own(job.JobID, cancel) {
		o.log.Warn("job already owned, aborting duplicate run", zap.String("job_id", job.JobID))
		return ErrAlreadyRunning
	}
	defer o.disown(job.JobID)

	if o.cfg.JobTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, o.cfg.JobTimeout, errJobTimeout)
		defer stop()
	}

	log := o.log.With(zap.String("job_id", job.JobID), zap.String("user_id", job.UserID))
	started := o.now()
	log.Info("job started", zap.Int("attempt", job.Attempts))

	err := o.run(ctx, job, log)
	if err != nil && errors.Is(context.Cause(ctx), errJobTimeout) {
		err = timedOut(job)
	}
	o.settle(ctx, job, err, log)
	o.record(o.now().Sub(started))
	return nil
}

// interrupted converts a done job context into the matching error.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, errJobTimeout) {
		return &apperr.Error{Kind: apperr.ProviderTransient, Op: "orchestrator", Err: cause, Timeout: true}
	}
	return apperr.Wrap(apperr.Cancelled, "orchestrator", cause)
}

// timedOut counts a job deadline against job. The first timeout of a job is
// transient; any later one is permanent.
func timedOut(job *models.GenerationJob) error {
	job.Timeouts++
	kind := apperr.ProviderTransient
	if job.Timeouts > 1 {
		kind = apperr.ProviderPermanent
	}
	return &apperr.Error{Kind: kind, Op: "orchestrator", Err: errJobTimeout, Timeout: true}
}

// deferral requeues the job without failing it.
type deferral struct {
	delay  time.Duration
	refund bool
	cause  error
}

func (d *deferral) Error() string {
	return fmt.Sprintf("deferred for %s: %v", d.delay, d.cause)
}

func (d *deferral) Unwrap() error {
	return d.cause
}

func (o *Orchestrator) settle(ctx context.Context, job *models.GenerationJob, err error, log *zap.Logger) {
	if err == nil {
		log.Info("job succeeded", zap.String("state", string(job.State)))
		return
	}
	wctx := context.WithoutCancel(ctx)

	var d *deferral
	var settleErr error
	switch {
	case errors.As(err, &d):
		log.Info("job deferred", zap.Duration("delay", d.delay), zap.Bool("refund", d.refund), zap.Error(d.cause))
		settleErr = o.jobs.Defer(wctx, job, d.delay, d.cause, d.refund)

	case apperr.Is(err, apperr.Cancelled) && errors.Is(context.Cause(ctx), errCancelRequested):
		log.Info("job cancelled")
		settleErr = o.markCancelled(wctx, job)

	case apperr.Is(err, apperr.Cancelled):
		log.Info("job interrupted by shutdown, requeueing")
		settleErr = o.jobs.Defer(wctx, job, 0, err, true)

	case apperr.Is(err, apperr.ProviderTransient) && job.Attempts < job.MaxRetries:
		delay := Backoff(job.Attempts)
		log.Warn("job attempt failed, retrying later", zap.Duration("delay", delay), zap.Error(err))
		settleErr = o.jobs.Defer(wctx, job, delay, err, false)

	default:
		log.Error("job failed", zap.Error(err))
		settleErr = o.fail(wctx, job, err)
	}

	if settleErr != nil {
		log.Error("could not record job outcome", zap.String("state", string(job.State)), zap.Error(settleErr))
	}
}

// fail ends the job. A draft left behind by a storage failure is deleted;
// any other failure keeps it as failed so a retry can reuse it.
func (o *Orchestrator) fail(ctx context.Context, job *models.GenerationJob, cause error) error {
	if !apperr.Is(cause, apperr.StorageError) || job.PostID == nil {
		return o.jobs.Complete(ctx, job, queue.Outcome{
			Err: cause,
			Within: func(ctx context.Context, repo *repository.Repository) error {
				return setPostStatus(ctx, repo, job.PostID, models.PostFailed)
			},
		})
	}

	var orphaned []models.Image
	postID := *job.PostID
	err := o.jobs.Complete(ctx, job, queue.Outcome{
		Err: cause,
		Within: func(ctx context.Context, repo *repository.Repository) error {
			post, err := repo.Post.GetByID(ctx, postID)
			if errors.Is(err, repository.ErrNotFound) {
				job.PostID = nil
				return nil
			}
			if err != nil {
				return err
			}
			if post.Status != models.PostGenerating {
				return nil
			}
			if orphaned, err = repo.Image.GetByPostID(ctx, postID); err != nil {
				return err
			}
			if err := repo.Image.DeleteByPostID(ctx, postID); err != nil {
				return err
			}
			if err := repo.Post.Delete(ctx, postID); err != nil {
				return err
			}
			job.PostID = nil
			return nil
		},
	})
	if err != nil {
		return err
	}
	o.images.Remove(ctx, orphaned)
	return nil
}

func (o *Orchestrator) markCancelled(ctx context.Context, job *models.GenerationJob) error {
	draftKept := job.PostID != nil
	return o.jobs.MarkCancelled(ctx, job, draftKept, func(ctx context.Context, repo *repository.Repository) error {
		return setPostStatus(ctx, repo, job.PostID, models.PostDraft)
	})
}

// setPostStatus moves a post still being generated to status.
func setPostStatus(ctx context.Context, repo *repository.Repository, postID *string, status models.PostStatus) error {
	if postID == nil {
		return nil
	}
	post, err := repo.Post.GetByID(ctx, *postID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if post.Status != models.PostGenerating {
		return nil
	}
	post.Status = status
	return repo.Post.Update(ctx, post)
}

package orchestrator

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/generator"
	"autopublisher/internal/imagegen"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/queue"
	"autopublisher/internal/repository"
	"autopublisher/internal/text"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const maxSlugAttempts = 5

// run executes one attempt of job. A nil error means the job succeeded and
// was completed; any other error is handed to settle.
func (o *Orchestrator) run(ctx context.Context, job *models.GenerationJob, log *zap.Logger) error {
	repos := o.db.Repos()

	user, err := repos.User.GetByID(ctx, job.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !user.IsActive) {
		return apperr.New(apperr.InputInvalid, "orchestrator.admit", "user does not exist or is inactive")
	}
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "orchestrator.admit", err)
	}

	post, err := o.existingDraft(ctx, job)
	if err != nil {
		return err
	}
	// A draft from an earlier attempt already counts toward today's posts.
	if post == nil {
		if err := o.limiter.Admit(ctx, user); err != nil {
			return err
		}
		defer o.limiter.Release(user.UserID)
	}

	creds, err := o.registry.Snapshot(ctx, user.UserID)
	if err != nil {
		return err
	}
	kw, err := repos.Keyword.GetByID(ctx, job.KeywordID)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "orchestrator.keyword", err)
	}

	if post == nil {
		article, err := o.writeText(ctx, job, kw, creds, log)
		if err != nil {
			return err
		}
		if err := interrupted(ctx); err != nil {
			return err
		}
		if err := o.limiter.Recheck(ctx, user); err != nil {
			return err
		}
		if post, err = o.persistDraft(ctx, job, kw, article); err != nil {
			return err
		}
		log.Info("draft persisted", zap.String("post_id", post.PostID), zap.String("slug", post.Slug), zap.String("provider", string(article.Provider)))
	} else {
		log.Info("reusing draft from earlier attempt", zap.String("post_id", post.PostID))
		postID := post.PostID
		if err := o.jobs.Advance(ctx, job, models.JobWritingDraft, func(context.Context, *repository.Repository) error {
			job.PostID = &postID
			return nil
		}); err != nil {
			return err
		}
	}

	if err := o.illustrate(ctx, job, user, kw, post, creds, log); err != nil {
		return err
	}

	if err := interrupted(ctx); err != nil {
		return err
	}
	if err := o.jobs.Advance(ctx, job, models.JobFinalizing, nil); err != nil {
		return err
	}
	return o.finalize(ctx, job, post.PostID)
}

func (o *Orchestrator) existingDraft(ctx context.Context, job *models.GenerationJob) (*models.Post, error) {
	repos := o.db.Repos()
	var (
		post *models.Post
		err  error
	)
	if job.PostID != nil {
		post, err = repos.Post.GetByID(ctx, *job.PostID)
	} else {
		post, err = repos.Post.GetByJobID(ctx, job.JobID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "orchestrator.draft", err)
	}
	return post, nil
}

// writeText walks the text providers in preference order. Transient
// failures move on to the next provider; a permanent one ends the attempt.
func (o *Orchestrator) writeText(ctx context.Context, job *models.GenerationJob, kw *models.Keyword, creds provider.Credentials, log *zap.Logger) (*generator.Article, error) {
	providers, err := o.registry.TextProviders(provider.Name(job.Provider), creds)
	if err != nil {
		return nil, err
	}
	opts := o.textOptions(job, kw)

	var (
		transient []error
		throttled int
		wait      = maxBackoff
	)
	for _, p := range providers {
		if err := interrupted(ctx); err != nil {
			return nil, err
		}
		plog := log.With(zap.String("provider", string(p.Name())))

		if d, ok := o.limiter.Reserve(p.Name()); !ok {
			plog.Info("provider throttled", zap.Duration("wait", d))
			throttled++
			wait = min(wait, d)
			continue
		}

		article, err := o.text.Generate(ctx, p, kw, opts)
		if err == nil {
			return article, nil
		}
		if ierr := interrupted(ctx); ierr != nil {
			return nil, ierr
		}

		if apperr.IsTimeout(err) {
			job.Timeouts++
			if job.Timeouts > 1 {
				plog.Warn("repeated provider timeout", zap.Int("timeouts", job.Timeouts))
				return nil, apperr.Wrap(apperr.ProviderPermanent, string(p.Name()), err)
			}
		}
		if !apperr.Is(err, apperr.ProviderTransient) {
			plog.Warn("text provider failed permanently", zap.Error(err))
			return nil, err
		}
		plog.Warn("text provider failed, trying next", zap.Error(err))
		transient = append(transient, err)
	}

	if throttled == len(providers) {
		return nil, &deferral{
			delay:  wait,
			refund: true,
			cause:  apperr.New(apperr.ProviderTransient, "orchestrator.text", "all text providers throttled"),
		}
	}
	return nil, apperr.Wrap(apperr.ProviderTransient, "orchestrator.text",
		fmt.Errorf("all text providers failed: %w", errors.Join(transient...)))
}

func (o *Orchestrator) textOptions(job *models.GenerationJob, kw *models.Keyword) generator.Options {
	aux := job.Options.AuxKeywords
	if len(aux) == 0 {
		aux = kw.AuxKeywords
	}
	return generator.Options{
		ContentType:   job.ContentType,
		Tone:          job.Options.Tone,
		Language:      job.Options.Language,
		WordCountMin:  job.Options.WordCountMin,
		WordCountMax:  job.Options.WordCountMax,
		AuxKeywords:   aux,
		AuthorName:    o.cfg.AuthorName,
		PublisherName: o.cfg.PublisherName,
	}
}

// persistDraft stores the article as a generating post and links it to the
// job in one unit of work. Slug collisions are retried with a fresh suffix
// and any other storage failure once.
func (o *Orchestrator) persistDraft(ctx context.Context, job *models.GenerationJob, kw *models.Keyword, article *generator.Article) (*models.Post, error) {
	var (
		post    *models.Post
		retried bool
		lastErr error
	)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if err := interrupted(ctx); err != nil {
			return nil, err
		}

		err := o.jobs.Advance(ctx, job, models.JobWritingDraft, func(ctx context.Context, repo *repository.Repository) error {
			slug, err := text.NextSlug(ctx, repo.Post, article.Title)
			if err != nil {
				return err
			}
			p := newPost(job, kw, article, slug)
			if err := repo.Post.Create(ctx, p); err != nil {
				return err
			}
			job.PostID = &p.PostID
			job.Warnings = append(job.Warnings, article.Warnings...)
			post = p
			return nil
		})
		if err == nil {
			return post, nil
		}
		lastErr = err
		if errors.Is(err, repository.ErrSlugTaken) {
			continue
		}
		if retried || apperr.Is(err, apperr.Cancelled) || apperr.Is(err, apperr.InputInvalid) {
			break
		}
		retried = true
	}

	var appErr *apperr.Error
	if errors.As(lastErr, &appErr) && appErr.Kind != apperr.StorageError {
		return nil, lastErr
	}
	return nil, &apperr.Error{Kind: apperr.StorageError, Op: "orchestrator.draft", Err: lastErr}
}

func newPost(job *models.GenerationJob, kw *models.Keyword, a *generator.Article, slug string) *models.Post {
	keywordID, jobID := kw.KeywordID, job.JobID
	words := text.WordCount(a.Body)
	return &models.Post{
		AuthorID:        job.UserID,
		KeywordID:       &keywordID,
		JobID:           &jobID,
		Title:           a.Title,
		Content:         a.Body,
		Excerpt:         a.Excerpt,
		MetaTitle:       a.MetaTitle,
		MetaDescription: a.MetaDescription,
		FocusKeyword:    kw.Phrase,
		CanonicalURL:    "/posts/" + slug,
		AuthorName:      a.AuthorName,
		PublisherName:   a.PublisherName,
		SchemaType:      a.SchemaType,
		ArticleSection:  a.ArticleSection,
		Status:          models.PostGenerating,
		Slug:            slug,
		WordCount:       words,
		ReadingMinutes:  text.ReadingMinutes(words),
	}
}

// illustrate runs the image phase when the resolved policy asks for
// images and the post has none yet. Image failures become job warnings.
func (o *Orchestrator) illustrate(ctx context.Context, job *models.GenerationJob, user *models.User, kw *models.Keyword, post *models.Post, creds provider.Credentials, log *zap.Logger) error {
	policy, err := o.imagePolicy(ctx, job, kw)
	if err != nil {
		return err
	}
	if policy.Total() == 0 {
		log.Info("image phase skipped", zap.Bool("enabled", policy.Enabled), zap.Int("count", policy.Count))
		return nil
	}

	existing, err := o.db.Repos().Image.GetByPostID(ctx, post.PostID)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "orchestrator.images", err)
	}
	if len(existing) > 0 {
		log.Info("post already illustrated", zap.Int("images", len(existing)))
		return nil
	}

	if err := interrupted(ctx); err != nil {
		return err
	}
	if err := o.jobs.Advance(ctx, job, models.JobGeneratingImages, nil); err != nil {
		return err
	}

	pref := policy.Provider
	if pref == provider.Auto && user.PreferredImageProvider != "" {
		pref = provider.Name(user.PreferredImageProvider)
	}
	providers, err := o.registry.ImageProviders(pref, creds)
	if err != nil {
		log.Warn("no image provider available", zap.Error(err))
		job.Warnings = append(job.Warnings, fmt.Sprintf("images skipped: %v", err))
		return nil
	}

	res, err := o.images.Generate(ctx, imagegen.Request{Post: post, Keyword: kw, Policy: policy, Providers: providers})
	if err != nil {
		return err
	}
	if perr := res.Err(); perr != nil {
		log.Warn("some images failed", zap.Int("stored", len(res.Images)), zap.Int("failed", len(res.Failures)))
		job.Warnings = append(job.Warnings, perr.Error())
	}
	log.Info("images stored", zap.Int("count", len(res.Images)))
	return nil
}

func (o *Orchestrator) imagePolicy(ctx context.Context, job *models.GenerationJob, kw *models.Keyword) (imagegen.Policy, error) {
	repos := o.db.Repos()
	global, err := repos.ImageConfig.GetGlobal(ctx, job.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return imagegen.Policy{}, apperr.Wrap(apperr.StorageError, "orchestrator.policy", err)
	}
	perKeyword, err := repos.ImageConfig.GetForKeyword(ctx, job.UserID, kw.KeywordID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return imagegen.Policy{}, apperr.Wrap(apperr.StorageError, "orchestrator.policy", err)
	}
	return imagegen.Resolve(global, perKeyword, job.Options), nil
}

// finalize publishes, schedules or keeps the post as a draft and completes
// the job and its keyword in one unit of work. A storage failure is retried
// once.
func (o *Orchestrator) finalize(ctx context.Context, job *models.GenerationJob, postID string) error {
	err := o.complete(ctx, job, postID)
	if apperr.Is(err, apperr.StorageError) {
		o.log.Warn("finalize failed, retrying once", zap.String("job_id", job.JobID), zap.Error(err))
		err = o.complete(ctx, job, postID)
	}
	return err
}

func (o *Orchestrator) complete(ctx context.Context, job *models.GenerationJob, postID string) error {
	now := o.now()
	return o.jobs.Complete(context.WithoutCancel(ctx), job, queue.Outcome{
		Within: func(ctx context.Context, repo *repository.Repository) error {
			post, err := repo.Post.GetByID(ctx, postID)
			if err != nil {
				return err
			}
			post.Status = models.PostDraft
			if job.Options.AutoPublish {
				if at := job.Options.PublishAt; at != nil && at.After(now) {
					post.Status = models.PostScheduled
					post.ScheduledAt = at
				} else {
					post.Status = models.PostPublished
					post.PublishedAt = &now
				}
			}
			return repo.Post.Update(ctx, post)
		},
	})
}

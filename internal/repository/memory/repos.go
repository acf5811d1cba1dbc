package memory

import (
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type userRepo struct{ base }

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	defer r.lock()()
	d := r.data()

	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	for _, u := range d.users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Email, repository.ErrDuplicate)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	d.users[user.UserID] = *user
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	defer r.lock()()

	u, ok := r.data().users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	return &u, nil
}

type credentialRepo struct{ base }

func (r *credentialRepo) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	defer r.lock()()
	d := r.data()

	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	if d.credentials[cred.UserID] == nil {
		d.credentials[cred.UserID] = map[string]models.ProviderCredential{}
	}
	d.credentials[cred.UserID][cred.Provider] = *cred
	return nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID string) ([]models.ProviderCredential, error) {
	defer r.lock()()

	var out []models.ProviderCredential
	for _, c := range r.data().credentials[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

type keywordRepo struct{ base }

func (r *keywordRepo) Create(ctx context.Context, keyword *models.Keyword) error {
	defer r.lock()()
	d := r.data()

	for _, k := range d.keywords {
		if k.UserID == keyword.UserID && k.Phrase == keyword.Phrase {
			return fmt.Errorf("keyword %q: %w", keyword.Phrase, repository.ErrDuplicate)
		}
	}
	if keyword.KeywordID == "" {
		keyword.KeywordID = uuid.New().String()
	}
	if keyword.State == "" {
		keyword.State = models.KeywordPending
	}
	if keyword.Priority == "" {
		keyword.Priority = models.PriorityMedium
	}
	now := time.Now()
	if keyword.CreatedAt.IsZero() {
		keyword.CreatedAt = now
	}
	keyword.UpdatedAt = now
	d.keywords[keyword.KeywordID] = *keyword
	return nil
}

func (r *keywordRepo) GetByID(ctx context.Context, keywordID string) (*models.Keyword, error) {
	defer r.lock()()

	k, ok := r.data().keywords[keywordID]
	if !ok {
		return nil, fmt.Errorf("keyword %s: %w", keywordID, repository.ErrNotFound)
	}
	return &k, nil
}

func (r *keywordRepo) NextPending(ctx context.Context, userID string) (*models.Keyword, error) {
	defer r.lock()()

	var best *models.Keyword
	for _, k := range r.data().keywords {
		if k.UserID != userID || k.State != models.KeywordPending {
			continue
		}
		k := k
		if best == nil ||
			k.Priority.Rank() > best.Priority.Rank() ||
			(k.Priority.Rank() == best.Priority.Rank() && k.CreatedAt.Before(best.CreatedAt)) {
			best = &k
		}
	}
	if best == nil {
		return nil, fmt.Errorf("pending keyword for %s: %w", userID, repository.ErrNotFound)
	}
	return best, nil
}

func (r *keywordRepo) UpdateState(ctx context.Context, keywordID string, from []models.KeywordState, to models.KeywordState) error {
	defer r.lock()()
	d := r.data()

	k, ok := d.keywords[keywordID]
	if !ok {
		return fmt.Errorf("keyword %s: %w", keywordID, repository.ErrNotFound)
	}
	for _, s := range from {
		if k.State == s {
			k.State = to
			k.UpdatedAt = time.Now()
			d.keywords[keywordID] = k
			return nil
		}
	}
	return fmt.Errorf("keyword %s is %s: %w", keywordID, k.State, repository.ErrConflict)
}

type postRepo struct{ base }

func (r *postRepo) Create(ctx context.Context, post *models.Post) error {
	defer r.lock()()
	d := r.data()

	for _, p := range d.posts {
		if p.Slug == post.Slug {
			return fmt.Errorf("slug %q: %w", post.Slug, repository.ErrSlugTaken)
		}
		if post.JobID != nil && p.JobID != nil && *p.JobID == *post.JobID {
			return fmt.Errorf("post for job %s: %w", *post.JobID, repository.ErrDuplicate)
		}
	}
	if post.PostID == "" {
		post.PostID = uuid.New().String()
	}
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	stored := *post
	stored.Images = nil
	d.posts[post.PostID] = stored
	return nil
}

func (r *postRepo) GetByID(ctx context.Context, postID string) (*models.Post, error) {
	defer r.lock()()

	p, ok := r.data().posts[postID]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", postID, repository.ErrNotFound)
	}
	return &p, nil
}

func (r *postRepo) GetByJobID(ctx context.Context, jobID string) (*models.Post, error) {
	defer r.lock()()

	for _, p := range r.data().posts {
		if p.JobID != nil && *p.JobID == jobID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("post for job %s: %w", jobID, repository.ErrNotFound)
}

func (r *postRepo) Update(ctx context.Context, post *models.Post) error {
	defer r.lock()()
	d := r.data()

	if _, ok := d.posts[post.PostID]; !ok {
		return fmt.Errorf("post %s: %w", post.PostID, repository.ErrNotFound)
	}
	for id, p := range d.posts {
		if id != post.PostID && p.Slug == post.Slug {
			return fmt.Errorf("slug %q: %w", post.Slug, repository.ErrSlugTaken)
		}
	}
	post.UpdatedAt = time.Now()
	stored := *post
	stored.Images = nil
	d.posts[post.PostID] = stored
	return nil
}

func (r *postRepo) Delete(ctx context.Context, postID string) error {
	defer r.lock()()
	d := r.data()

	if _, ok := d.posts[postID]; !ok {
		return fmt.Errorf("post %s: %w", postID, repository.ErrNotFound)
	}
	delete(d.posts, postID)
	for id, img := range d.images {
		if img.PostID == postID {
			delete(d.images, id)
		}
	}
	return nil
}

func (r *postRepo) ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	defer r.lock()()

	var slugs []string
	for _, p := range r.data().posts {
		if p.Slug == prefix || strings.HasPrefix(p.Slug, prefix+"-") {
			slugs = append(slugs, p.Slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

func (r *postRepo) CountCreatedSince(ctx context.Context, authorID string, since time.Time) (int, error) {
	defer r.lock()()

	n := 0
	for _, p := range r.data().posts {
		if p.AuthorID == authorID && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type imageRepo struct{ base }

func (r *imageRepo) Create(ctx context.Context, image *models.Image) error {
	defer r.lock()()
	d := r.data()

	if _, ok := d.posts[image.PostID]; !ok {
		return fmt.Errorf("post %s: %w", image.PostID, repository.ErrNotFound)
	}
	for _, img := range d.images {
		if img.PostID != image.PostID {
			continue
		}
		if img.Position == image.Position || (img.IsFeatured && image.IsFeatured) {
			return fmt.Errorf("image position %d of post %s: %w", image.Position, image.PostID, repository.ErrDuplicate)
		}
	}
	if image.ImageID == "" {
		image.ImageID = uuid.New().String()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now()
	}
	d.images[image.ImageID] = *image
	return nil
}

func (r *imageRepo) GetByPostID(ctx context.Context, postID string) ([]models.Image, error) {
	defer r.lock()()

	var out []models.Image
	for _, img := range r.data().images {
		if img.PostID == postID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *imageRepo) DeleteByPostID(ctx context.Context, postID string) error {
	defer r.lock()()
	d := r.data()

	for id, img := range d.images {
		if img.PostID == postID {
			delete(d.images, id)
		}
	}
	return nil
}

type jobRepo struct{ base }

func (r *jobRepo) Create(ctx context.Context, job *models.GenerationJob) error {
	defer r.lock()()
	d := r.data()

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if _, ok := d.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s: %w", job.JobID, repository.ErrDuplicate)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	d.jobs[job.JobID] = *job
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	defer r.lock()()

	j, ok := r.data().jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, repository.ErrNotFound)
	}
	return &j, nil
}

func (r *jobRepo) Update(ctx context.Context, job *models.GenerationJob, expected models.JobState) error {
	defer r.lock()()
	d := r.data()

	current, ok := d.jobs[job.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.JobID, repository.ErrNotFound)
	}
	if current.State != expected {
		return fmt.Errorf("job %s is %s, not %s: %w", job.JobID, current.State, expected, repository.ErrConflict)
	}
	job.UpdatedAt = time.Now()
	d.jobs[job.JobID] = *job
	return nil
}

func (r *jobRepo) NextEligible(ctx context.Context, now time.Time) (*models.GenerationJob, error) {
	defer r.lock()()

	queued := r.queued()
	for _, j := range queued {
		if !j.ScheduledAt.After(now) {
			return &j, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *jobRepo) ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	defer r.lock()()

	var out []models.GenerationJob
	for _, j := range r.data().jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *jobRepo) ListQueued(ctx context.Context) ([]models.GenerationJob, error) {
	defer r.lock()()
	return r.queued(), nil
}

func (r *jobRepo) queued() []models.GenerationJob {
	var out []models.GenerationJob
	for _, j := range r.data().jobs {
		if j.State == models.JobQueued {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ja, jb := out[a], out[b]
		if ja.Priority.Rank() != jb.Priority.Rank() {
			return ja.Priority.Rank() > jb.Priority.Rank()
		}
		if !ja.ScheduledAt.Equal(jb.ScheduledAt) {
			return ja.ScheduledAt.Before(jb.ScheduledAt)
		}
		return ja.CreatedAt.Before(jb.CreatedAt)
	})
	return out
}

func (r *jobRepo) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	defer r.lock()()

	n := 0
	for _, j := range r.data().jobs {
		if j.UserID == userID && j.State.Active() {
			n++
		}
	}
	return n, nil
}

type scheduleRepo struct{ base }

func (r *scheduleRepo) Upsert(ctx context.Context, cfg *models.ScheduleConfig) error {
	defer r.lock()()
	d := r.data()

	now := time.Now()
	if existing, ok := d.schedules[cfg.UserID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	d.schedules[cfg.UserID] = *cfg
	return nil
}

func (r *scheduleRepo) GetByUserID(ctx context.Context, userID string) (*models.ScheduleConfig, error) {
	defer r.lock()()

	cfg, ok := r.data().schedules[userID]
	if !ok {
		return nil, fmt.Errorf("schedule of %s: %w", userID, repository.ErrNotFound)
	}
	return &cfg, nil
}

func (r *scheduleRepo) ListActive(ctx context.Context) ([]models.ScheduleConfig, error) {
	defer r.lock()()

	var out []models.ScheduleConfig
	for _, cfg := range r.data().schedules {
		if cfg.Status == models.ScheduleActive && cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextRunAt, out[j].NextRunAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return out, nil
}

type imageConfigRepo struct{ base }

func (r *imageConfigRepo) Upsert(ctx context.Context, cfg *models.ImageConfig) error {
	defer r.lock()()
	d := r.data()

	if cfg.ConfigID == "" {
		for id, existing := range d.imageConfigs {
			if existing.UserID == cfg.UserID && sameKeyword(existing.KeywordID, cfg.KeywordID) {
				cfg.ConfigID = id
				cfg.CreatedAt = existing.CreatedAt
			}
		}
	}
	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.New().String()
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	d.imageConfigs[cfg.ConfigID] = *cfg
	return nil
}

func (r *imageConfigRepo) GetGlobal(ctx context.Context, userID string) (*models.ImageConfig, error) {
	return r.find(userID, nil)
}

func (r *imageConfigRepo) GetForKeyword(ctx context.Context, userID, keywordID string) (*models.ImageConfig, error) {
	return r.find(userID, &keywordID)
}

func (r *imageConfigRepo) find(userID string, keywordID *string) (*models.ImageConfig, error) {
	defer r.lock()()

	for _, cfg := range r.data().imageConfigs {
		if cfg.UserID == userID && sameKeyword(cfg.KeywordID, keywordID) {
			return &cfg, nil
		}
	}
	return nil, repository.ErrNotFound
}

func sameKeyword(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

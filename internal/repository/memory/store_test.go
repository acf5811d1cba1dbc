package memory

import (
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repos := store.Repos()

	kw := &models.Keyword{UserID: "user-1", Phrase: "mindful breathing"}
	require.NoError(t, repos.Keyword.Create(ctx, kw))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		if err := repo.Keyword.UpdateState(ctx, kw.KeywordID, []models.KeywordState{models.KeywordPending}, models.KeywordProcessing); err != nil {
			return err
		}
		if err := repo.Job.Create(ctx, &models.GenerationJob{UserID: "user-1", KeywordID: kw.KeywordID}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repos.Keyword.GetByID(ctx, kw.KeywordID)
	require.NoError(t, err)
	assert.Equal(t, models.KeywordPending, got.State)

	jobs, err := repos.Job.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestKeywordRepo_NextPendingOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repos := store.Repos()
	base := time.Now().Add(-time.Hour)

	for i, k := range []models.Keyword{
		{UserID: "u", Phrase: "old low", Priority: models.PriorityLow, CreatedAt: base},
		{UserID: "u", Phrase: "new high", Priority: models.PriorityHigh, CreatedAt: base.Add(2 * time.Minute)},
		{UserID: "u", Phrase: "old high", Priority: models.PriorityHigh, CreatedAt: base.Add(time.Minute)},
		{UserID: "u", Phrase: "done high", Priority: models.PriorityHigh, State: models.KeywordCompleted, CreatedAt: base},
	} {
		k := k
		require.NoError(t, repos.Keyword.Create(ctx, &k), "keyword %d", i)
	}

	next, err := repos.Keyword.NextPending(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "old high", next.Phrase)

	_, err = repos.Keyword.NextPending(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobRepo_NextEligibleOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repos := store.Repos()
	now := time.Now()

	jobs := []models.GenerationJob{
		{JobID: "future-high", Priority: models.PriorityHigh, State: models.JobQueued, ScheduledAt: now.Add(time.Hour)},
		{JobID: "medium", Priority: models.PriorityMedium, State: models.JobQueued, ScheduledAt: now.Add(-time.Minute)},
		{JobID: "high-late", Priority: models.PriorityHigh, State: models.JobQueued, ScheduledAt: now.Add(-time.Second)},
		{JobID: "high-early", Priority: models.PriorityHigh, State: models.JobQueued, ScheduledAt: now.Add(-time.Hour)},
		{JobID: "running", Priority: models.PriorityHigh, State: models.JobRunning, ScheduledAt: now.Add(-2 * time.Hour)},
	}
	for i := range jobs {
		require.NoError(t, repos.Job.Create(ctx, &jobs[i]))
	}

	next, err := repos.Job.NextEligible(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "high-early", next.JobID)

	queued, err := repos.Job.ListQueued(ctx)
	require.NoError(t, err)
	var ids []string
	for _, j := range queued {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"high-early", "high-late", "future-high", "medium"}, ids)

	active, err := repos.Job.CountActiveByUser(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestJobRepo_UpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repos()

	job := &models.GenerationJob{JobID: "j", State: models.JobQueued}
	require.NoError(t, repos.Job.Create(ctx, job))

	job.State = models.JobRunning
	require.NoError(t, repos.Job.Update(ctx, job, models.JobQueued))

	job.State = models.JobSucceeded
	err := repos.Job.Update(ctx, job, models.JobQueued)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestPostRepo_SlugUniqueness(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repos()

	require.NoError(t, repos.Post.Create(ctx, &models.Post{AuthorID: "u", Slug: "mindful-breathing"}))
	require.NoError(t, repos.Post.Create(ctx, &models.Post{AuthorID: "u", Slug: "mindful-breathing-1"}))
	require.NoError(t, repos.Post.Create(ctx, &models.Post{AuthorID: "u", Slug: "mindful-breathing-tips"}))

	err := repos.Post.Create(ctx, &models.Post{AuthorID: "u", Slug: "mindful-breathing"})
	assert.ErrorIs(t, err, repository.ErrSlugTaken)

	slugs, err := repos.Post.ListSlugsWithPrefix(ctx, "mindful-breathing")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mindful-breathing", "mindful-breathing-1", "mindful-breathing-tips"}, slugs)

	n, err := repos.Post.CountCreatedSince(ctx, "u", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImageRepo_PositionsUnique(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repos()

	post := &models.Post{AuthorID: "u", Slug: "p"}
	require.NoError(t, repos.Post.Create(ctx, post))

	require.NoError(t, repos.Image.Create(ctx, &models.Image{PostID: post.PostID, Position: 0, IsFeatured: true}))
	require.NoError(t, repos.Image.Create(ctx, &models.Image{PostID: post.PostID, Position: 1}))

	assert.ErrorIs(t, repos.Image.Create(ctx, &models.Image{PostID: post.PostID, Position: 1}), repository.ErrDuplicate)
	assert.ErrorIs(t, repos.Image.Create(ctx, &models.Image{PostID: post.PostID, Position: 2, IsFeatured: true}), repository.ErrDuplicate)

	images, err := repos.Image.GetByPostID(ctx, post.PostID)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.True(t, images[0].IsFeatured)
}

func TestImageConfigRepo_GlobalAndKeyword(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repos()
	kw := "kw-1"

	require.NoError(t, repos.ImageConfig.Upsert(ctx, &models.ImageConfig{UserID: "u", NumImages: 2}))
	require.NoError(t, repos.ImageConfig.Upsert(ctx, &models.ImageConfig{UserID: "u", KeywordID: &kw, NumImages: 0}))
	require.NoError(t, repos.ImageConfig.Upsert(ctx, &models.ImageConfig{UserID: "u", NumImages: 4}))

	global, err := repos.ImageConfig.GetGlobal(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 4, global.NumImages)

	perKeyword, err := repos.ImageConfig.GetForKeyword(ctx, "u", kw)
	require.NoError(t, err)
	assert.Equal(t, 0, perKeyword.NumImages)

	_, err = repos.ImageConfig.GetForKeyword(ctx, "u", "other")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

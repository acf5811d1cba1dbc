package queue

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"autopublisher/internal/repository/memory"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	q     *Store
	db    *memory.Store
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewStore()
	f := &fixture{db: db, clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f.q = New(db, zap.NewNop())
	f.q.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) keyword(t *testing.T, userID, phrase string, p models.Priority) *models.Keyword {
	t.Helper()
	kw := &models.Keyword{UserID: userID, Phrase: phrase, Priority: p}
	require.NoError(t, f.db.Repos().Keyword.Create(context.Background(), kw))
	return kw
}

func (f *fixture) keywordState(t *testing.T, id string) models.KeywordState {
	t.Helper()
	kw, err := f.db.Repos().Keyword.GetByID(context.Background(), id)
	require.NoError(t, err)
	return kw.State
}

func (f *fixture) enqueue(t *testing.T, kw *models.Keyword) *models.GenerationJob {
	t.Helper()
	job := &models.GenerationJob{UserID: kw.UserID, KeywordID: kw.KeywordID}
	require.NoError(t, f.q.Enqueue(context.Background(), job))
	return job
}

func TestEnqueue_ReservesKeyword(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "mindful breathing", models.PriorityHigh)

	var seen []models.JobState
	f.q.Subscribe(func(job models.GenerationJob, from models.JobState) {
		seen = append(seen, job.State)
	})

	job := f.enqueue(t, kw)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, models.JobQueued, job.State)
	assert.Equal(t, models.PriorityHigh, job.Priority)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)
	assert.Equal(t, f.clock, job.ScheduledAt)
	assert.Equal(t, models.KeywordProcessing, f.keywordState(t, kw.KeywordID))
	assert.Equal(t, []models.JobState{models.JobQueued}, seen)

	select {
	case <-f.q.Wakeups():
	default:
		t.Fatal("expected a wakeup after enqueue")
	}
}

func TestEnqueue_Rejections(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "mindful breathing", models.PriorityMedium)
	f.enqueue(t, kw)

	tests := []struct {
		name string
		job  *models.GenerationJob
		want apperr.Kind
	}{
		{"keyword already reserved", &models.GenerationJob{UserID: "u1", KeywordID: kw.KeywordID}, apperr.InputInvalid},
		{"missing keyword", &models.GenerationJob{UserID: "u1", KeywordID: "nope"}, apperr.NotFound},
		{"someone else's keyword", &models.GenerationJob{UserID: "u2", KeywordID: kw.KeywordID}, apperr.NotFound},
		{"no user", &models.GenerationJob{KeywordID: kw.KeywordID}, apperr.InputInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.q.Enqueue(context.Background(), tt.job)
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}

	jobs, err := f.q.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueue_ConcurrentSameKeyword(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "mindful breathing", models.PriorityMedium)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.q.Enqueue(context.Background(), &models.GenerationJob{UserID: "u1", KeywordID: kw.KeywordID})
		}(i)
	}
	wg.Wait()

	ok, invalid := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.InputInvalid):
			invalid++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, invalid)
}

func TestClaim_OrderAndAttempts(t *testing.T) {
	f := newFixture(t)
	low := f.enqueue(t, f.keyword(t, "u1", "low", models.PriorityLow))
	high := f.enqueue(t, f.keyword(t, "u1", "high", models.PriorityHigh))

	later := &models.GenerationJob{UserID: "u1", KeywordID: f.keyword(t, "u1", "later", models.PriorityHigh).KeywordID, ScheduledAt: f.clock.Add(time.Hour)}
	require.NoError(t, f.q.Enqueue(context.Background(), later))

	ctx := context.Background()
	got, err := f.q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, high.JobID, got.JobID)
	assert.Equal(t, models.JobRunning, got.State)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)

	got, err = f.q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, low.JobID, got.JobID)

	got, err = f.q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	f.clock = f.clock.Add(2 * time.Hour)
	got, err = f.q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, later.JobID, got.JobID)
}

func TestAdvance_ValidatesTransitions(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, f.keyword(t, "u1", "k", models.PriorityMedium))
	ctx := context.Background()

	job, err := f.q.Claim(ctx)
	require.NoError(t, err)

	err = f.q.Advance(ctx, job, models.JobSucceeded, nil)
	assert.Equal(t, apperr.InputInvalid, apperr.KindOf(err))
	assert.Equal(t, models.JobRunning, job.State)

	postID := "p1"
	require.NoError(t, f.q.Advance(ctx, job, models.JobWritingDraft, func(ctx context.Context, repo *repository.Repository) error {
		job.PostID = &postID
		return nil
	}))
	stored, err := f.q.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobWritingDraft, stored.State)
	assert.Equal(t, &postID, stored.PostID)

	failing := func(ctx context.Context, repo *repository.Repository) error {
		job.LastError = "changed"
		return apperr.New(apperr.StorageError, "test", "write failed")
	}
	err = f.q.Advance(ctx, job, models.JobFinalizing, failing)
	assert.Equal(t, apperr.StorageError, apperr.KindOf(err))
	assert.Equal(t, models.JobWritingDraft, job.State)
	assert.Empty(t, job.LastError)
}

func TestComplete_KeywordOutcome(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantJob   models.JobState
		wantKw    models.KeywordState
		wantCause string
	}{
		{"success", nil, models.JobSucceeded, models.KeywordCompleted, ""},
		{"permanent", apperr.New(apperr.ProviderPermanent, "openai", "401"), models.JobFailed, models.KeywordFailed, "provider_permanent"},
		{"quota", apperr.New(apperr.QuotaExceeded, "ratelimit", "limit"), models.JobFailed, models.KeywordPending, "quota_exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			kw := f.keyword(t, "u1", "k", models.PriorityMedium)
			f.enqueue(t, kw)
			ctx := context.Background()

			job, err := f.q.Claim(ctx)
			require.NoError(t, err)
			if tt.err == nil {
				require.NoError(t, f.q.Advance(ctx, job, models.JobFinalizing, nil))
			}

			require.NoError(t, f.q.Complete(ctx, job, Outcome{Err: tt.err}))
			assert.Equal(t, tt.wantJob, job.State)
			assert.Equal(t, tt.wantCause, job.FailureReason)
			assert.NotNil(t, job.FinishedAt)
			assert.Equal(t, tt.wantKw, f.keywordState(t, kw.KeywordID))
		})
	}
}

func TestDefer_RefundsAttempt(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, f.keyword(t, "u1", "k", models.PriorityMedium))
	ctx := context.Background()

	job, err := f.q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, f.q.Defer(ctx, job, time.Minute, apperr.New(apperr.ProviderTransient, "openai", "503"), false))
	assert.Equal(t, models.JobQueued, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, f.clock.Add(time.Minute), job.ScheduledAt)
	assert.Contains(t, job.LastError, "503")

	f.clock = f.clock.Add(time.Minute)
	job, err = f.q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	require.NoError(t, f.q.Defer(ctx, job, time.Second, nil, true))
	assert.Equal(t, 1, job.Attempts)
}

func TestCancel_OnlyQueued(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "k", models.PriorityMedium)
	job := f.enqueue(t, kw)
	ctx := context.Background()

	cancelled, err := f.q.Cancel(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.State)
	assert.Equal(t, models.KeywordPending, f.keywordState(t, kw.KeywordID))

	_, err = f.q.Cancel(ctx, job.JobID)
	assert.Equal(t, apperr.InputInvalid, apperr.KindOf(err))

	_, err = f.q.Cancel(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

// withDraft claims the next job, persists a generating post for it and
// returns the job in writing_draft.
func (f *fixture) withDraft(t *testing.T) (*models.GenerationJob, *models.Post) {
	t.Helper()
	ctx := context.Background()
	job, err := f.q.Claim(ctx)
	require.NoError(t, err)

	var post *models.Post
	require.NoError(t, f.q.Advance(ctx, job, models.JobWritingDraft, func(ctx context.Context, repo *repository.Repository) error {
		jobID := job.JobID
		post = &models.Post{AuthorID: job.UserID, JobID: &jobID, Title: "Draft", Slug: "draft", Status: models.PostGenerating}
		if err := repo.Post.Create(ctx, post); err != nil {
			return err
		}
		job.PostID = &post.PostID
		return nil
	}))
	return job, post
}

func TestCancel_KeepsEarlierDraft(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "k", models.PriorityMedium)
	f.enqueue(t, kw)
	ctx := context.Background()

	job, draft := f.withDraft(t)
	require.NoError(t, f.q.Defer(ctx, job, time.Minute, apperr.New(apperr.ProviderTransient, "orchestrator", "timeout"), false))

	cancelled, err := f.q.Cancel(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.State)
	assert.Equal(t, models.KeywordCompleted, f.keywordState(t, kw.KeywordID))

	post, err := f.db.Repos().Post.GetByID(ctx, draft.PostID)
	require.NoError(t, err)
	assert.Equal(t, models.PostDraft, post.Status)

	err = f.q.Enqueue(ctx, &models.GenerationJob{UserID: "u1", KeywordID: kw.KeywordID})
	assert.Error(t, err, "a completed keyword cannot be queued again")
}

func TestComplete_QuotaWithDraftFailsKeyword(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "k", models.PriorityMedium)
	f.enqueue(t, kw)
	ctx := context.Background()

	job, _ := f.withDraft(t)
	require.NoError(t, f.q.Complete(ctx, job, Outcome{Err: apperr.New(apperr.QuotaExceeded, "ratelimit", "limit")}))

	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, models.KeywordFailed, f.keywordState(t, kw.KeywordID))
}

func TestMarkCancelled_DraftKept(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "k", models.PriorityMedium)
	f.enqueue(t, kw)
	ctx := context.Background()

	job, err := f.q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, f.q.MarkCancelled(ctx, job, true, nil))
	assert.Equal(t, models.JobCancelled, job.State)
	assert.Equal(t, models.KeywordCompleted, f.keywordState(t, kw.KeywordID))
}

func TestRetry_FailedOnly(t *testing.T) {
	f := newFixture(t)
	kw := f.keyword(t, "u1", "k", models.PriorityMedium)
	queued := f.enqueue(t, kw)
	ctx := context.Background()

	_, err := f.q.Retry(ctx, queued.JobID)
	assert.Equal(t, apperr.InputInvalid, apperr.KindOf(err))

	job, err := f.q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, f.q.Complete(ctx, job, Outcome{Err: apperr.New(apperr.ProviderPermanent, "openai", "401")}))
	assert.Equal(t, models.KeywordFailed, f.keywordState(t, kw.KeywordID))

	retried, err := f.q.Retry(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, retried.State)
	assert.Zero(t, retried.Attempts)
	assert.Empty(t, retried.LastError)
	assert.Nil(t, retried.FinishedAt)
	assert.Equal(t, models.KeywordProcessing, f.keywordState(t, kw.KeywordID))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.JobQueued, models.JobRunning))
	assert.True(t, CanTransition(models.JobFailed, models.JobQueued))
	assert.False(t, CanTransition(models.JobSucceeded, models.JobQueued))
	assert.False(t, CanTransition(models.JobCancelled, models.JobRunning))
	assert.False(t, CanTransition(models.JobQueued, models.JobSucceeded))
}

// Package ratelimit enforces the per-user daily post cap and the
// per-provider request rate.
package ratelimit

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PostCounter is satisfied by the post repository.
type PostCounter interface {
	CountCreatedSince(ctx context.Context, authorID string, since time.Time) (int, error)
}

type Limiter struct {
	mu           sync.Mutex
	inflight     map[string]int
	posts        PostCounter
	loc          *time.Location
	defaultLimit int
	now          func() time.Time

	pmu       sync.Mutex
	providers map[provider.Name]*rate.Limiter
}

func New(posts PostCounter, loc *time.Location, defaultLimit int) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{
		inflight:     map[string]int{},
		posts:        posts,
		loc:          loc,
		defaultLimit: defaultLimit,
		now:          time.Now,
		providers:    map[provider.Name]*rate.Limiter{},
	}
}

// SetProviderQPS installs a token bucket for name. qps <= 0 removes the limit.
func (l *Limiter) SetProviderQPS(name provider.Name, qps float64) {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if qps <= 0 {
		delete(l.providers, name)
		return
	}
	l.providers[name] = rate.NewLimiter(rate.Limit(qps), max(1, int(qps)))
}

// StartOfDay is local midnight of t in the limiter's zone.
func (l *Limiter) StartOfDay(t time.Time) time.Time {
	t = t.In(l.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, l.loc)
}

func (l *Limiter) limitFor(user *models.User) int {
	if user.DailyLimit > 0 {
		return user.DailyLimit
	}
	return l.defaultLimit
}

// Admit reserves one of today's post slots for the user. Posts already
// created today and jobs in flight both count against the cap.
func (l *Limiter) Admit(ctx context.Context, user *models.User) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	used, err := l.used(ctx, user.UserID)
	if err != nil {
		return err
	}
	limit := l.limitFor(user)
	if used+l.inflight[user.UserID] >= limit {
		return apperr.New(apperr.QuotaExceeded, "ratelimit.admit",
			fmt.Sprintf("daily limit of %d posts reached", limit))
	}
	l.inflight[user.UserID]++
	return nil
}

// Recheck verifies an admitted job still fits under the cap, counting the
// other in-flight jobs of the user but not the caller.
func (l *Limiter) Recheck(ctx context.Context, user *models.User) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	used, err := l.used(ctx, user.UserID)
	if err != nil {
		return err
	}
	others := max(l.inflight[user.UserID]-1, 0)
	limit := l.limitFor(user)
	if used+others >= limit {
		return apperr.New(apperr.QuotaExceeded, "ratelimit.recheck",
			fmt.Sprintf("daily limit of %d posts reached", limit))
	}
	return nil
}

// Release frees the slot taken by Admit.
func (l *Limiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[userID] <= 1 {
		delete(l.inflight, userID)
		return
	}
	l.inflight[userID]--
}

func (l *Limiter) InFlight(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[userID]
}

func (l *Limiter) used(ctx context.Context, userID string) (int, error) {
	n, err := l.posts.CountCreatedSince(ctx, userID, l.StartOfDay(l.now()))
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageError, "ratelimit.count", err)
	}
	return n, nil
}

// Reserve takes a token for a call to name. When none is available it
// returns the wait and false, leaving the bucket untouched.
func (l *Limiter) Reserve(name provider.Name) (time.Duration, bool) {
	l.pmu.Lock()
	lim, ok := l.providers[name]
	l.pmu.Unlock()
	if !ok {
		return 0, true
	}

	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return wait, false
	}
	return 0, true
}

package ratelimit

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPostCounter struct {
	mock.Mock
}

func (m *MockPostCounter) CountCreatedSince(ctx context.Context, authorID string, since time.Time) (int, error) {
	args := m.Called(ctx, authorID, since)
	return args.Int(0), args.Error(1)
}

func TestLimiter_AdmitCountsPostsAndInFlight(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, loc)
	midnight := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	counter := new(MockPostCounter)
	counter.On("CountCreatedSince", mock.Anything, "u1", midnight).Return(1, nil)

	l := New(counter, loc, 10)
	l.now = func() time.Time { return now }
	user := &models.User{UserID: "u1", DailyLimit: 3}
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, user))
	require.NoError(t, l.Admit(ctx, user))
	assert.Equal(t, 2, l.InFlight("u1"))

	err = l.Admit(ctx, user)
	assert.Equal(t, apperr.QuotaExceeded, apperr.KindOf(err))

	l.Release("u1")
	require.NoError(t, l.Admit(ctx, user))
	counter.AssertExpectations(t)
}

func TestLimiter_DefaultLimitAndRecheck(t *testing.T) {
	counter := new(MockPostCounter)
	counter.On("CountCreatedSince", mock.Anything, "u1", mock.Anything).Return(1, nil).Once()
	counter.On("CountCreatedSince", mock.Anything, "u1", mock.Anything).Return(2, nil)

	l := New(counter, time.UTC, 2)
	user := &models.User{UserID: "u1"}
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, user))
	err := l.Recheck(ctx, user)
	assert.Equal(t, apperr.QuotaExceeded, apperr.KindOf(err))

	l.Release("u1")
	l.Release("u1")
	assert.Equal(t, 0, l.InFlight("u1"))
}

func TestLimiter_CountFailureIsStorageError(t *testing.T) {
	counter := new(MockPostCounter)
	counter.On("CountCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, errors.New("db down"))

	l := New(counter, time.UTC, 2)
	err := l.Admit(context.Background(), &models.User{UserID: "u1"})
	assert.Equal(t, apperr.StorageError, apperr.KindOf(err))
	assert.Equal(t, 0, l.InFlight("u1"))
}

func TestLimiter_ReserveProviderRate(t *testing.T) {
	l := New(new(MockPostCounter), time.UTC, 1)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.SetProviderQPS(provider.OpenAI, 1)

	wait, ok := l.Reserve(provider.OpenAI)
	assert.True(t, ok)
	assert.Zero(t, wait)

	wait, ok = l.Reserve(provider.OpenAI)
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	wait, ok = l.Reserve(provider.OpenAI)
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	now = now.Add(time.Second)
	_, ok = l.Reserve(provider.OpenAI)
	assert.True(t, ok)

	_, ok = l.Reserve(provider.DeepSeek)
	assert.True(t, ok)
}

func TestLimiter_StartOfDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	l := New(nil, loc, 1)

	got := l.StartOfDay(time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, loc), got)
}

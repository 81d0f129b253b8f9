package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/ratelimit"
)

type fakeQuota struct {
	quota *gist.RateLimit
	err   error
	calls int
}

func (f *fakeQuota) RateLimit(context.Context, string) (*gist.RateLimit, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quota, nil
}

func TestGuard_RefusesWhenExhausted(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Minute)
	fetcher := &fakeQuota{quota: &gist.RateLimit{Limit: 5000, Remaining: 0, ResetAt: resetAt}}
	g := ratelimit.NewGuard(fetcher)

	invoked := false
	err := g.Do(context.Background(), "tok", func(context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked, "fn must never run with zero remaining quota")
	typed, ok := apperrors.AsRateLimitExceeded(err)
	require.True(t, ok)
	assert.Equal(t, resetAt, typed.ResetAt)
}

func TestGuard_InvokesWhenQuotaRemains(t *testing.T) {
	// Any remaining > 0 admits the call, across the full range of limits.
	for _, limit := range []int{1, 60, 5000} {
		fetcher := &fakeQuota{quota: &gist.RateLimit{Limit: limit, Remaining: 1}}
		g := ratelimit.NewGuard(fetcher)

		invoked := false
		err := g.Do(context.Background(), "tok", func(context.Context) error {
			invoked = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, invoked, "fn must run with remaining quota (limit %d)", limit)
	}
}

func TestGuard_PropagatesRequestError(t *testing.T) {
	fetcher := &fakeQuota{quota: &gist.RateLimit{Limit: 5000, Remaining: 4000}}
	g := ratelimit.NewGuard(fetcher)

	wantErr := errors.New("upstream broke")
	err := g.Do(context.Background(), "tok", func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestGuard_PropagatesQuotaError(t *testing.T) {
	fetcher := &fakeQuota{err: errors.New("quota endpoint down")}
	g := ratelimit.NewGuard(fetcher)

	err := g.Do(context.Background(), "tok", func(context.Context) error {
		t.Fatal("fn must not run when the quota check fails")
		return nil
	})
	assert.Error(t, err)
}

func TestGuard_QuotaSnapshot(t *testing.T) {
	resetAt := time.Now().Add(time.Hour)
	fetcher := &fakeQuota{quota: &gist.RateLimit{Limit: 5000, Remaining: 4999, ResetAt: resetAt}}
	g := ratelimit.NewGuard(fetcher)

	quota, err := g.Quota(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 5000, quota.Limit)
	assert.Equal(t, 4999, quota.Remaining)
	assert.Equal(t, resetAt, quota.ResetAt)
}

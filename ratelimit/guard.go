// Package ratelimit blocks a call before it is made when the upstream
// quota is already spent, instead of burning the last requests on failures.
package ratelimit

import (
	"context"

	"golang.org/x/sync/singleflight"

	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/log"
)

// QuotaFetcher queries the upstream quota endpoint.
type QuotaFetcher interface {
	RateLimit(ctx context.Context, token string) (*gist.RateLimit, error)
}

// Guard checks the remaining quota before invoking a request. Concurrent
// quota checks are deduplicated with singleflight so the check itself does
// not multiply traffic.
type Guard struct {
	fetcher QuotaFetcher
	logger  log.Logger
	group   singleflight.Group
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger sets a custom logger.
func WithLogger(logger log.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard creates a guard querying quota through fetcher.
func NewGuard(fetcher QuotaFetcher, opts ...Option) *Guard {
	g := &Guard{
		fetcher: fetcher,
		logger:  log.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Quota returns the current upstream quota snapshot.
func (g *Guard) Quota(ctx context.Context, token string) (*gist.RateLimit, error) {
	result, err, _ := g.group.Do("quota", func() (any, error) {
		return g.fetcher.RateLimit(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return result.(*gist.RateLimit), nil
}

// Do checks the quota and invokes fn only when requests remain. When the
// quota is exhausted it fails with RateLimitExceededError carrying the
// reset time and never invokes fn. A warning is logged when under 10% of
// the quota remains, as an early signal for callers that poll frequently.
func (g *Guard) Do(ctx context.Context, token string, fn func(ctx context.Context) error) error {
	quota, err := g.Quota(ctx, token)
	if err != nil {
		return err
	}

	if quota.Remaining == 0 {
		g.logger.Warn(ctx, "rate limit exhausted, refusing request", map[string]any{
			"reset_at": quota.ResetAt,
		})
		return apperrors.NewRateLimitExceeded(quota.ResetAt)
	}

	if quota.Limit > 0 && quota.Remaining*10 < quota.Limit {
		g.logger.Warn(ctx, "rate limit running low", map[string]any{
			"remaining": quota.Remaining,
			"limit":     quota.Limit,
			"reset_at":  quota.ResetAt,
		})
	}

	return fn(ctx)
}

// Package cache memoizes list-fetch results per authenticated identity. It
// shields the rate-limited upstream from redundant fetches three ways: a
// freshness window, a minimum-retry cooldown, and collapsing of concurrent
// in-flight fetches into one request.
package cache

import (
	"context"
	"sync"
	"time"

	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/log"
)

// DefaultTTL is the freshness window of a cached result.
const DefaultTTL = 60 * time.Second

// DefaultCooldown is the minimum interval between re-fetch attempts,
// independent of the TTL. It throttles bursts from rapid UI re-renders.
const DefaultCooldown = 5 * time.Second

// Lister pages through the upstream list endpoint. The gist client
// implements it.
type Lister interface {
	ListGists(ctx context.Context, token string, page, perPage int) ([]gist.Gist, error)
}

// entry is the cached state for one (credential, sub-identity) pair.
type entry struct {
	data      []gist.Gist
	fetchedAt time.Time
	inFlight  bool
	ownerID   string
}

// GistCache is the identity-scoped response cache. All entry mutation
// happens inside the cache under its mutex; callers only read results and
// invalidate by key.
type GistCache struct {
	mu      sync.Mutex
	entries map[string]*entry

	lister   Lister
	ttl      time.Duration
	cooldown time.Duration
	perPage  int
	logger   log.Logger
	now      func() time.Time
}

// Option configures the GistCache.
type Option func(*GistCache)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *GistCache) {
		c.ttl = ttl
	}
}

// WithCooldown overrides the minimum re-fetch interval.
func WithCooldown(cooldown time.Duration) Option {
	return func(c *GistCache) {
		c.cooldown = cooldown
	}
}

// WithPerPage overrides the upstream page size.
func WithPerPage(perPage int) Option {
	return func(c *GistCache) {
		c.perPage = perPage
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger log.Logger) Option {
	return func(c *GistCache) {
		c.logger = logger
	}
}

// WithClock sets the time source, used by tests to age entries.
func WithClock(now func() time.Time) Option {
	return func(c *GistCache) {
		c.now = now
	}
}

// New creates a cache fetching through lister.
func New(lister Lister, opts ...Option) *GistCache {
	c := &GistCache{
		entries:  make(map[string]*entry),
		lister:   lister,
		ttl:      DefaultTTL,
		cooldown: DefaultCooldown,
		perPage:  gist.DefaultPerPage,
		logger:   log.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the gist list for the given credential and sub-identity,
// from cache when possible. The credential is mandatory: an anonymous
// cache key would be shared across all unauthenticated callers and could
// leak data across identities once one of them logs in.
//
// The read-check-mark sequence runs under the mutex, so of N concurrent
// callers for the same key at most one performs the network fetch; the
// rest are served the last known data immediately.
func (c *GistCache) Fetch(ctx context.Context, credential, subIdentity string) ([]gist.Gist, error) {
	if credential == "" {
		return nil, apperrors.NewAuthenticationRequired("gist list fetch")
	}

	key := Key(credential, subIdentity)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.ownerID != subIdentity {
		// A stale key somehow reused by another identity. Never serve it.
		delete(c.entries, key)
		e, ok = nil, false
	}

	now := c.now()
	if ok {
		if e.data != nil && now.Sub(e.fetchedAt) < c.ttl {
			data := e.data
			c.mu.Unlock()
			c.logger.Debug(ctx, "gist cache hit", map[string]any{"owner": subIdentity})
			return data, nil
		}
		if e.inFlight {
			data := e.data
			c.mu.Unlock()
			c.logger.Debug(ctx, "gist fetch already in flight, serving last known data", map[string]any{"owner": subIdentity})
			return data, nil
		}
		if now.Sub(e.fetchedAt) < c.cooldown {
			data := e.data
			c.mu.Unlock()
			c.logger.Debug(ctx, "gist fetch within cooldown, serving last known data", map[string]any{"owner": subIdentity})
			return data, nil
		}
	} else {
		e = &entry{ownerID: subIdentity}
		c.entries[key] = e
	}
	e.inFlight = true
	c.mu.Unlock()

	data, err := c.fetchAll(ctx, credential)

	c.mu.Lock()
	defer c.mu.Unlock()
	// The entry may have been invalidated while the fetch ran; clearing
	// inFlight on the looked-up entry keeps a failed or slow fetch from
	// wedging whatever is there now.
	if cur, stillThere := c.entries[key]; stillThere {
		cur.inFlight = false
		if err == nil {
			cur.data = data
			cur.fetchedAt = c.now()
			cur.ownerID = subIdentity
		}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// fetchAll pages through the list endpoint until a short page signals the
// end, accumulating everything into one result.
func (c *GistCache) fetchAll(ctx context.Context, credential string) ([]gist.Gist, error) {
	var all []gist.Gist
	for page := 1; ; page++ {
		gists, err := c.lister.ListGists(ctx, credential, page, c.perPage)
		if err != nil {
			return nil, err
		}
		all = append(all, gists...)
		if len(gists) < c.perPage {
			break
		}
	}
	return all, nil
}

// Invalidate removes the entry for one (credential, sub-identity) pair.
// Callers use it after a mutation so the next read refetches.
func (c *GistCache) Invalidate(credential, subIdentity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key(credential, subIdentity))
}

// InvalidateAll clears every entry. Wired to the session-ended
// notification, so no entry of a logged-out identity survives into the
// next login.
func (c *GistCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len returns the number of live entries.
func (c *GistCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

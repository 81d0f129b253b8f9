// Package gistvault is the authenticated, rate-aware data-access layer of
// the gist manager. It wires the OAuth flow, the session lifecycle, the
// identity-scoped response cache, and the rate limit guard into the one
// surface the UI consumes.
package gistvault

import (
	"context"
	"sync"

	"go.pilab.hu/gistvault/cache"
	"go.pilab.hu/gistvault/config"
	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/log"
	"go.pilab.hu/gistvault/oauth"
	"go.pilab.hu/gistvault/ratelimit"
	"go.pilab.hu/gistvault/session"
	"go.pilab.hu/gistvault/store"
)

// Manager is the explicitly constructed root object of the layer. Tests
// and embedders create isolated instances instead of sharing hidden
// process state.
type Manager struct {
	cfg      *config.Config
	store    store.Store
	logger   log.Logger
	client   *gist.Client
	sessions *session.Manager
	cache    *cache.GistCache
	guard    *ratelimit.Guard
	flow     *oauth.Flow

	mu          sync.Mutex
	currentUser string
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger for the manager and every component it
// constructs.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New wires the data-access layer on top of the given credential store.
func New(cfg *config.Config, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  st,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.client = gist.NewClient(cfg.APIBaseURL, gist.WithLogger(m.logger))
	m.sessions = session.NewManager(st, cfg.SessionTTL(), cfg.RefreshThreshold(),
		session.WithLogger(m.logger))
	m.guard = ratelimit.NewGuard(m.client, ratelimit.WithLogger(m.logger))
	// The guard sits between the cache and the client: cache hits never
	// spend quota, only actual fetches are checked.
	m.cache = cache.New(&guardedLister{guard: m.guard, client: m.client},
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithCooldown(cfg.CacheCooldown()),
		cache.WithLogger(m.logger))
	m.flow = oauth.NewFlow(oauth.Config{
		ClientID:      cfg.GithubClientID,
		RedirectURL:   cfg.RedirectURL,
		AuthBaseURL:   cfg.AuthBaseURL,
		TokenProxyURL: cfg.TokenProxyURL,
	}, st, m.sessions, m.client, oauth.WithLogger(m.logger))

	// A session that ends for any reason must take every cached result
	// with it.
	m.sessions.OnSessionEnded(m.cache.InvalidateAll)
	m.sessions.OnSessionEnded(func() {
		m.mu.Lock()
		m.currentUser = ""
		m.mu.Unlock()
	})

	return m
}

// Sessions exposes the session manager, e.g. for UI authentication checks.
func (m *Manager) Sessions() *session.Manager {
	return m.sessions
}

// Login starts the OAuth handshake and returns the authorization URL to
// navigate to.
func (m *Manager) Login(ctx context.Context, scopes []string) (string, error) {
	return m.flow.BeginLogin(ctx, scopes)
}

// CompleteLogin handles the OAuth callback and finishes the handshake.
func (m *Manager) CompleteLogin(ctx context.Context, code, state string) (*oauth.Result, error) {
	result, err := m.flow.HandleCallback(ctx, code, state)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.currentUser = result.User.Login
	m.mu.Unlock()
	return result, nil
}

// Logout ends the session, clears the credential store, and purges the
// cache through the session-ended fan-out.
func (m *Manager) Logout(ctx context.Context) error {
	return m.sessions.Logout(ctx)
}

// guardedLister is the cache's path to the upstream: every real fetch
// passes the rate limit guard first.
type guardedLister struct {
	guard  *ratelimit.Guard
	client *gist.Client
}

func (g *guardedLister) ListGists(ctx context.Context, token string, page, perPage int) ([]gist.Gist, error) {
	var out []gist.Gist
	err := g.guard.Do(ctx, token, func(ctx context.Context) error {
		var callErr error
		out, callErr = g.client.ListGists(ctx, token, page, perPage)
		return callErr
	})
	return out, err
}

// ListGists returns the authenticated user's gists, cached per identity.
func (m *Manager) ListGists(ctx context.Context) ([]gist.Gist, error) {
	token, owner, err := m.authContext(ctx)
	if err != nil {
		return nil, err
	}

	gists, err := m.cache.Fetch(ctx, token, owner)
	if err != nil {
		return nil, m.handleUpstreamError(ctx, err)
	}
	return gists, nil
}

// CreateGist creates a gist and invalidates the cached list.
func (m *Manager) CreateGist(ctx context.Context, input *gist.GistInput) (*gist.Gist, error) {
	token, owner, err := m.authContext(ctx)
	if err != nil {
		return nil, err
	}

	var created *gist.Gist
	err = m.guard.Do(ctx, token, func(ctx context.Context) error {
		var callErr error
		created, callErr = m.client.CreateGist(ctx, token, input)
		return callErr
	})
	if err != nil {
		return nil, m.handleUpstreamError(ctx, err)
	}
	m.cache.Invalidate(token, owner)
	return created, nil
}

// UpdateGist updates a gist and invalidates the cached list.
func (m *Manager) UpdateGist(ctx context.Context, id string, input *gist.GistInput) (*gist.Gist, error) {
	token, owner, err := m.authContext(ctx)
	if err != nil {
		return nil, err
	}

	var updated *gist.Gist
	err = m.guard.Do(ctx, token, func(ctx context.Context) error {
		var callErr error
		updated, callErr = m.client.UpdateGist(ctx, token, id, input)
		return callErr
	})
	if err != nil {
		return nil, m.handleUpstreamError(ctx, err)
	}
	m.cache.Invalidate(token, owner)
	return updated, nil
}

// DeleteGist deletes a gist and invalidates the cached list.
func (m *Manager) DeleteGist(ctx context.Context, id string) error {
	token, owner, err := m.authContext(ctx)
	if err != nil {
		return err
	}

	err = m.guard.Do(ctx, token, func(ctx context.Context) error {
		return m.client.DeleteGist(ctx, token, id)
	})
	if err != nil {
		return m.handleUpstreamError(ctx, err)
	}
	m.cache.Invalidate(token, owner)
	return nil
}

// Quota returns the current upstream rate limit snapshot.
func (m *Manager) Quota(ctx context.Context) (*gist.RateLimit, error) {
	token := m.sessions.Token()
	if token == "" {
		return nil, apperrors.NewAuthenticationRequired("quota check")
	}
	quota, err := m.guard.Quota(ctx, token)
	if err != nil {
		return nil, m.handleUpstreamError(ctx, err)
	}
	return quota, nil
}

// authContext resolves the credential and sub-identity for an operation,
// renewing the session lifetime on the way when it is close to expiry.
func (m *Manager) authContext(ctx context.Context) (token, owner string, err error) {
	if !m.sessions.IsAuthenticated() {
		return "", "", apperrors.NewAuthenticationRequired("gist operation")
	}
	m.sessions.RefreshIfNeeded(ctx)

	m.mu.Lock()
	owner = m.currentUser
	m.mu.Unlock()
	return m.sessions.Token(), owner, nil
}

// handleUpstreamError forces a logout when the upstream declared the
// credential invalid: the token is permanently unusable, not rate-limited.
func (m *Manager) handleUpstreamError(ctx context.Context, err error) error {
	if apperrors.IsInvalidCredential(err) {
		m.logger.Warn(ctx, "forcing logout after invalid-credential response")
		_ = m.sessions.EndSession(ctx)
	}
	return err
}

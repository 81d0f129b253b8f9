// Package session owns the authenticated session record: issuance after a
// successful exchange, the expiry check, silent renewal, and the teardown
// fan-out every stateful consumer subscribes to.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.pilab.hu/gistvault/log"
	"go.pilab.hu/gistvault/store"
)

// Session represents an authenticated identity. The JSON tags match the
// persisted layout under the gist_manager_session key.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiration"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager is the single writer of the session record. It persists the
// session through the credential store and notifies subscribers when the
// session ends, so a logged-out identity can never leak into the next one.
type Manager struct {
	mu          sync.Mutex
	store       store.Store
	validity    time.Duration
	threshold   time.Duration
	logger      log.Logger
	now         func() time.Time
	session     *Session
	subscribers []func()
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock sets the time source. Tests use it to walk sessions across the
// expiry boundary.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager persisting through st. validity is
// the full session window (24h in the default configuration); threshold is
// the remaining lifetime under which RefreshIfNeeded renews.
// An existing persisted session is restored, so a page reload within the
// window stays logged in.
func NewManager(st store.Store, validity, threshold time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		validity:  validity,
		threshold: threshold,
		logger:    log.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m
}

func (m *Manager) restore() {
	raw, ok := m.store.Get(context.Background(), store.KeySession)
	if !ok {
		return
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// A corrupt record is unusable, drop it.
		_ = m.store.Remove(context.Background(), store.KeySession)
		return
	}
	m.session = &sess
}

// Begin issues a new session for the given access token and persists it.
// Only the OAuth flow controller calls this, after a successful exchange.
func (m *Manager) Begin(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := &Session{
		Token:     token,
		ExpiresAt: now.Add(m.validity),
		CreatedAt: now,
	}
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, store.KeyGithubToken, token); err != nil {
		return nil, err
	}
	m.session = sess

	m.logger.Info(ctx, "session issued", map[string]any{
		"expires_at": sess.ExpiresAt,
	})
	return sess, nil
}

func (m *Manager) persist(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, store.KeySession, string(raw))
}

// Current returns the session when one exists and is still valid.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.session.ExpiresAt.After(m.now()) {
		return nil, false
	}
	sess := *m.session
	return &sess, true
}

// Token returns the bearer token of the current valid session, or "".
func (m *Manager) Token() string {
	sess, ok := m.Current()
	if !ok {
		return ""
	}
	return sess.Token
}

// IsAuthenticated reports whether a valid session exists. A session whose
// expiration has passed is never treated as valid.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.Current()
	return ok
}

// IsExpired reports whether a session exists but has timed out. Both this
// state and "never logged in" are unauthenticated; the UI distinguishes
// them.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && !m.session.ExpiresAt.After(m.now())
}

// RefreshIfNeeded extends the session by the full validity window when its
// remaining lifetime has dropped under the threshold, and reports whether a
// renewal happened. This is a local lifetime extension, not a credential
/// rotation: the underlying bearer token does not itself expire upstream.
func (m *Manager) RefreshIfNeeded(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.session == nil || !m.session.ExpiresAt.After(now) {
		return false
	}
	if m.session.ExpiresAt.Sub(now) >= m.threshold {
		return false
	}

	m.session.ExpiresAt = now.Add(m.validity)
	if err := m.persist(ctx, m.session); err != nil {
		m.logger.Error(ctx, "failed to persist renewed session", err)
		return false
	}
	m.logger.Debug(ctx, "session renewed", map[string]any{
		"expires_at": m.session.ExpiresAt,
	})
	return true
}

// OnSessionEnded registers fn to run whenever the session ends, whether by
// logout or by an invalid-credential signal from upstream. The response
// cache subscribes to purge itself.
func (m *Manager) OnSessionEnded(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Logout destroys the session, clears the entire credential store
// (including any residual handshake state), and notifies subscribers.
func (m *Manager) Logout(ctx context.Context) error {
	return m.end(ctx, "logout")
}

// EndSession is the forced variant of Logout, invoked when the upstream
// rejects the credential. Same teardown, different log line.
func (m *Manager) EndSession(ctx context.Context) error {
	return m.end(ctx, "invalid credential")
}

func (m *Manager) end(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.session = nil
	err := m.store.Clear(ctx)
	subscribers := make([]func(), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	// Notify outside the lock: a subscriber may call back into the manager.
	for _, fn := range subscribers {
		fn()
	}

	if err != nil {
		m.logger.Error(ctx, "failed to clear credential store", err, map[string]any{"reason": reason})
		return err
	}
	m.logger.Info(ctx, "session ended", map[string]any{"reason": reason})
	return nil
}

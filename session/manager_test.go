package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/gistvault/session"
	"go.pilab.hu/gistvault/store"
)

const (
	validity  = 24 * time.Hour
	threshold = time.Hour
)

// fixedClock lets tests walk a session across the expiry boundary.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func newManager(t *testing.T) (*session.Manager, *store.MemoryStore, *fixedClock) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	clock := &fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	m := session.NewManager(st, validity, threshold, session.WithClock(clock.Now))
	return m, st, clock
}

func TestManager_NeverLoggedIn(t *testing.T) {
	m, _, _ := newManager(t)
	assert.False(t, m.IsAuthenticated())
	assert.False(t, m.IsExpired())
	assert.Empty(t, m.Token())
}

func TestManager_BeginIssuesValidSession(t *testing.T) {
	ctx := context.Background()
	m, st, clock := newManager(t)

	sess, err := m.Begin(ctx, "ghp_token")
	require.NoError(t, err)
	assert.Equal(t, clock.now, sess.CreatedAt)
	assert.Equal(t, clock.now.Add(validity), sess.ExpiresAt)

	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, "ghp_token", m.Token())

	// Both the session record and the raw token are persisted.
	_, ok := st.Get(ctx, store.KeySession)
	assert.True(t, ok)
	tok, ok := st.Get(ctx, store.KeyGithubToken)
	require.True(t, ok)
	assert.Equal(t, "ghp_token", tok)
}

func TestManager_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)

	_, err := m.Begin(ctx, "tok")
	require.NoError(t, err)

	// 1ms before the boundary: still valid.
	clock.now = clock.now.Add(validity - time.Millisecond)
	assert.True(t, m.IsAuthenticated())
	assert.False(t, m.IsExpired())

	// Exactly at expiration: no longer valid.
	clock.now = clock.now.Add(time.Millisecond)
	assert.False(t, m.IsAuthenticated())
	assert.True(t, m.IsExpired())
}

func TestManager_RestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	clock := &fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	first := session.NewManager(st, validity, threshold, session.WithClock(clock.Now))
	_, err := first.Begin(ctx, "tok")
	require.NoError(t, err)

	second := session.NewManager(st, validity, threshold, session.WithClock(clock.Now))
	assert.True(t, second.IsAuthenticated())
	assert.Equal(t, "tok", second.Token())
}

func TestManager_RefreshIfNeeded(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)

	_, err := m.Begin(ctx, "tok")
	require.NoError(t, err)

	// Plenty of lifetime left: no renewal.
	assert.False(t, m.RefreshIfNeeded(ctx))

	// Under one hour remaining: renewed by the full window.
	clock.now = clock.now.Add(validity - 30*time.Minute)
	assert.True(t, m.RefreshIfNeeded(ctx))

	sess, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(validity), sess.ExpiresAt)

	// An expired session is never renewed.
	clock.now = clock.now.Add(validity + time.Minute)
	assert.False(t, m.RefreshIfNeeded(ctx))
}

func TestManager_LogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)

	_, err := m.Begin(ctx, "tok")
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, store.KeyOAuthState, "residual"))

	notified := 0
	m.OnSessionEnded(func() { notified++ })

	require.NoError(t, m.Logout(ctx))

	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, 1, notified)

	// Every known storage key must be gone.
	for _, key := range []string{store.KeyOAuthState, store.KeyCodeVerifier, store.KeyGithubToken, store.KeySession} {
		_, ok := st.Get(ctx, key)
		assert.False(t, ok, "key %q survived logout", key)
	}
}

func TestManager_EndSessionNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	_, err := m.Begin(ctx, "tok")
	require.NoError(t, err)

	var order []string
	m.OnSessionEnded(func() { order = append(order, "cache") })
	m.OnSessionEnded(func() { order = append(order, "ui") })

	require.NoError(t, m.EndSession(ctx))
	assert.Equal(t, []string{"cache", "ui"}, order)
	assert.False(t, m.IsAuthenticated())
}

package gistvault_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gistvault "go.pilab.hu/gistvault"
	"go.pilab.hu/gistvault/config"
	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/store"
)

// fakeUpstream plays the authorization server, the token proxy, and the
// gist API in one httptest server.
type fakeUpstream struct {
	mu        sync.Mutex
	listCalls int
	remaining int
	reject401 bool
	gists     []gist.Gist
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "gho_test"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1, "login": "octocat"}`))
	})
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		remaining := f.remaining
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"rate": {"limit": 5000, "remaining": %d, "reset": %d}}`,
			remaining, time.Now().Add(time.Hour).Unix())
	})
	mux.HandleFunc("/gists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.reject401 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.listCalls++
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("page") == "1" {
				_ = json.NewEncoder(w).Encode(f.gists)
			} else {
				_, _ = w.Write([]byte(`[]`))
			}
		case http.MethodPost:
			created := gist.Gist{ID: fmt.Sprintf("g%d", len(f.gists)+1)}
			f.gists = append(f.gists, created)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(created)
		}
	})

	return mux
}

func (f *fakeUpstream) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func newManager(t *testing.T) (*gistvault.Manager, *fakeUpstream, *store.MemoryStore) {
	t.Helper()
	upstream := &fakeUpstream{
		remaining: 4999,
		gists:     []gist.Gist{{ID: "g1", Description: "existing"}},
	}
	server := httptest.NewServer(upstream.handler())
	t.Cleanup(server.Close)

	cfg := &config.Config{
		GithubClientID:      "client-id",
		RedirectURL:         "https://gists.example.com/callback",
		AuthBaseURL:         server.URL,
		APIBaseURL:          server.URL,
		TokenProxyURL:       server.URL + "/api/auth/token",
		SessionTTLHour:      24,
		RefreshThresholdMin: 60,
		CacheTTLSec:         60,
		CacheCooldownSec:    5,
	}

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return gistvault.New(cfg, st), upstream, st
}

func login(t *testing.T, m *gistvault.Manager, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	_, err := m.Login(ctx, []string{"gist"})
	require.NoError(t, err)
	state, ok := st.Get(ctx, store.KeyOAuthState)
	require.True(t, ok)
	result, err := m.CompleteLogin(ctx, "auth-code", state)
	require.NoError(t, err)
	require.Equal(t, "octocat", result.User.Login)
}

func TestManager_ListRequiresLogin(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.ListGists(context.Background())
	assert.True(t, apperrors.IsAuthenticationRequired(err))
}

func TestManager_LoginThenListIsCached(t *testing.T) {
	ctx := context.Background()
	m, upstream, st := newManager(t)
	login(t, m, st)
	require.True(t, m.Sessions().IsAuthenticated())

	first, err := m.ListGists(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, upstream.listCallCount())

	// The second read is served from the identity-scoped cache.
	second, err := m.ListGists(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, upstream.listCallCount())
}

func TestManager_CreateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	m, upstream, st := newManager(t)
	login(t, m, st)

	_, err := m.ListGists(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.listCallCount())

	_, err = m.CreateGist(ctx, &gist.GistInput{Description: "new"})
	require.NoError(t, err)

	// The mutation busted the cache: the next list goes upstream and sees
	// the new gist.
	after, err := m.ListGists(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, 2, upstream.listCallCount())
}

func TestManager_RateLimitBlocksCall(t *testing.T) {
	ctx := context.Background()
	m, upstream, st := newManager(t)
	login(t, m, st)

	upstream.mu.Lock()
	upstream.remaining = 0
	upstream.mu.Unlock()

	_, err := m.ListGists(ctx)
	typed, ok := apperrors.AsRateLimitExceeded(err)
	require.True(t, ok)
	assert.False(t, typed.ResetAt.IsZero())
	assert.Equal(t, 0, upstream.listCallCount(), "list endpoint must not be hit with zero quota")
}

func TestManager_InvalidCredentialForcesLogout(t *testing.T) {
	ctx := context.Background()
	m, upstream, st := newManager(t)
	login(t, m, st)

	upstream.mu.Lock()
	upstream.reject401 = true
	upstream.mu.Unlock()

	_, err := m.ListGists(ctx)
	assert.True(t, apperrors.IsInvalidCredential(err))

	// The 401 ended the session and emptied the store.
	assert.False(t, m.Sessions().IsAuthenticated())
	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManager_LogoutLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	m, _, st := newManager(t)
	login(t, m, st)

	_, err := m.ListGists(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx))
	assert.False(t, m.Sessions().IsAuthenticated())

	for _, key := range []string{store.KeyOAuthState, store.KeyCodeVerifier, store.KeyGithubToken, store.KeySession} {
		_, ok := st.Get(ctx, key)
		assert.False(t, ok, "key %q survived logout", key)
	}

	// A list after logout is an authentication error, not a stale serve.
	_, err = m.ListGists(ctx)
	assert.True(t, apperrors.IsAuthenticationRequired(err))
}

func TestManager_Quota(t *testing.T) {
	ctx := context.Background()
	m, _, st := newManager(t)

	_, err := m.Quota(ctx)
	assert.True(t, apperrors.IsAuthenticationRequired(err))

	login(t, m, st)
	quota, err := m.Quota(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5000, quota.Limit)
	assert.Equal(t, 4999, quota.Remaining)
}

// Package oauth drives the Authorization-Code-with-PKCE handshake: building
// the authorization redirect, validating the callback, and exchanging the
// code through the same-origin token proxy.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/gist"
	"go.pilab.hu/gistvault/log"
	"go.pilab.hu/gistvault/pkce"
	"go.pilab.hu/gistvault/session"
	"go.pilab.hu/gistvault/store"
)

// FlowState tracks where a handshake currently is. Failed is terminal; a
// fresh BeginLogin starts over from Idle.
type FlowState string

const (
	FlowIdle                 FlowState = "idle"
	FlowPendingAuthorization FlowState = "pending_authorization"
	FlowValidating           FlowState = "validating"
	FlowExchanging           FlowState = "exchanging"
	FlowAuthenticated        FlowState = "authenticated"
	FlowFailed               FlowState = "failed"
)

// Stored handshake state that outlives its flow is garbage; expire it.
const handshakeTTL = 10 * time.Minute

// Config holds the static parameters of the handshake.
type Config struct {
	ClientID    string
	RedirectURL string
	// AuthBaseURL is the authorization server origin, e.g.
	// "https://github.com".
	AuthBaseURL string
	// TokenProxyURL is the trusted same-origin endpoint that performs the
	// actual code exchange. The authorization server's token endpoint does
	// not accept direct browser calls.
	TokenProxyURL string
}

// UserFetcher fetches the identity profile that completes the flow.
type UserFetcher interface {
	User(ctx context.Context, token string) (*gist.User, error)
}

// Result is what a completed handshake hands back to the UI.
type Result struct {
	AccessToken string
	User        *gist.User
}

// Flow is the controller for one login at a time. It persists its transient
// handshake state (CSRF state, code verifier) in the credential store and
// erases both on the first callback, successful or not.
type Flow struct {
	cfg        Config
	store      store.Store
	sessions   *session.Manager
	users      UserFetcher
	httpClient *http.Client
	logger     log.Logger
	state      FlowState
}

// Option configures the Flow.
type Option func(*Flow)

// WithLogger sets a custom logger.
func WithLogger(logger log.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithHTTPClient sets the client used for the token proxy call.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = httpClient
	}
}

// NewFlow creates a flow controller.
func NewFlow(cfg Config, st store.Store, sessions *session.Manager, users UserFetcher, opts ...Option) *Flow {
	f := &Flow{
		cfg:        cfg,
		store:      st,
		sessions:   sessions,
		users:      users,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Nop(),
		state:      FlowIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current flow state.
func (f *Flow) State() FlowState {
	return f.state
}

// BeginLogin generates the handshake material, persists it, and returns the
// authorization URL the user must be sent to. scopes may be nil.
func (f *Flow) BeginLogin(ctx context.Context, scopes []string) (string, error) {
	if f.cfg.ClientID == "" {
		return "", apperrors.NewConfiguration("client id")
	}
	if f.cfg.RedirectURL == "" {
		return "", apperrors.NewConfiguration("redirect url")
	}

	state, err := pkce.GenerateState()
	if err != nil {
		return "", err
	}
	verifier, err := pkce.GenerateCodeVerifier()
	if err != nil {
		return "", err
	}
	challenge := pkce.GenerateCodeChallenge(verifier)

	if err := f.store.SetTTL(ctx, store.KeyOAuthState, state, handshakeTTL); err != nil {
		return "", fmt.Errorf("failed to persist oauth state: %w", err)
	}
	if err := f.store.SetTTL(ctx, store.KeyCodeVerifier, verifier, handshakeTTL); err != nil {
		return "", fmt.Errorf("failed to persist code verifier: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    f.cfg.ClientID,
		RedirectURL: f.cfg.RedirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: f.cfg.AuthBaseURL + "/login/oauth/authorize",
		},
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	f.state = FlowPendingAuthorization
	f.logger.Info(ctx, "login initiated", map[string]any{
		"flow_id": uuid.NewString(),
		"scopes":  scopes,
	})
	return authURL, nil
}

// HandleCallback validates the authorization callback and completes the
// handshake. The stored state and verifier are cleared before validation
// even starts, so a replayed callback can never succeed.
func (f *Flow) HandleCallback(ctx context.Context, code, returnedState string) (*Result, error) {
	f.state = FlowValidating

	storedState, haveState := f.store.Get(ctx, store.KeyOAuthState)
	verifier, haveVerifier := f.store.Get(ctx, store.KeyCodeVerifier)

	// Single-use, regardless of outcome.
	_ = f.store.Remove(ctx, store.KeyOAuthState)
	_ = f.store.Remove(ctx, store.KeyCodeVerifier)

	if !haveState || storedState != returnedState {
		f.state = FlowFailed
		f.logger.Warn(ctx, "oauth callback rejected, state mismatch")
		return nil, apperrors.NewCsrf()
	}
	if !haveVerifier || verifier == "" {
		f.state = FlowFailed
		f.logger.Warn(ctx, "oauth callback rejected, verifier missing")
		return nil, apperrors.NewHandshakeIncomplete()
	}

	f.state = FlowExchanging
	token, err := f.exchange(ctx, code, verifier)
	if err != nil {
		f.state = FlowFailed
		return nil, err
	}

	if _, err := f.sessions.Begin(ctx, token); err != nil {
		f.state = FlowFailed
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	user, err := f.users.User(ctx, token)
	if err != nil {
		f.state = FlowFailed
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	f.state = FlowAuthenticated
	f.logger.Info(ctx, "login completed", map[string]any{
		"user": user.Login,
	})
	return &Result{AccessToken: token, User: user}, nil
}

// exchange trades the authorization code plus verifier for an access token
// through the token proxy.
func (f *Flow) exchange(ctx context.Context, code, verifier string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"code":          code,
		"code_verifier": verifier,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenProxyURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	if body.ErrorCode != "" {
		return "", apperrors.NewTokenExchange(body.ErrorCode, body.ErrorDescription)
	}
	if body.AccessToken == "" {
		return "", apperrors.NewTokenExchange("invalid_response", "response contained no access token")
	}
	return body.AccessToken, nil
}

// Package gist is the thin HTTP wrapper around the upstream gist API. It
// carries no caching and no session logic; it maps a 401 to
// InvalidCredentialError so the layers above can end the session.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "go.pilab.hu/gistvault/errors"
	"go.pilab.hu/gistvault/log"
)

// DefaultPerPage is the page size used when paging through the list
// endpoint.
const DefaultPerPage = 100

const defaultTimeout = 30 * time.Second

// User is the authenticated identity as reported by the upstream.
type User struct {
	ID        json.Number `json:"id"`
	Login     string      `json:"login"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatar_url"`
}

// File is a single file inside a gist.
type File struct {
	Filename string `json:"filename"`
	Type     string `json:"type,omitempty"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// Gist is one gist as returned by the upstream list and mutation calls.
type Gist struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Public      bool            `json:"public"`
	HTMLURL     string          `json:"html_url,omitempty"`
	Files       map[string]File `json:"files"`
	Owner       *User           `json:"owner,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// GistInput is the payload for create and update calls.
type GistInput struct {
	Description string          `json:"description,omitempty"`
	Public      bool            `json:"public"`
	Files       map[string]File `json:"files"`
}

// RateLimit is the read-only quota snapshot from the upstream.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Client talks to the upstream gist API. All methods take the bearer token
// explicitly; the client itself holds no credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new gist API client for the given base URL, e.g.
// "https://api.github.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User fetches the profile of the token's owner.
func (c *Client) User(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListGists fetches one page of the authenticated user's gists. A page
// shorter than perPage means it was the last one.
func (c *Client) ListGists(ctx context.Context, token string, page, perPage int) ([]Gist, error) {
	path := fmt.Sprintf("/gists?per_page=%d&page=%d", perPage, page)
	var gists []Gist
	if err := c.do(ctx, http.MethodGet, path, token, nil, &gists); err != nil {
		return nil, err
	}
	return gists, nil
}

// CreateGist creates a new gist.
func (c *Client) CreateGist(ctx context.Context, token string, input *GistInput) (*Gist, error) {
	var created Gist
	if err := c.do(ctx, http.MethodPost, "/gists", token, input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateGist updates an existing gist.
func (c *Client) UpdateGist(ctx context.Context, token, id string, input *GistInput) (*Gist, error) {
	var updated Gist
	if err := c.do(ctx, http.MethodPatch, "/gists/"+id, token, input, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteGist deletes a gist.
func (c *Client) DeleteGist(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/gists/"+id, token, nil, nil)
}

// RateLimit fetches the current quota snapshot.
func (c *Client) RateLimit(ctx context.Context, token string) (*RateLimit, error) {
	var payload struct {
		Rate struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"rate"`
	}
	if err := c.do(ctx, http.MethodGet, "/rate_limit", token, nil, &payload); err != nil {
		return nil, err
	}
	return &RateLimit{
		Limit:     payload.Rate.Limit,
		Remaining: payload.Rate.Remaining,
		ResetAt:   time.Unix(payload.Rate.Reset, 0),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn(ctx, "upstream rejected credential", map[string]any{
			"method": method,
			"path":   path,
		})
		return apperrors.NewInvalidCredential()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, path, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// Package store is the origin-scoped credential store: a small key/value
// port behind which all persistence of the auth layer happens, so the OAuth
// and session logic can run on an in-memory fake in tests and on any
// backend in production.
package store

import (
	"context"
	"time"
)

// Well-known keys. The handshake pair is single-use and cleared after the
// callback; the remaining keys live for the session.
const (
	KeyOAuthState   = "oauth_state"
	KeyCodeVerifier = "code_verifier"
	KeyGithubToken  = "github_token"
	KeySession      = "gist_manager_session"
)

//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type Store interface {
	// Get returns the value for key, and whether it was present.
	Get(ctx context.Context, key string) (string, bool)
	// Set stores a value without expiry.
	Set(ctx context.Context, key, value string) error
	// SetTTL stores a value that expires after ttl.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Remove deletes a single key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every key. Used on logout.
	Clear(ctx context.Context) error
	// Keys lists the currently stored keys.
	Keys(ctx context.Context) ([]string, error)
}

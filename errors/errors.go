// Package errors defines the error taxonomy of the data-access layer.
// Every failure a caller can meaningfully react to has its own type, so
// callers branch with errors.As (or the Is* helpers) instead of string
// matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ConfigurationError reports a missing client identifier or redirect target.
// Login cannot even start without them.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oauth configuration incomplete: %s is not set", e.Missing)
}

func NewConfiguration(missing string) *ConfigurationError {
	return &ConfigurationError{Missing: missing}
}

// CsrfError reports an OAuth callback whose state parameter does not match
// the one stored when login began. The handshake is aborted and must be
// restarted from the beginning; retrying is never correct.
type CsrfError struct{}

func (e *CsrfError) Error() string {
	return "state mismatch in oauth callback, possible CSRF or replayed flow"
}

func NewCsrf() *CsrfError {
	return &CsrfError{}
}

// HandshakeIncompleteError reports a callback arriving without a stored
// code verifier: the handshake was interrupted or already consumed.
type HandshakeIncompleteError struct{}

func (e *HandshakeIncompleteError) Error() string {
	return "no code verifier stored, oauth handshake incomplete or replayed"
}

func NewHandshakeIncomplete() *HandshakeIncompleteError {
	return &HandshakeIncompleteError{}
}

// TokenExchangeError carries the upstream rejection of an authorization
// code, in the OAuth2 wire shape.
type TokenExchangeError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *TokenExchangeError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token exchange failed: %s", e.Code)
	}
	return fmt.Sprintf("token exchange failed: %s: %s", e.Code, e.Description)
}

func NewTokenExchange(code, description string) *TokenExchangeError {
	return &TokenExchangeError{Code: code, Description: description}
}

// AuthenticationRequiredError reports an operation that needs a credential
// being invoked without one. This is a caller bug, never retried.
type AuthenticationRequiredError struct {
	Operation string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s", e.Operation)
}

func NewAuthenticationRequired(operation string) *AuthenticationRequiredError {
	return &AuthenticationRequiredError{Operation: operation}
}

// RateLimitExceededError reports an exhausted upstream quota. ResetAt tells
// the caller when a retry may succeed; the layer itself never sleeps.
type RateLimitExceededError struct {
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exhausted, resets at %s", e.ResetAt.Format(time.RFC3339))
}

func NewRateLimitExceeded(resetAt time.Time) *RateLimitExceededError {
	return &RateLimitExceededError{ResetAt: resetAt}
}

// InvalidCredentialError reports a 401 from the upstream. The credential is
// permanently unusable: the session must end and every cache purged.
type InvalidCredentialError struct{}

func (e *InvalidCredentialError) Error() string {
	return "upstream rejected the credential (401)"
}

func NewInvalidCredential() *InvalidCredentialError {
	return &InvalidCredentialError{}
}

// Matching helpers, so callers do not need to juggle the stdlib errors
// package next to this one.

func IsCsrf(err error) bool {
	var target *CsrfError
	return stderrors.As(err, &target)
}

func IsHandshakeIncomplete(err error) bool {
	var target *HandshakeIncompleteError
	return stderrors.As(err, &target)
}

func IsTokenExchange(err error) bool {
	var target *TokenExchangeError
	return stderrors.As(err, &target)
}

func IsAuthenticationRequired(err error) bool {
	var target *AuthenticationRequiredError
	return stderrors.As(err, &target)
}

func IsRateLimitExceeded(err error) bool {
	var target *RateLimitExceededError
	return stderrors.As(err, &target)
}

func IsInvalidCredential(err error) bool {
	var target *InvalidCredentialError
	return stderrors.As(err, &target)
}

// AsRateLimitExceeded returns the typed error when err wraps one, for
// callers that need ResetAt to schedule a retry.
func AsRateLimitExceeded(err error) (*RateLimitExceededError, bool) {
	var target *RateLimitExceededError
	ok := stderrors.As(err, &target)
	return target, ok
}

// Package pkce generates the Proof Key for Code Exchange material of the
// authorization-code handshake: a random code verifier, its S256 challenge,
// and the CSRF state nonce.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const verifierLength = 32

// GenerateCodeVerifier returns a cryptographically random verifier,
// base64url encoded without padding so it is safe in URLs as-is.
func GenerateCodeVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateCodeChallenge derives the S256 challenge for a verifier. It is a
// pure function: the same verifier always yields the same challenge.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns a random hex string used to bind the authorization
// callback to the login this client initiated. Distinct purpose from the
// PKCE pair even though both are random tokens.
func GenerateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

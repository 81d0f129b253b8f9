package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key derives the cache key for a credential and sub-identity. The
// credential is hashed so the bearer token never appears as a map key; the
// sub-identity is appended outside the hash so two identities can never
// collide into one entry, whatever the hash does.
func Key(credential, subIdentity string) string {
	hasher := sha256.New()
	hasher.Write([]byte(credential))
	return hex.EncodeToString(hasher.Sum(nil)) + ":" + subIdentity
}

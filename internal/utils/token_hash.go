package utils

import (
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding of the digest
)

// HashRefreshRaw returns the SHA-256 hash of a refresh token as a hex string.
// Only this digest is persisted, so a leaked users table cannot be replayed
// against the refresh endpoint.  Equal tokens always produce equal digests,
// which keeps registry comparisons exact.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Package token provides refresh-token hashing for secure-auth.
//
// Refresh tokens are never stored in plaintext. The Session Registry keys its
// records by the hex digest produced here, so every lookup must hash the
// presented token with the same Hasher that produced the stored value.
//
// Modes:
//   - SHA-256(token) when no key is configured (dev, tests).
//   - HMAC-SHA256(token, key) when a key is configured (production).
//
// Output is always 64 lowercase hex characters.
package token

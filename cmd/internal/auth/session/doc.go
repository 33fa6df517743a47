// Package session is the session registry: the authoritative set of
// refresh-capable logins per account.
//
// A Record holds only a one-way hash of the current refresh token. Each account
// holds at most a configured number of records; inserting beyond the cap evicts
// the oldest by CreatedAt. Rotation is a compare-and-swap on the stored hash, so
// two concurrent presentations of one token cannot both rotate.
//
// Records whose ExpiresAt has elapsed are invisible to every lookup even before
// PurgeExpired physically removes them.
package session

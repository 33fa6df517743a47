// Package identity is the account store consumed by the session authority.
//
// It owns account records, roles, the last known login origin, and password
// verification. Password hashes never leave this package: callers receive
// Account values and ask the Service to verify a plaintext.
package identity

// Package password hashes and verifies account passwords.
//
// New hashes use the configured algorithm: bcrypt (default, cost 10) or
// Argon2id in a PHC-style encoding. Verify dispatches on the stored hash
// prefix, so accounts created under either algorithm keep working after the
// default changes.
//
// Hash strings are treated as untrusted input during Verify. Argon2id hashes
// whose parameters are far above the configured cost are refused.
package password

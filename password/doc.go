// Package password hashes and verifies account passwords with argon2id in
// PHC string format. Verification recomputes with the parameters embedded
// in the stored hash and compares in constant time, so parameter upgrades
// never invalidate existing credentials; NeedsRehash reports when a stored
// hash is weaker than the active configuration.
package password

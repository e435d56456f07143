// Package jwt mints and verifies the stateless access tokens issued by the
// engine. Tokens are signed (Ed25519 by default, HS256 optional) and carry
// the subject's id, email, display name, and verified flag. Verification is
// purely cryptographic plus expiry; there is no server-side record.
//
// Clock-skew leeway is zero by default and capped at 30 seconds.
package jwt

// Package authcore implements the credential and session lifecycle of an
// authentication service: password login with durable account lockout, JWT
// access tokens, rotating opaque refresh tokens, single-use password-reset and
// email-verification tokens, and CSRF state for external OAuth redirects.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserRepository] contract, and value types (LoginResult, APIError,
// MetricsSnapshot, etc.). Token encoding and rate limiting live under
// internal/ and are never exported.
//
// Durable user rows (email, password hash, failed-login counters) belong to
// the caller's [UserRepository]. Refresh sessions and one-time tokens are
// held in Redis and owned by the engine. OAuth CSRF state is process-local
// memory: when the service runs as multiple instances, state issued by one
// instance cannot be redeemed on another, so deployments behind a load
// balancer need sticky routing for the OAuth return leg.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or token encodings in its
//     public API.
//   - Parse HTTP requests or shape HTTP responses beyond the [APIError]
//     envelope.
//   - Exchange OAuth authorization codes with identity providers; callers
//     hand the engine a verified [IdentityAssertion] only.
package authcore

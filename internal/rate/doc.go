// Package rate provides the Redis-backed request throttles for login and
// refresh. These are short fixed windows that brake bursts; the durable
// per-account lockout counters live on the user row and are a separate
// mechanism.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// prefixes:
//   - al:  — login per-identifier
//   - ali: — login per-IP
//   - ar:  — refresh per-session
package rate

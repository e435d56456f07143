// Package session is the Redis-backed refresh session store. One session is
// one refresh-token lineage: the record keeps the SHA-256 of the currently
// valid refresh secret, and rotation swaps that hash with a Lua
// compare-and-set so that concurrent refreshes with the same token produce
// exactly one winner. A presented hash that does not match the stored one
// means the token was already rotated; the store deletes the session so a
// stolen-and-replayed token cannot race its successor.
//
// Expiry is enforced twice: a Redis TTL on the key, and an absolute
// expires-at field checked inside the rotation script so a stale key that
// outlives its TTL bookkeeping can never rotate.
package session

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRefreshHashMismatch means the presented refresh secret matches neither
// the stored lineage head nor its immediate predecessor: the token is forged
// or at least two rotations stale. The session is left untouched.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRefreshHashReused means the presented secret is the hash that was
// rotated out most recently: a replay of the previous refresh token. The
// session is left intact so the holder of the current token keeps working.
var ErrRefreshHashReused = errors.New("refresh hash reused")

// ErrSessionNotFound means the session does not exist (revoked or expired
// out of Redis).
var ErrSessionNotFound = errors.New("refresh session not found")

// ErrSessionExpired means the session's absolute lifetime elapsed; the
// record is deleted as a side effect.
var ErrSessionExpired = errors.New("refresh session expired")

// ErrSessionCorrupt means the stored record is missing fields.
var ErrSessionCorrupt = errors.New("refresh session corrupt")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusReuse    int64 = 4
)

// rotateRefreshScript is the single-winner CAS for refresh rotation. It
// validates existence, absolute expiry, and the presented hash, then swaps
// in the next hash without touching the key's TTL. The hash rotated out is
// kept alongside the new one, so a replay of the immediately prior token
// is reported as reuse rather than a plain mismatch. Only expiry deletes
// the record: the loser of a rotation race must not be able to revoke the
// winner's fresh token.
const rotateRefreshScript = `
local session_key = KEYS[1]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local vals = redis.call("HMGET", session_key, "uid", "rh", "xa", "ph")
local uid = vals[1]
if not uid then
  return {0}
end

local user_key = user_prefix .. uid
local expires_at = tonumber(vals[3])

if not expires_at or expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", user_key, session_id)
  return {1}
end

if vals[2] ~= provided_hash then
  if vals[4] == provided_hash then
    return {4}
  end
  return {2}
end

redis.call("HSET", session_key, "rh", next_hash, "ph", provided_hash)
local out = redis.call("HMGET", session_key, "uid", "em", "nm", "ev", "ca", "xa")
return {3, out[1], out[2], out[3], out[4], out[5], out[6]}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store persists sessions in Redis: one hash per session plus a per-user
// set of session IDs used for revoke-all.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store] backed by the given Redis client. prefix
// namespaces the session keys.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save persists a new session with the given TTL and indexes it under its
// owner.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	verified := "0"
	if sess.EmailVerified {
		verified = "1"
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.SessionID),
			"uid", sess.UserID,
			"em", sess.Email,
			"nm", sess.Name,
			"ev", verified,
			"rh", hex.EncodeToString(sess.RefreshHash[:]),
			"ca", strconv.FormatInt(sess.CreatedAt, 10),
			"xa", strconv.FormatInt(sess.ExpiresAt, 10),
		)
		pipe.PExpire(ctx, s.key(sess.SessionID), ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a session without mutating it.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	return decodeFields(sessionID, fields)
}

// RotateRefreshHash atomically replaces the stored refresh hash when the
// presented hash matches. Exactly one concurrent caller can win for a given
// providedHash; losers get [ErrRefreshHashReused] and the session, now
// keyed to the winner's hash, stays usable.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
	now time.Time,
) (*Session, error) {
	raw, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.prefix+":u:",
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		now.Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, ErrSessionCorrupt
	}

	status, ok := reply[0].(int64)
	if !ok {
		return nil, ErrSessionCorrupt
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusReuse:
		return nil, ErrRefreshHashReused
	case rotateStatusRotated:
		if len(reply) != 7 {
			return nil, ErrSessionCorrupt
		}
		sess := &Session{
			SessionID:     sessionID,
			UserID:        luaString(reply[1]),
			Email:         luaString(reply[2]),
			Name:          luaString(reply[3]),
			EmailVerified: luaString(reply[4]) == "1",
			RefreshHash:   nextHash,
		}
		sess.CreatedAt, _ = strconv.ParseInt(luaString(reply[5]), 10, 64)
		sess.ExpiresAt, _ = strconv.ParseInt(luaString(reply[6]), 10, 64)
		if sess.UserID == "" || sess.ExpiresAt == 0 {
			return nil, ErrSessionCorrupt
		}
		return sess, nil
	default:
		return nil, ErrSessionCorrupt
	}
}

// Delete revokes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	userID, err := s.redis.HGet(ctx, s.key(sessionID), "uid").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForUser revokes every session owned by userID.
//
// ATOMICITY NOTE: the member read and the deletes are separate commands. A
// session created between the two phases survives this call; it will expire
// naturally or be caught by a subsequent DeleteAllForUser. This matches the
// logout-everywhere semantics the engine needs and avoids a cluster-hostile
// multi-key script.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sessionID := range sessionIDs {
			pipe.Del(ctx, s.key(sessionID))
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// ActiveSessionCount returns the number of indexed sessions for a user.
// The index may briefly count sessions whose keys already expired.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	sess := &Session{
		SessionID:     sessionID,
		UserID:        fields["uid"],
		Email:         fields["em"],
		Name:          fields["nm"],
		EmailVerified: fields["ev"] == "1",
	}

	rh, err := hex.DecodeString(fields["rh"])
	if err != nil || len(rh) != len(sess.RefreshHash) {
		return nil, ErrSessionCorrupt
	}
	copy(sess.RefreshHash[:], rh)

	sess.CreatedAt, _ = strconv.ParseInt(fields["ca"], 10, 64)
	sess.ExpiresAt, _ = strconv.ParseInt(fields["xa"], 10, 64)
	if sess.UserID == "" || sess.ExpiresAt == 0 {
		return nil, ErrSessionCorrupt
	}

	return sess, nil
}

func luaString(v interface{}) string {
	s, _ := v.(string)
	return s
}

package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenPurpose discriminates the two one-time token flows. It is part of
// the Redis key, so a reset token can never be consumed as a verification
// token even if the values were equal.
type tokenPurpose string

const (
	purposeReset  tokenPurpose = "reset"
	purposeVerify tokenPurpose = "verify"
)

const oneTimeRecordVersionV1 = 1

var (
	errOneTimeNotFound    = errors.New("one-time token not found")
	errOneTimeMismatch    = errors.New("one-time token secret mismatch")
	errOneTimeSuperseded  = errors.New("one-time token superseded")
	errOneTimeUnavailable = errors.New("one-time token backend unavailable")
)

type oneTimeRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
}

// oneTimeStore keeps single-use tokens in Redis: one record per token plus
// a per-(user,purpose) pointer to the latest issued token ID. Issuing
// repoints the pointer, which retires every earlier unconsumed token of the
// same purpose without touching their records.
type oneTimeStore struct {
	redis redis.UniversalClient
	now   func() time.Time
}

func newOneTimeStore(client redis.UniversalClient, now func() time.Time) *oneTimeStore {
	return &oneTimeStore{redis: client, now: now}
}

func (s *oneTimeStore) key(purpose tokenPurpose, tokenID string) string {
	return "aot:" + string(purpose) + ":" + tokenID
}

func (s *oneTimeStore) pointerKey(purpose tokenPurpose, userID string) string {
	return "aotp:" + string(purpose) + ":" + userID
}

// Issue stores a fresh record and marks it as the only honored token for
// the (user, purpose) pair.
func (s *oneTimeStore) Issue(
	ctx context.Context,
	purpose tokenPurpose,
	tokenID string,
	record *oneTimeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeOneTimeRecord(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(purpose, tokenID), encoded, ttl)
		pipe.Set(ctx, s.pointerKey(purpose, record.UserID), tokenID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errOneTimeUnavailable, err)
	}

	return nil
}

// Consume atomically claims a token: it validates expiry, secret hash, and
// that the token is still the latest issued for its owner, then deletes
// record and pointer in one transaction. Under concurrent calls with the
// same token exactly one caller receives the record; the rest get
// errOneTimeNotFound.
func (s *oneTimeStore) Consume(
	ctx context.Context,
	purpose tokenPurpose,
	tokenID string,
	providedHash [32]byte,
) (*oneTimeRecord, error) {
	const maxRetries = 4
	key := s.key(purpose, tokenID)

	for i := 0; i < maxRetries; i++ {
		var claimed *oneTimeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOneTimeRecord(data)
			if err != nil {
				return err
			}

			if s.now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOneTimeNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return errOneTimeMismatch
			}

			// The owner is only known after decoding the record, so the
			// pointer joins the watch set here. Without it a concurrent
			// Issue between the pointer read and the claim commit would be
			// clobbered: the stale token consumed and the fresh token's
			// pointer deleted.
			pointerKey := s.pointerKey(purpose, record.UserID)
			if err := tx.Watch(ctx, pointerKey).Err(); err != nil {
				return err
			}
			latest, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if latest != tokenID {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOneTimeSuperseded
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, pointerKey)
				return nil
			})
			if err != nil {
				return err
			}

			claimed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errOneTimeNotFound
			case errors.Is(err, errOneTimeNotFound),
				errors.Is(err, errOneTimeMismatch),
				errors.Is(err, errOneTimeSuperseded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errOneTimeUnavailable, err)
			}
		}

		return claimed, nil
	}

	return nil, errOneTimeNotFound
}

// Restore puts a consumed record back, used when the dependent action (a
// password or verified-flag write) fails after the claim. The token must
// not be burned by an action that never happened.
func (s *oneTimeStore) Restore(
	ctx context.Context,
	purpose tokenPurpose,
	tokenID string,
	record *oneTimeRecord,
) error {
	ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.Issue(ctx, purpose, tokenID, record, ttl)
}

func encodeOneTimeRecord(record *oneTimeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(oneTimeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("one-time record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeOneTimeRecord(data []byte) (*oneTimeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != oneTimeRecordVersionV1 {
		return nil, errors.New("invalid one-time record version")
	}

	record := &oneTimeRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}

	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

package stores

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrResetNotFound means no live reset record exists for the
	// principal.
	ErrResetNotFound = errors.New("stores: reset record not found")

	// ErrResetMismatch means the submitted secret did not match the
	// stored hash. The record's attempt budget has been charged.
	ErrResetMismatch = errors.New("stores: reset secret mismatch")

	// ErrResetAttemptsExceeded means the record was burned after too many
	// mismatches.
	ErrResetAttemptsExceeded = errors.New("stores: reset attempts exceeded")
)

const resetTxRetries = 8

// resetRecord is the stored form of an issued reset token. Only the
// sha256 of the secret is persisted; a Redis dump alone cannot redeem a
// token.
type resetRecord struct {
	SecretHash []byte `json:"h"`
	ExpiresAt  int64  `json:"exp"`
	Attempts   int    `json:"att"`
}

// ResetStore keeps at most one live reset record per principal, so
// issuing a new token invalidates the previous one. Verify and Consume
// run under WATCH: concurrent redemptions of the same token cannot both
// succeed, and the attempt budget cannot be raced past.
type ResetStore struct {
	rdb         redis.UniversalClient
	prefix      string
	maxAttempts int
}

func NewResetStore(rdb redis.UniversalClient, prefix string, maxAttempts int) *ResetStore {
	if prefix == "" {
		prefix = "avr"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ResetStore{rdb: rdb, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *ResetStore) key(principalID string) string {
	return s.prefix + ":" + principalID
}

// Save installs a new reset record for the principal, replacing any
// previous one. ttl bounds both the Redis key and the embedded expiry.
func (s *ResetStore) Save(ctx context.Context, principalID string, secretHash []byte, ttl time.Duration) error {
	rec := resetRecord{
		SecretHash: secretHash,
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(principalID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Verify checks secretHash against the stored record without consuming
// it. A mismatch charges the attempt budget; exhausting the budget burns
// the record.
func (s *ResetStore) Verify(ctx context.Context, principalID string, secretHash []byte) error {
	return s.check(ctx, principalID, secretHash, false)
}

// Consume checks secretHash and deletes the record on a match, so a
// token redeems exactly once even under concurrent submissions.
func (s *ResetStore) Consume(ctx context.Context, principalID string, secretHash []byte) error {
	return s.check(ctx, principalID, secretHash, true)
}

func (s *ResetStore) check(ctx context.Context, principalID string, secretHash []byte, consume bool) error {
	key := s.key(principalID)

	for i := 0; i < resetTxRetries; i++ {
		var outcome error

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				outcome = ErrResetNotFound
				return nil
			}
			if err != nil {
				return err
			}

			var rec resetRecord
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ExpiresAt < time.Now().Unix() {
				outcome = ErrResetNotFound
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return derr
			}

			if subtle.ConstantTimeCompare(rec.SecretHash, secretHash) != 1 {
				rec.Attempts++
				if rec.Attempts >= s.maxAttempts {
					outcome = ErrResetAttemptsExceeded
					_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					return derr
				}
				outcome = ErrResetMismatch
				ttl, err := tx.TTL(ctx, key).Result()
				if err != nil || ttl <= 0 {
					ttl = time.Until(time.Unix(rec.ExpiresAt, 0))
				}
				payload, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				_, werr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, payload, ttl)
					return nil
				})
				return werr
			}

			if !consume {
				outcome = nil
				return nil
			}
			_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return derr
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return outcome
	}
	return fmt.Errorf("%w: transaction contention", ErrStoreUnavailable)
}

// Invalidate drops any live reset record for the principal. Called when
// the password changes through another path.
func (s *ResetStore) Invalidate(ctx context.Context, principalID string) error {
	if err := s.rdb.Del(ctx, s.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

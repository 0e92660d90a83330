// Package stores holds the Redis-backed records for one-time codes,
// login challenges, and password reset tokens.
package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCodeMismatch means no stored code matched the submitted value,
	// either because it was wrong, expired, or already consumed.
	ErrCodeMismatch = errors.New("stores: code mismatch")

	// ErrStoreUnavailable wraps backend failures across the package.
	ErrStoreUnavailable = errors.New("stores: redis unavailable")
)

// Code kinds. The kind is part of the Redis key so an activation code can
// never satisfy a two-factor check.
const (
	CodeKindLogin      = "2fa"
	CodeKindActivation = "activation"
	CodeKindEnroll     = "enroll"
)

// consumeScript compares the stored code to the submitted one and deletes
// it only on a match, so a correct guess can be redeemed exactly once and
// a wrong one does not disturb the record.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// CodeStore keeps at most one live one-time code per principal and kind.
// Issuing overwrites, so the latest emailed code is the only valid one.
type CodeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewCodeStore(rdb redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "avc"
	}
	return &CodeStore{rdb: rdb, prefix: prefix}
}

func (s *CodeStore) key(kind, principalID string) string {
	return s.prefix + ":" + kind + ":" + principalID
}

// Put stores code for the principal with the given TTL, replacing any
// previous code of the same kind.
func (s *CodeStore) Put(ctx context.Context, kind, principalID, code string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(kind, principalID), code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume checks submitted against the stored code and deletes it on a
// match. Whitespace around the submitted value is ignored; users paste
// codes from mail clients.
func (s *CodeStore) Consume(ctx context.Context, kind, principalID, submitted string) error {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return ErrCodeMismatch
	}

	ok, err := consumeScript.Run(ctx, s.rdb, []string{s.key(kind, principalID)}, submitted).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ok != 1 {
		return ErrCodeMismatch
	}
	return nil
}

// Clear drops any stored code of the given kind for the principal.
func (s *CodeStore) Clear(ctx context.Context, kind, principalID string) error {
	if err := s.rdb.Del(ctx, s.key(kind, principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Package limiters implements the Redis counters behind account lockout
// and pre-authentication throttling.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackend wraps Redis failures from this package.
var ErrBackend = errors.New("limiters: redis unavailable")

// Lockout counts consecutive failed logins per principal. The counter is
// advisory: crossing the threshold is reported to the caller, which flips
// the durable account status. A lost counter therefore cannot silently
// unlock an account.
type Lockout struct {
	rdb       redis.UniversalClient
	prefix    string
	threshold int
	window    time.Duration
}

// NewLockout returns a Lockout that reports reached=true once the count
// hits threshold. A zero window keeps counters until explicitly reset.
func NewLockout(rdb redis.UniversalClient, prefix string, threshold int, window time.Duration) *Lockout {
	if prefix == "" {
		prefix = "avl"
	}
	return &Lockout{rdb: rdb, prefix: prefix, threshold: threshold, window: window}
}

func (l *Lockout) key(principalID string) string {
	return l.prefix + ":" + principalID
}

// RecordFailure increments the failure counter and reports the new count
// and whether the threshold has been reached.
func (l *Lockout) RecordFailure(ctx context.Context, principalID string) (count int64, reached bool, err error) {
	count, err = l.rdb.Incr(ctx, l.key(principalID)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count == 1 && l.window > 0 {
		if err := l.rdb.Expire(ctx, l.key(principalID), l.window).Err(); err != nil {
			return count, false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	return count, count >= int64(l.threshold), nil
}

// Count returns the current failure count without modifying it.
func (l *Lockout) Count(ctx context.Context, principalID string) (int64, error) {
	count, err := l.rdb.Get(ctx, l.key(principalID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return count, nil
}

// Reset clears the failure counter. Called on successful authentication
// and on manual unlock.
func (l *Lockout) Reset(ctx context.Context, principalID string) error {
	if err := l.rdb.Del(ctx, l.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

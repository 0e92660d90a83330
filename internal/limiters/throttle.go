package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrThrottled means the caller has exceeded the allowed attempt rate and
// must wait out the cooldown.
var ErrThrottled = errors.New("limiters: throttled")

// Throttle rejects repeated attempts per identifier and per client IP
// before any credential work happens. Unknown identifiers are throttled
// the same as known ones, so the limiter leaks no account existence
// signal.
type Throttle struct {
	rdb      redis.UniversalClient
	prefix   string
	max      int
	cooldown time.Duration
}

func NewThrottle(rdb redis.UniversalClient, prefix string, max int, cooldown time.Duration) *Throttle {
	if prefix == "" {
		prefix = "avt"
	}
	return &Throttle{rdb: rdb, prefix: prefix, max: max, cooldown: cooldown}
}

func (t *Throttle) keys(identifier, clientIP string) []string {
	keys := make([]string, 0, 2)
	if identifier != "" {
		keys = append(keys, t.prefix+":id:"+identifier)
	}
	if clientIP != "" {
		keys = append(keys, t.prefix+":ip:"+clientIP)
	}
	return keys
}

// Check returns ErrThrottled when either dimension has already hit the
// limit. Read-only; callers charge the counters via RecordFailure.
func (t *Throttle) Check(ctx context.Context, identifier, clientIP string) error {
	for _, key := range t.keys(identifier, clientIP) {
		count, err := t.rdb.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if count >= int64(t.max) {
			return ErrThrottled
		}
	}
	return nil
}

// RecordFailure charges one attempt against both dimensions. The cooldown
// clock starts at the first failure.
func (t *Throttle) RecordFailure(ctx context.Context, identifier, clientIP string) error {
	for _, key := range t.keys(identifier, clientIP) {
		count, err := t.rdb.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if count == 1 {
			if err := t.rdb.Expire(ctx, key, t.cooldown).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}
		}
	}
	return nil
}

// Reset clears both counters after a successful authentication.
func (t *Throttle) Reset(ctx context.Context, identifier, clientIP string) error {
	keys := t.keys(identifier, clientIP)
	if len(keys) == 0 {
		return nil
	}
	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// RequestThrottle is a fixed-window counter used for self-service
// request endpoints such as password reset mails.
type RequestThrottle struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

func NewRequestThrottle(rdb redis.UniversalClient, prefix string, max int, window time.Duration) *RequestThrottle {
	if prefix == "" {
		prefix = "avq"
	}
	return &RequestThrottle{rdb: rdb, prefix: prefix, max: max, window: window}
}

// Allow charges one request against key and returns ErrThrottled once the
// window budget is spent. Counting happens before the caller does any
// work, so rejected requests are cheap.
func (t *RequestThrottle) Allow(ctx context.Context, key string) error {
	if t.max <= 0 {
		return nil
	}
	full := t.prefix + ":" + key
	count, err := t.rdb.Incr(ctx, full).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count == 1 && t.window > 0 {
		if err := t.rdb.Expire(ctx, full, t.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	if count > int64(t.max) {
		return ErrThrottled
	}
	return nil
}

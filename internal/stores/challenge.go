package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrChallengeNotFound means the challenge handle does not resolve: it
// expired, was consumed, or never existed.
var ErrChallengeNotFound = errors.New("stores: challenge not found")

// Challenge ties an opaque handle handed to the client back to the
// principal mid-login and the kind of code they must present. The handle
// itself carries no information.
type Challenge struct {
	PrincipalID string `json:"pid"`
	Kind        string `json:"kind"`
}

// ChallengeStore persists pending login challenges under their handles.
type ChallengeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewChallengeStore(rdb redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "avch"
	}
	return &ChallengeStore{rdb: rdb, prefix: prefix}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *ChallengeStore) Save(ctx context.Context, id string, ch Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (Challenge, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Challenge{}, ErrChallengeNotFound
	}
	return ch, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authvault/authvault/internal"
)

var (
	// ErrNotFound means no live session exists under the given ID, either
	// because it never existed, expired, or was destroyed.
	ErrNotFound = errors.New("session: not found")

	// ErrFingerprintMismatch means the session existed but the client
	// fingerprint no longer matched; the session has been destroyed.
	ErrFingerprintMismatch = errors.New("session: fingerprint mismatch")

	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("session: redis unavailable")
)

// Config controls session lifetime and binding behavior.
type Config struct {
	Prefix           string
	IdleTimeout      time.Duration
	RotationInterval time.Duration
	BindClientIP     bool
	BindUserAgent    bool
}

// swapScript atomically retires an old session key and installs the
// payload under the new one, so there is no window where neither ID
// resolves.
var swapScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], ARGV[1], "EX", ARGV[2])
return 1
`)

// Store persists sessions in Redis. One record per session plus a
// per-principal set indexing live session IDs, which makes
// destroy-everything-for-this-account a set scan instead of a keyspace
// scan.
type Store struct {
	rdb redis.UniversalClient
	cfg Config
}

// NewStore returns a Store using the given client. Prefix defaults to
// "avs" when empty.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "avs"
	}
	return &Store{rdb: rdb, cfg: cfg}
}

func (s *Store) key(id string) string {
	return s.cfg.Prefix + ":s:" + id
}

func (s *Store) indexKey(principalID string) string {
	return s.cfg.Prefix + ":p:" + principalID
}

func (s *Store) ttlSeconds() int64 {
	return int64(s.cfg.IdleTimeout / time.Second)
}

// Create mints a fresh session ID for sess, stamps its clocks, binds the
// client fingerprint, and persists it. When priorID is non-empty the old
// record is destroyed first, so a pre-login carrier ID can never survive
// into an authenticated session.
func (s *Store) Create(ctx context.Context, sess *Session, priorID, clientIP, userAgent string) error {
	if priorID != "" {
		// Best effort: a stale carrier ID that no longer resolves is fine.
		_ = s.Destroy(ctx, priorID)
	}

	id, err := internal.NewSessionID()
	if err != nil {
		return err
	}
	sess.ID = id

	now := time.Now().Unix()
	sess.CreatedAt = now
	sess.LastActivity = now
	sess.LastRegenerated = now

	sess.IPHash = nil
	sess.UserAgentHash = nil
	if s.cfg.BindClientIP && clientIP != "" {
		sess.IPHash = internal.HashBindingValue(clientIP)
	}
	if s.cfg.BindUserAgent && userAgent != "" {
		sess.UserAgentHash = internal.HashBindingValue(userAgent)
	}

	return s.Save(ctx, sess, s.cfg.IdleTimeout)
}

// Save persists sess verbatim with the given TTL and refreshes the
// principal index. It does not touch the session's timestamps.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess.ID == "" {
		return errors.New("session: save without ID")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(sess.ID), payload, ttl)
	if sess.PrincipalID != "" {
		pipe.SAdd(ctx, s.indexKey(sess.PrincipalID), sess.ID)
		pipe.Expire(ctx, s.indexKey(sess.PrincipalID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Update rewrites the stored payload without disturbing the remaining
// TTL. Used for in-place mutations such as CSRF token rotation.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session: update without ID")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(sess.ID), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Validate resolves id, enforces the idle timeout and fingerprint
// bindings, refreshes activity, and rotates the session ID once
// RotationInterval has elapsed. On success the returned session's ID is
// authoritative and may differ from the input; callers must re-issue the
// carrier cookie when it does.
func (s *Store) Validate(ctx context.Context, id, clientIP, userAgent string) (*Session, error) {
	return s.resolve(ctx, id, clientIP, userAgent, true)
}

// Touch is Validate without ID rotation, for callers that cannot hand a
// re-keyed ID back to the client. Activity still refreshes and expiry
// still slides; a due rotation happens on the next Validate instead.
func (s *Store) Touch(ctx context.Context, id, clientIP, userAgent string) (*Session, error) {
	return s.resolve(ctx, id, clientIP, userAgent, false)
}

func (s *Store) resolve(ctx context.Context, id, clientIP, userAgent string, rotate bool) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// Unreadable record: treat as gone and clear it.
		_ = s.rdb.Del(ctx, s.key(id)).Err()
		return nil, ErrNotFound
	}
	sess.ID = id

	now := time.Now().Unix()
	if now-sess.LastActivity >= s.ttlSeconds() {
		_ = s.Destroy(ctx, id)
		return nil, ErrNotFound
	}

	if s.cfg.BindClientIP && len(sess.IPHash) > 0 &&
		!bytes.Equal(sess.IPHash, internal.HashBindingValue(clientIP)) {
		_ = s.Destroy(ctx, id)
		return nil, ErrFingerprintMismatch
	}
	if s.cfg.BindUserAgent && len(sess.UserAgentHash) > 0 &&
		!bytes.Equal(sess.UserAgentHash, internal.HashBindingValue(userAgent)) {
		_ = s.Destroy(ctx, id)
		return nil, ErrFingerprintMismatch
	}

	sess.LastActivity = now

	if rotate && now-sess.LastRegenerated >= int64(s.cfg.RotationInterval/time.Second) {
		if err := s.Regenerate(ctx, &sess); err != nil {
			return nil, err
		}
		return &sess, nil
	}

	if err := s.Save(ctx, &sess, s.cfg.IdleTimeout); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Regenerate swaps sess onto a fresh ID atomically and retires the old
// record. The old ID stops resolving immediately.
func (s *Store) Regenerate(ctx context.Context, sess *Session) error {
	oldID := sess.ID
	newID, err := internal.NewSessionID()
	if err != nil {
		return err
	}

	sess.ID = newID
	sess.LastRegenerated = time.Now().Unix()
	payload, err := json.Marshal(sess)
	if err != nil {
		sess.ID = oldID
		return err
	}

	if err := swapScript.Run(ctx, s.rdb,
		[]string{s.key(oldID), s.key(newID)},
		payload, s.ttlSeconds(),
	).Err(); err != nil {
		sess.ID = oldID
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if sess.PrincipalID != "" {
		pipe := s.rdb.TxPipeline()
		pipe.SRem(ctx, s.indexKey(sess.PrincipalID), oldID)
		pipe.SAdd(ctx, s.indexKey(sess.PrincipalID), newID)
		pipe.Expire(ctx, s.indexKey(sess.PrincipalID), s.cfg.IdleTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// Destroy removes the session record and its index entry. Destroying a
// session that does not exist is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var sess Session
	principalID := ""
	if json.Unmarshal(raw, &sess) == nil {
		principalID = sess.PrincipalID
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(id))
	if principalID != "" {
		pipe.SRem(ctx, s.indexKey(principalID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DestroyAllForPrincipal removes every live session belonging to
// principalID and returns how many were destroyed. Used after password
// changes so stolen sessions do not outlive the credential.
func (s *Store) DestroyAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.indexKey(principalID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// RemainingTime returns the time left before the session identified by id
// expires, based on the key's TTL. Returns zero with ErrNotFound when the
// session is gone.
func (s *Store) RemainingTime(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

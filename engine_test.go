package authvault

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// memoryPrincipalStore is an in-memory PrincipalStore for tests. It
// honors the UpdatePassword contract by applying hash and history
// together under one lock.
type memoryPrincipalStore struct {
	mu         sync.Mutex
	byID       map[string]Principal
	history    []HistoryEntry
	failUpdate bool
}

func newMemoryPrincipalStore() *memoryPrincipalStore {
	return &memoryPrincipalStore{byID: make(map[string]Principal)}
}

func (s *memoryPrincipalStore) add(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
}

func (s *memoryPrincipalStore) get(id string) Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

func (s *memoryPrincipalStore) GetByEmail(_ context.Context, email string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return Principal{}, ErrPrincipalNotFound
}

func (s *memoryPrincipalStore) GetByID(_ context.Context, id string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (s *memoryPrincipalStore) UpdatePassword(_ context.Context, id string, update PasswordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return errors.New("simulated store failure")
	}
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = update.NewHash
	p.PasswordChangedAt = update.History.ChangedAt
	s.byID[id] = p
	s.history = append(s.history, update.History)
	return nil
}

func (s *memoryPrincipalStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	s.byID[id] = p
	return nil
}

func (s *memoryPrincipalStore) UpdateTwoFA(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.TwoFAEnabled = enabled
	s.byID[id] = p
	return nil
}

type sentMail struct {
	to      string
	subject string
	text    string
}

// recordingMailer captures outbound mail; failing is toggled per test to
// exercise delivery-failure rollback.
type recordingMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	failing bool
}

func (m *recordingMailer) Send(_ context.Context, toAddress, _ string, subject, _, textBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, sentMail{to: toAddress, subject: subject, text: textBody})
	return nil
}

func (m *recordingMailer) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = v
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return m.sent[len(m.sent)-1]
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	code := codePattern.FindString(m.last(t).text)
	if code == "" {
		t.Fatalf("no 6-digit code in mail body: %q", m.last(t).text)
	}
	return code
}

var tokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

func (m *recordingMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	match := tokenPattern.FindStringSubmatch(m.last(t).text)
	if match == nil {
		t.Fatalf("no reset token in mail body: %q", m.last(t).text)
	}
	return match[1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	// Cheap argon2 parameters keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 2
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.LinkBase = "https://example.com/reset"
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memoryPrincipalStore
	mailer *recordingMailer
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMemoryPrincipalStore()
	mailer := &recordingMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithMailer(mailer).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, mailer: mailer, mr: mr}
}

// seed adds a principal with the given plaintext password and returns
// its ID.
func (env *testEnv) seed(t *testing.T, email, pass string, mutate func(*Principal)) string {
	t.Helper()
	hash, err := env.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	p := Principal{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Test Person",
		PasswordHash: hash,
		Role:         "guest",
		Status:       StatusActive,
	}
	if mutate != nil {
		mutate(&p)
	}
	env.store.add(p)
	return p.ID
}

func reqCtx(ip, userAgent string) context.Context {
	ctx := context.Background()
	if ip != "" {
		ctx = WithClientIP(ctx, ip)
	}
	if userAgent != "" {
		ctx = WithUserAgent(ctx, userAgent)
	}
	return ctx
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := New().Build(); err == nil {
		t.Fatal("Build without redis succeeded")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("Build without principal store succeeded")
	}
	if _, err := New().WithRedis(rdb).WithPrincipalStore(newMemoryPrincipalStore()).Build(); err == nil {
		t.Fatal("Build without mailer succeeded")
	}

	cfg := testConfig()
	cfg.Lockout.Threshold = 0
	_, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(newMemoryPrincipalStore()).
		WithMailer(&recordingMailer{}).
		Build()
	if err == nil {
		t.Fatal("Build accepted a zero lockout threshold")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@example.com", "a strong password", nil)

	if _, err := env.engine.Login(reqCtx("198.51.100.7", "ua"), "a@example.com", "a strong password"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	snap := env.engine.Metrics().Snapshot()
	if snap["login_success"] != 1 {
		t.Fatalf("login_success = %d, want 1", snap["login_success"])
	}
	if snap["session_created"] != 1 {
		t.Fatalf("session_created = %d, want 1", snap["session_created"])
	}
}

func TestAuditEventsDelivered(t *testing.T) {
	sink := NewChannelSink(16)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemoryPrincipalStore()
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithMailer(&recordingMailer{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = engine.Login(reqCtx("198.51.100.7", "ua"), "nobody@example.com", "whatever pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	// Close drains the dispatcher, so every emitted event is in the sink
	// buffer by the time it returns.
	engine.Close()

	var types []string
drain:
	for {
		select {
		case ev := <-sink.Events():
			types = append(types, ev.EventType)
		default:
			break drain
		}
	}
	for _, typ := range types {
		if typ == "login.failure" {
			return
		}
	}
	t.Fatalf("no login.failure event, got %v", types)
}

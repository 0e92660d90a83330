package authvault

import (
	"errors"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	internalaudit "github.com/authvault/authvault/internal/audit"
	"github.com/authvault/authvault/internal/limiters"
	internalmetrics "github.com/authvault/authvault/internal/metrics"
	"github.com/authvault/authvault/internal/stores"
	"github.com/authvault/authvault/password"
	"github.com/authvault/authvault/session"
)

// Builder assembles an [Engine]. Redis, a [PrincipalStore], and a
// [Mailer] are required; everything else has working defaults.
type Builder struct {
	cfg        Config
	cfgSet     bool
	rdb        redis.UniversalClient
	principals PrincipalStore
	mailer     Mailer
	auditSink  AuditSink
	logger     zerolog.Logger
	loggerSet  bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cloneConfig(cfg)
	b.cfgSet = true
	return b
}

// WithRedis sets the client backing all volatile state.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

// WithPrincipalStore sets the durable account store.
func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

// WithMailer sets the outbound mail collaborator.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the audit destination and enables the dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.cfg.Audit.Enabled = sink != nil
	return b
}

// WithLogger sets the structured logger. Without it the engine logs to
// a disabled logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.loggerSet = true
	return b
}

// Build validates the wiring and configuration and returns the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.rdb == nil {
		return nil, errors.New("authvault: redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("authvault: principal store required")
	}
	if b.mailer == nil {
		return nil, errors.New("authvault: mailer required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.cfg.Password.Memory,
		Time:        b.cfg.Password.Time,
		Parallelism: b.cfg.Password.Parallelism,
		SaltLength:  b.cfg.Password.SaltLength,
		KeyLength:   b.cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if !b.loggerSet {
		logger = zerolog.New(io.Discard)
	}

	prefix := b.cfg.Session.RedisPrefix

	e := &Engine{
		cfg: cloneConfig(b.cfg),
		log: logger,

		sessions: session.NewStore(b.rdb, session.Config{
			Prefix:           prefix,
			IdleTimeout:      b.cfg.Session.IdleTimeout,
			RotationInterval: b.cfg.Session.RotationInterval,
			BindClientIP:     b.cfg.Session.BindClientIP,
			BindUserAgent:    b.cfg.Session.BindUserAgent,
		}),
		codes:      stores.NewCodeStore(b.rdb, prefix+":code"),
		challenges: stores.NewChallengeStore(b.rdb, prefix+":chal"),
		resets:     stores.NewResetStore(b.rdb, prefix+":reset", b.cfg.PasswordReset.MaxAttempts),

		lockout: limiters.NewLockout(b.rdb, prefix+":lock",
			b.cfg.Lockout.Threshold, b.cfg.Lockout.Window),
		resetThrottle: limiters.NewRequestThrottle(b.rdb, prefix+":rreq",
			b.cfg.PasswordReset.RequestsPerWindow, b.cfg.PasswordReset.RequestWindow),

		audit:   internalaudit.NewDispatcher(b.auditSink, internalaudit.Config(b.cfg.Audit)),
		metrics: internalmetrics.New(internalmetrics.Config(b.cfg.Metrics)),

		hasher:     hasher,
		principals: b.principals,
		mailer:     b.mailer,
	}

	if b.cfg.Throttle.Enabled {
		e.throttle = limiters.NewThrottle(b.rdb, prefix+":thr",
			b.cfg.Throttle.MaxAttempts, b.cfg.Throttle.Cooldown)
	}

	return e, nil
}

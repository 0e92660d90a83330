package authvault

import (
	"errors"
	"net/http"
	"time"
)

// Config groups all engine tuning parameters. Construct with
// [DefaultConfig] and override fields before passing to
// [Builder.WithConfig]; treat as immutable after Build.
type Config struct {
	Session       SessionConfig
	CSRF          CSRFConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	MFA           MFAConfig
	Lockout       LockoutConfig
	Throttle      ThrottleConfig
	Cookie        CookieConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// SessionConfig controls session lifetime, rotation, and hijack detection.
type SessionConfig struct {
	RedisPrefix string

	// IdleTimeout invalidates a session once no validated request has
	// touched it for this long. Also the carrier cookie max-age.
	IdleTimeout time.Duration

	// RotationInterval re-keys the session ID transparently during
	// validation once this much time has passed since the last rotation.
	RotationInterval time.Duration

	// BindClientIP destroys a session when the requesting IP no longer
	// matches the one bound at creation. Heuristic hijack detection; can
	// false-positive on mobile/NAT populations, hence the toggle.
	BindClientIP bool

	// BindUserAgent does the same for the user-agent string.
	BindUserAgent bool
}

// CSRFConfig controls the per-session anti-forgery token.
type CSRFConfig struct {
	// TokenLifetime rotates the token lazily on the next issue after
	// expiry. Verification against an expired token fails closed.
	TokenLifetime time.Duration

	// FieldName is the hidden form field / header name carrying the token.
	FieldName string
}

// PasswordConfig holds argon2id cost parameters. Defaults target a few
// hundred milliseconds per hash on commodity hardware.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// UpgradeOnLogin transparently rehashes a verified password whose
	// stored hash uses weaker parameters than the current configuration.
	UpgradeOnLogin bool
}

// PasswordResetConfig controls reset token issuance and redemption.
type PasswordResetConfig struct {
	// TokenTTL is the fixed validity window of an issued token.
	TokenTTL time.Duration

	// MaxAttempts burns the stored record after this many mismatched
	// redemption attempts.
	MaxAttempts int

	// RequestsPerWindow and RequestWindow throttle reset requests per IP
	// and per identifier.
	RequestsPerWindow int
	RequestWindow     time.Duration

	// LinkBase is the URL prefix the emailed reset link is built from;
	// token and principal id are appended as query parameters.
	LinkBase string
}

// MFAConfig controls emailed one-time codes.
type MFAConfig struct {
	// LoginCodeTTL is the validity window of a two-factor login code.
	LoginCodeTTL time.Duration

	// ActivationCodeTTL is the validity window of an account activation
	// code.
	ActivationCodeTTL time.Duration

	// ChallengeTTL bounds how long the opaque challenge handle returned
	// from Login stays redeemable.
	ChallengeTTL time.Duration

	// SenderName is used in outbound mail bodies.
	SenderName string
}

// LockoutConfig controls the durable account lockout policy.
type LockoutConfig struct {
	// Threshold is the failed-attempt count at which the account status
	// flips to [StatusBlocked].
	Threshold int

	// Window resets the failure counter after this long without failures.
	// Zero means the counter only clears on success or manual unlock.
	Window time.Duration

	// ExemptRoles lists roles that bypass the lockout policy. Empty by
	// default: a uniform policy is the safe baseline, and every bypass is
	// audited.
	ExemptRoles []string
}

// ThrottleConfig controls the pre-lookup sliding throttle keyed by
// IP and identifier. It rejects attempts before any credential work and
// applies equally to unknown and known identifiers.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Cooldown    time.Duration
}

// CookieConfig describes the session carrier cookie the caller should set.
type CookieConfig struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration: 30 minute idle
// sessions rotated every 10 minutes with IP and user-agent binding, 1 hour
// CSRF tokens, argon2id at 64 MiB/t=4/p=3, 1 hour single-use reset tokens
// throttled to 3 requests per hour, 10 minute login codes, 5 minute
// activation codes, lockout threshold 3, and a 5-attempt/15-minute login
// throttle.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:      "avs",
			IdleTimeout:      30 * time.Minute,
			RotationInterval: 10 * time.Minute,
			BindClientIP:     true,
			BindUserAgent:    true,
		},
		CSRF: CSRFConfig{
			TokenLifetime: time.Hour,
			FieldName:     "_csrf_token",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           4,
			Parallelism:    3,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:          time.Hour,
			MaxAttempts:       5,
			RequestsPerWindow: 3,
			RequestWindow:     time.Hour,
		},
		MFA: MFAConfig{
			LoginCodeTTL:      10 * time.Minute,
			ActivationCodeTTL: 5 * time.Minute,
			ChallengeTTL:      10 * time.Minute,
			SenderName:        "Account Security",
		},
		Lockout: LockoutConfig{
			Threshold: 3,
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
		},
		Cookie: CookieConfig{
			Name:     "avsid",
			Path:     "/",
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate rejects configurations that would silently weaken the security
// posture.
func (c Config) Validate() error {
	if c.Session.IdleTimeout <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.Session.RotationInterval <= 0 {
		return errors.New("session rotation interval must be positive")
	}
	if c.CSRF.TokenLifetime <= 0 {
		return errors.New("csrf token lifetime must be positive")
	}
	if c.CSRF.FieldName == "" {
		return errors.New("csrf field name required")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("reset token ttl must be positive")
	}
	if c.PasswordReset.MaxAttempts <= 0 {
		return errors.New("reset max attempts must be positive")
	}
	if c.MFA.LoginCodeTTL <= 0 || c.MFA.ActivationCodeTTL <= 0 {
		return errors.New("code ttls must be positive")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("lockout threshold must be positive")
	}
	if c.Throttle.Enabled && (c.Throttle.MaxAttempts <= 0 || c.Throttle.Cooldown <= 0) {
		return errors.New("throttle requires positive attempts and cooldown")
	}
	if c.Cookie.Name == "" {
		return errors.New("cookie name required")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Lockout.ExemptRoles = append([]string(nil), cfg.Lockout.ExemptRoles...)
	return out
}

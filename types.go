package authvault

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/authvault/authvault/internal/audit"
	internalmetrics "github.com/authvault/authvault/internal/metrics"
	"github.com/authvault/authvault/session"
)

// Status is the lifecycle state of a principal account.
type Status uint8

const (
	// StatusActive allows normal login.
	StatusActive Status = iota
	// StatusPending requires the activation one-time code before the first
	// session is created.
	StatusPending
	// StatusBlocked rejects logins without verifying the password. Set by
	// the lockout policy or by an operator.
	StatusBlocked
)

// Principal is the durable account record returned by [PrincipalStore].
type Principal struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       Status
	TwoFAEnabled bool

	PasswordChangedAt time.Time
}

// HistoryEntry is one append-only password history row: the hash being
// replaced, who replaced it, and why. Entries are audit data and are never
// deleted or consulted for reuse prevention.
type HistoryEntry struct {
	EntryID     string
	PrincipalID string
	OldHash     string
	Actor       string // "self" or "admin"
	Reason      string
	ChangedAt   time.Time
}

// PasswordUpdate carries a credential replacement plus its history entry.
// Implementations must apply both in a single transaction: if the history
// append fails, the hash update must roll back with it.
type PasswordUpdate struct {
	NewHash string
	History HistoryEntry
}

// PrincipalStore is the persistence collaborator for durable account data.
// Lookups return [ErrPrincipalNotFound] (possibly wrapped) for misses; any
// other error is treated as a backend failure and surfaced to callers as
// [ErrBackendUnavailable].
type PrincipalStore interface {
	GetByEmail(ctx context.Context, email string) (Principal, error)
	GetByID(ctx context.Context, principalID string) (Principal, error)

	// UpdatePassword replaces the stored hash and appends the history
	// entry in one transaction.
	UpdatePassword(ctx context.Context, principalID string, update PasswordUpdate) error

	UpdateStatus(ctx context.Context, principalID string, status Status) error

	// UpdateTwoFA flips the second-factor enrollment flag. Only the
	// engine's code-verified enrollment flow should set it to true.
	UpdateTwoFA(ctx context.Context, principalID string, enabled bool) error
}

// Mailer is the outbound mail collaborator. Send is synchronous-or-failed:
// there is no partial-delivery state. A slow provider must be bounded by
// the passed context; the engine treats delivery as best-effort and never
// holds security state locked across a send.
type Mailer interface {
	Send(ctx context.Context, toAddress, toName, subject, htmlBody, textBody string) error
}

// LoginState distinguishes the non-error terminal outcomes of Login.
type LoginState uint8

const (
	// LoginSessionCreated means authentication completed and
	// [LoginResult.Session] is populated.
	LoginSessionCreated LoginState = iota
	// LoginAwaitingMFA means the password verified and a two-factor code
	// was emailed; finish with [Engine.VerifyLoginCode].
	LoginAwaitingMFA
	// LoginAwaitingActivation means the password verified for a pending
	// account and an activation code was emailed; finish with
	// [Engine.VerifyActivationCode].
	LoginAwaitingActivation
)

// LoginResult is returned by [Engine.Login], [Engine.VerifyLoginCode], and
// [Engine.VerifyActivationCode]. Exactly one of Session or ChallengeID is
// populated depending on State.
type LoginResult struct {
	State       LoginState
	Session     *session.Session
	ChallengeID string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter in the in-process metrics set.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess       = internalmetrics.MetricLoginSuccess
	MetricLoginFailure       = internalmetrics.MetricLoginFailure
	MetricLoginLocked        = internalmetrics.MetricLoginLocked
	MetricLoginThrottled     = internalmetrics.MetricLoginThrottled
	MetricLockoutBypass      = internalmetrics.MetricLockoutBypass
	MetricSessionCreated     = internalmetrics.MetricSessionCreated
	MetricSessionDestroyed   = internalmetrics.MetricSessionDestroyed
	MetricSessionHijack      = internalmetrics.MetricSessionHijack
	MetricCSRFRejected       = internalmetrics.MetricCSRFRejected
	MetricCodeIssued         = internalmetrics.MetricCodeIssued
	MetricCodeVerified       = internalmetrics.MetricCodeVerified
	MetricCodeRejected       = internalmetrics.MetricCodeRejected
	MetricDeliveryFailure    = internalmetrics.MetricDeliveryFailure
	MetricActivationComplete = internalmetrics.MetricActivationComplete
	MetricPasswordChanged    = internalmetrics.MetricPasswordChanged
	MetricPasswordRejected   = internalmetrics.MetricPasswordRejected
	MetricResetRequested     = internalmetrics.MetricResetRequested
	MetricResetCompleted     = internalmetrics.MetricResetCompleted
	MetricResetRejected      = internalmetrics.MetricResetRejected
)

// Metrics holds the engine's atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters keyed by name.
type MetricsSnapshot = internalmetrics.Snapshot

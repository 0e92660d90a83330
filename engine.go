package authvault

import (
	"github.com/rs/zerolog"

	internalaudit "github.com/authvault/authvault/internal/audit"
	"github.com/authvault/authvault/internal/limiters"
	internalmetrics "github.com/authvault/authvault/internal/metrics"
	"github.com/authvault/authvault/internal/stores"
	"github.com/authvault/authvault/password"
	"github.com/authvault/authvault/session"
)

// Engine is the authentication and session security engine. Construct
// with [New]; zero values are not usable. All methods are safe for
// concurrent use.
type Engine struct {
	cfg Config
	log zerolog.Logger

	sessions   *session.Store
	codes      *stores.CodeStore
	challenges *stores.ChallengeStore
	resets     *stores.ResetStore

	lockout       *limiters.Lockout
	throttle      *limiters.Throttle
	resetThrottle *limiters.RequestThrottle

	audit   *internalaudit.Dispatcher
	metrics *internalmetrics.Metrics

	hasher     *password.Hasher
	principals PrincipalStore
	mailer     Mailer
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.cfg)
}

// Metrics returns the engine's counter set; nil semantics are handled by
// the type, so callers can snapshot unconditionally.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close flushes the audit dispatcher. The engine must not be used after
// Close.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) emitAudit(eventType, principalID, sessionID, ip string, success bool, opErr error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	ev := internalaudit.NewEvent(eventType)
	ev.PrincipalID = principalID
	ev.SessionID = sessionID
	ev.IP = ip
	ev.Success = success
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	ev.Metadata = meta
	e.audit.Emit(ev)
}

func (e *Engine) count(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) lockoutExempt(role string) bool {
	for _, exempt := range e.cfg.Lockout.ExemptRoles {
		if role == exempt {
			return true
		}
	}
	return false
}

package authvault

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/authvault/authvault/session"
)

// ValidateSession resolves sessionID, enforces the idle timeout and
// fingerprint bindings from ctx, and slides the expiry. The returned
// session's ID may differ from the input when transparent rotation
// fired; callers must re-issue the carrier cookie whenever it does.
//
// A fingerprint mismatch destroys the session and returns
// [ErrSessionHijacked]; everything else that fails to resolve returns
// [ErrSessionNotFound].
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return e.resolveSession(ctx, sessionID, true)
}

// touchSession validates without rotating the session ID, for internal
// operations that return no session to the caller and so could never
// report a re-keyed ID.
func (e *Engine) touchSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return e.resolveSession(ctx, sessionID, false)
}

func (e *Engine) resolveSession(ctx context.Context, sessionID string, rotate bool) (*session.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	var (
		sess *session.Session
		err  error
	)
	if rotate {
		sess, err = e.sessions.Validate(ctx, sessionID,
			clientIPFromContext(ctx), userAgentFromContext(ctx))
	} else {
		sess, err = e.sessions.Touch(ctx, sessionID,
			clientIPFromContext(ctx), userAgentFromContext(ctx))
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, session.ErrFingerprintMismatch):
		e.count(MetricSessionHijack)
		e.emitAudit("session.hijack_signal", "", sessionID,
			clientIPFromContext(ctx), false, ErrSessionHijacked, nil)
		e.log.Warn().Str("session", sessionID).Msg("session fingerprint mismatch, destroyed")
		return nil, ErrSessionHijacked
	case err != nil:
		return nil, e.backendErr(err)
	}
	return sess, nil
}

// IsAuthenticated reports whether sessionID resolves to a live
// authenticated session under the bindings in ctx. It shares
// ValidateSession's side effects (activity refresh, rotation, hijack
// destruction).
func (e *Engine) IsAuthenticated(ctx context.Context, sessionID string) bool {
	sess, err := e.ValidateSession(ctx, sessionID)
	return err == nil && sess.Authenticated()
}

// Logout destroys the session. Logging out an already-dead session is
// not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := e.sessions.Destroy(ctx, sessionID); err != nil {
		return e.backendErr(err)
	}
	e.count(MetricSessionDestroyed)
	e.emitAudit("session.destroyed", "", sessionID, clientIPFromContext(ctx), true, nil,
		map[string]string{"reason": "logout"})
	return nil
}

// RemainingTime returns how long the session has before idle expiry
// without refreshing it. Returns [ErrSessionNotFound] when the session
// is gone.
func (e *Engine) RemainingTime(ctx context.Context, sessionID string) (time.Duration, error) {
	remaining, err := e.sessions.RemainingTime(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, e.backendErr(err)
	}
	return remaining, nil
}

// SessionCookie builds the carrier cookie for sess according to the
// configured cookie policy. HttpOnly is always set.
func (e *Engine) SessionCookie(sess *session.Session) *http.Cookie {
	return &http.Cookie{
		Name:     e.cfg.Cookie.Name,
		Value:    sess.ID,
		Path:     e.cfg.Cookie.Path,
		MaxAge:   int(e.cfg.Session.IdleTimeout / time.Second),
		HttpOnly: true,
		Secure:   e.cfg.Cookie.Secure,
		SameSite: e.cfg.Cookie.SameSite,
	}
}

// ClearSessionCookie builds the expired cookie that removes the carrier
// from the client after logout.
func (e *Engine) ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.cfg.Cookie.Name,
		Value:    "",
		Path:     e.cfg.Cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   e.cfg.Cookie.Secure,
		SameSite: e.cfg.Cookie.SameSite,
	}
}

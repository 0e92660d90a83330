package authvault

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/authvault/authvault/internal"
)

func newCSRFToken() (string, error) {
	return internal.NewCSRFToken()
}

// FieldName returns the configured form field / header name that carries
// the anti-forgery token.
func (e *Engine) FieldName() string {
	return e.cfg.CSRF.FieldName
}

// CSRFToken returns the session's current anti-forgery token, minting a
// fresh one when none exists or the current one has outlived its
// lifetime. Rotation is lazy: an expired token is replaced here, on the
// next render, not by a background job. The session ID is never rotated
// by this call, so sessionID stays valid afterwards.
func (e *Engine) CSRFToken(ctx context.Context, sessionID string) (string, error) {
	sess, err := e.touchSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	fresh := sess.CSRFToken != "" &&
		now-sess.CSRFIssuedAt < int64(e.cfg.CSRF.TokenLifetime/time.Second)
	if fresh {
		return sess.CSRFToken, nil
	}

	token, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	sess.CSRFToken = token
	sess.CSRFIssuedAt = now
	if err := e.sessions.Update(ctx, sess); err != nil {
		return "", e.backendErr(err)
	}
	return token, nil
}

// VerifyCSRF checks a submitted token against the session in constant
// time. An expired token fails closed and is purged so the next render
// issues a fresh one. A failed check is a signal worth counting: it is
// either a forgery attempt or a stale form. The session ID is never
// rotated by this call, so sessionID stays valid afterwards.
func (e *Engine) VerifyCSRF(ctx context.Context, sessionID, submitted string) bool {
	sess, err := e.touchSession(ctx, sessionID)
	if err != nil || sess.CSRFToken == "" || submitted == "" {
		e.count(MetricCSRFRejected)
		return false
	}

	now := time.Now().Unix()
	if now-sess.CSRFIssuedAt >= int64(e.cfg.CSRF.TokenLifetime/time.Second) {
		sess.CSRFToken = ""
		sess.CSRFIssuedAt = 0
		_ = e.sessions.Update(ctx, sess)
		e.count(MetricCSRFRejected)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(submitted)) != 1 {
		e.count(MetricCSRFRejected)
		e.emitAudit("csrf.rejected", sess.PrincipalID, sess.ID,
			clientIPFromContext(ctx), false, nil, nil)
		return false
	}
	return true
}

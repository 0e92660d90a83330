package authvault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authvault/authvault/internal/limiters"
	"github.com/authvault/authvault/session"
)

func (e *Engine) backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// Login authenticates identifier/password and drives the login state
// machine. The non-error outcomes are:
//
//   - [LoginSessionCreated]: a session was created and returned.
//   - [LoginAwaitingMFA]: a two-factor code was emailed; finish with
//     [Engine.VerifyLoginCode] using the returned ChallengeID.
//   - [LoginAwaitingActivation]: the account is pending and an activation
//     code was emailed; finish with [Engine.VerifyActivationCode].
//
// Unknown identifiers and wrong passwords both return
// [ErrInvalidCredentials]. Attach the client IP, user agent, and any
// inbound session ID to ctx via [WithClientIP], [WithUserAgent], and
// [WithCarrierSessionID].
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*LoginResult, error) {
	if e.principals == nil {
		return nil, ErrEngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	ip := clientIPFromContext(ctx)

	if e.throttle != nil {
		if err := e.throttle.Check(ctx, identifier, ip); err != nil {
			if errors.Is(err, limiters.ErrThrottled) {
				e.count(MetricLoginThrottled)
				e.emitAudit("login.throttled", "", "", ip, false, ErrLoginThrottled, nil)
				return nil, ErrLoginThrottled
			}
			return nil, e.backendErr(err)
		}
	}

	if identifier == "" || pass == "" {
		e.recordLoginFailure(ctx, identifier, ip)
		return nil, ErrInvalidCredentials
	}

	p, err := e.principals.GetByEmail(ctx, identifier)
	if errors.Is(err, ErrPrincipalNotFound) {
		// Same failure charge and same error as a wrong password, so the
		// response does not reveal whether the account exists.
		e.recordLoginFailure(ctx, identifier, ip)
		e.emitAudit("login.failure", "", "", ip, false, ErrInvalidCredentials,
			map[string]string{"reason": "unknown_identifier"})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, e.backendErr(err)
	}

	// The lockout gate runs before password verification: a locked
	// account rejects even the correct password.
	exempt := e.lockoutExempt(p.Role)
	if locked, err := e.isLockedOut(ctx, p); err != nil {
		return nil, err
	} else if locked {
		if !exempt {
			e.count(MetricLoginLocked)
			e.emitAudit("login.locked", p.ID, "", ip, false, ErrAccountLocked, nil)
			return nil, ErrAccountLocked
		}
		e.count(MetricLockoutBypass)
		e.emitAudit("login.lockout_bypass", p.ID, "", ip, true, nil,
			map[string]string{"role": p.Role})
		e.log.Warn().Str("principal", p.ID).Str("role", p.Role).
			Msg("lockout bypassed by exempt role")
	}

	ok, err := e.hasher.Verify(pass, p.PasswordHash)
	if err != nil {
		e.log.Error().Err(err).Str("principal", p.ID).Msg("stored hash unreadable")
		return nil, e.backendErr(err)
	}
	if !ok {
		e.recordLoginFailure(ctx, identifier, ip)

		count, reached, lerr := e.lockout.RecordFailure(ctx, p.ID)
		if lerr != nil {
			e.log.Error().Err(lerr).Str("principal", p.ID).Msg("lockout counter update failed")
		}
		if reached && !exempt {
			if serr := e.principals.UpdateStatus(ctx, p.ID, StatusBlocked); serr != nil {
				e.log.Error().Err(serr).Str("principal", p.ID).Msg("lockout status update failed")
			} else {
				e.count(MetricLoginLocked)
				e.emitAudit("login.lockout", p.ID, "", ip, false, nil,
					map[string]string{"failures": fmt.Sprintf("%d", count)})
			}
		}

		e.emitAudit("login.failure", p.ID, "", ip, false, ErrInvalidCredentials,
			map[string]string{"reason": "bad_password"})
		return nil, ErrInvalidCredentials
	}

	// Authenticated. Clear the failure counters before branching.
	if e.throttle != nil {
		if terr := e.throttle.Reset(ctx, identifier, ip); terr != nil {
			e.log.Warn().Err(terr).Msg("throttle reset failed")
		}
	}
	if lerr := e.lockout.Reset(ctx, p.ID); lerr != nil {
		e.log.Warn().Err(lerr).Str("principal", p.ID).Msg("lockout reset failed")
	}

	e.maybeUpgradeHash(ctx, p, pass)

	switch {
	case p.Status == StatusPending:
		challengeID, err := e.beginChallenge(ctx, p, challengeKindActivation)
		if err != nil {
			return nil, err
		}
		return &LoginResult{State: LoginAwaitingActivation, ChallengeID: challengeID}, nil

	case p.TwoFAEnabled:
		challengeID, err := e.beginChallenge(ctx, p, challengeKindLogin)
		if err != nil {
			return nil, err
		}
		return &LoginResult{State: LoginAwaitingMFA, ChallengeID: challengeID}, nil
	}

	sess, err := e.createSession(ctx, p)
	if err != nil {
		return nil, err
	}

	e.count(MetricLoginSuccess)
	e.emitAudit("login.success", p.ID, sess.ID, ip, true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("login succeeded")
	return &LoginResult{State: LoginSessionCreated, Session: sess}, nil
}

// isLockedOut reports whether the account is blocked or its failure
// counter already sits at the threshold. The durable status is
// authoritative; the counter check covers the window where the status
// flip itself failed.
func (e *Engine) isLockedOut(ctx context.Context, p Principal) (bool, error) {
	if p.Status == StatusBlocked {
		return true, nil
	}
	count, err := e.lockout.Count(ctx, p.ID)
	if err != nil {
		return false, e.backendErr(err)
	}
	return count >= int64(e.cfg.Lockout.Threshold), nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, identifier, ip string) {
	e.count(MetricLoginFailure)
	if e.throttle == nil {
		return
	}
	if err := e.throttle.RecordFailure(ctx, identifier, ip); err != nil {
		e.log.Error().Err(err).Msg("throttle counter update failed")
	}
}

// maybeUpgradeHash transparently rehashes a verified password whose
// stored hash uses weaker parameters. Failures are logged and ignored;
// the login already succeeded.
func (e *Engine) maybeUpgradeHash(ctx context.Context, p Principal, pass string) {
	if !e.cfg.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(p.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		e.log.Warn().Err(err).Str("principal", p.ID).Msg("hash upgrade failed")
		return
	}
	update := PasswordUpdate{
		NewHash: newHash,
		History: HistoryEntry{
			EntryID:     uuid.NewString(),
			PrincipalID: p.ID,
			OldHash:     p.PasswordHash,
			Actor:       "self",
			Reason:      "hash_upgrade",
			ChangedAt:   time.Now().UTC(),
		},
	}
	if err := e.principals.UpdatePassword(ctx, p.ID, update); err != nil {
		e.log.Warn().Err(err).Str("principal", p.ID).Msg("hash upgrade persist failed")
		return
	}
	e.log.Info().Str("principal", p.ID).Msg("password hash upgraded")
}

// createSession establishes an authenticated session, retiring any
// carrier session ID from ctx and minting the initial CSRF token.
func (e *Engine) createSession(ctx context.Context, p Principal) (*session.Session, error) {
	token, err := newCSRFToken()
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		PrincipalID:  p.ID,
		Role:         p.Role,
		CSRFToken:    token,
		CSRFIssuedAt: time.Now().Unix(),
	}
	if p.Name != "" {
		sess.SetAttribute("name", p.Name)
	}
	if p.Email != "" {
		sess.SetAttribute("email", p.Email)
	}
	err = e.sessions.Create(ctx, sess,
		carrierSessionIDFromContext(ctx),
		clientIPFromContext(ctx),
		userAgentFromContext(ctx),
	)
	if err != nil {
		return nil, e.backendErr(err)
	}
	e.count(MetricSessionCreated)
	return sess, nil
}

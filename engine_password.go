package authvault

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authvault/authvault/internal"
	"github.com/authvault/authvault/internal/limiters"
	"github.com/authvault/authvault/internal/stores"
	"github.com/authvault/authvault/password"
)

// hashNewPassword applies the password policy and hashes. Policy
// violations map to [ErrPasswordPolicy].
func (e *Engine) hashNewPassword(newPass string) (string, error) {
	hash, err := e.hasher.Hash(newPass)
	if errors.Is(err, password.ErrTooShort) {
		e.count(MetricPasswordRejected)
		return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// applyPasswordUpdate persists the new hash with its history entry, then
// invalidates outstanding reset tokens and destroys every session of the
// principal, so neither an old reset link nor a stolen session outlives
// the credential.
func (e *Engine) applyPasswordUpdate(ctx context.Context, p Principal, newHash, actor, reason string) error {
	update := PasswordUpdate{
		NewHash: newHash,
		History: HistoryEntry{
			EntryID:     uuid.NewString(),
			PrincipalID: p.ID,
			OldHash:     p.PasswordHash,
			Actor:       actor,
			Reason:      reason,
			ChangedAt:   time.Now().UTC(),
		},
	}
	if err := e.principals.UpdatePassword(ctx, p.ID, update); err != nil {
		return e.backendErr(err)
	}

	if err := e.resets.Invalidate(ctx, p.ID); err != nil {
		e.log.Warn().Err(err).Str("principal", p.ID).Msg("reset invalidation failed")
	}

	destroyed, err := e.sessions.DestroyAllForPrincipal(ctx, p.ID)
	if err != nil {
		e.log.Warn().Err(err).Str("principal", p.ID).Msg("session sweep failed")
	} else if destroyed > 0 {
		e.count(MetricSessionDestroyed)
	}

	if err := e.lockout.Reset(ctx, p.ID); err != nil {
		e.log.Warn().Err(err).Str("principal", p.ID).Msg("lockout reset failed")
	}

	e.count(MetricPasswordChanged)
	return nil
}

// ChangePassword replaces the principal's password after verifying the
// current one. On success all the principal's sessions are destroyed and
// any outstanding reset token is invalidated; the caller must establish
// a new session.
func (e *Engine) ChangePassword(ctx context.Context, principalID, currentPass, newPass string) error {
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return e.backendErr(err)
	}

	ok, err := e.hasher.Verify(currentPass, p.PasswordHash)
	if err != nil {
		return e.backendErr(err)
	}
	if !ok {
		e.count(MetricPasswordRejected)
		e.emitAudit("password.change_rejected", p.ID, "", clientIPFromContext(ctx), false,
			ErrCurrentPasswordMismatch, nil)
		return ErrCurrentPasswordMismatch
	}

	newHash, err := e.hashNewPassword(newPass)
	if err != nil {
		return err
	}

	if err := e.applyPasswordUpdate(ctx, p, newHash, "self", "user_update"); err != nil {
		return err
	}
	e.emitAudit("password.changed", p.ID, "", clientIPFromContext(ctx), true, nil,
		map[string]string{"actor": "self"})
	e.log.Info().Str("principal", p.ID).Msg("password changed")
	return nil
}

// AdminSetPassword replaces a principal's password on behalf of an
// operator, without knowing the current one. reason is recorded in the
// history entry.
func (e *Engine) AdminSetPassword(ctx context.Context, principalID, newPass, reason string) error {
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return e.backendErr(err)
	}

	newHash, err := e.hashNewPassword(newPass)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "admin_reset"
	}

	if err := e.applyPasswordUpdate(ctx, p, newHash, "admin", reason); err != nil {
		return err
	}
	e.emitAudit("password.admin_set", p.ID, "", clientIPFromContext(ctx), true, nil,
		map[string]string{"actor": "admin", "reason": reason})
	e.log.Info().Str("principal", p.ID).Msg("password set by operator")
	return nil
}

// RequestPasswordReset issues a single-use reset token for identifier
// and emails a reset link. The return value is identical for known and
// unknown identifiers; only delivery or backend failures surface. The
// plaintext token is returned to support non-mail delivery channels and
// is never stored.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	ip := clientIPFromContext(ctx)

	// Charged per identifier AND per IP: rotating identifiers must not
	// refresh a single client's budget.
	for _, key := range resetThrottleKeys(identifier, ip) {
		if err := e.resetThrottle.Allow(ctx, key); err != nil {
			if errors.Is(err, limiters.ErrThrottled) {
				e.count(MetricResetRejected)
				e.emitAudit("reset.throttled", "", "", ip, false, ErrResetThrottled, nil)
				return "", ErrResetThrottled
			}
			return "", e.backendErr(err)
		}
	}

	p, err := e.principals.GetByEmail(ctx, identifier)
	if errors.Is(err, ErrPrincipalNotFound) {
		// Success-shaped: the response must not reveal whether the
		// account exists.
		e.emitAudit("reset.requested", "", "", ip, true, nil,
			map[string]string{"known": "false"})
		return "", nil
	}
	if err != nil {
		return "", e.backendErr(err)
	}

	secret, err := internal.NewResetSecret()
	if err != nil {
		return "", err
	}
	hash := internal.HashSecret(secret)
	if err := e.resets.Save(ctx, p.ID, hash[:], e.cfg.PasswordReset.TokenTTL); err != nil {
		return "", e.backendErr(err)
	}

	token := internal.EncodeResetToken(secret)
	if err := e.deliverResetLink(ctx, p, token); err != nil {
		_ = e.resets.Invalidate(ctx, p.ID)
		return "", err
	}

	e.count(MetricResetRequested)
	e.emitAudit("reset.requested", p.ID, "", ip, true, nil,
		map[string]string{"known": "true"})
	e.log.Info().Str("principal", p.ID).Msg("password reset requested")
	return token, nil
}

func resetThrottleKeys(identifier, ip string) []string {
	keys := make([]string, 0, 2)
	if identifier != "" {
		keys = append(keys, "id:"+identifier)
	}
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

func (e *Engine) deliverResetLink(ctx context.Context, p Principal, token string) error {
	link := token
	if e.cfg.PasswordReset.LinkBase != "" {
		q := url.Values{}
		q.Set("token", token)
		q.Set("id", p.ID)
		sep := "?"
		if strings.Contains(e.cfg.PasswordReset.LinkBase, "?") {
			sep = "&"
		}
		link = e.cfg.PasswordReset.LinkBase + sep + q.Encode()
	}
	minutes := int(e.cfg.PasswordReset.TokenTTL / time.Minute)

	htmlBody := fmt.Sprintf(
		"<p>Hello %s,</p><p>A password reset was requested for your account. "+
			"Follow this link to choose a new password:</p><p><a href=\"%s\">%s</a></p>"+
			"<p>The link expires in %d minutes and works once. If you did not request it, ignore this message.</p>"+
			"<p>— %s</p>",
		p.Name, link, link, minutes, e.cfg.MFA.SenderName)
	textBody := fmt.Sprintf(
		"Hello %s,\n\nA password reset was requested for your account. "+
			"Follow this link to choose a new password:\n\n%s\n\n"+
			"The link expires in %d minutes and works once. If you did not request it, ignore this message.\n\n— %s\n",
		p.Name, link, minutes, e.cfg.MFA.SenderName)

	if err := e.mailer.Send(ctx, p.Email, p.Name, "Password reset", htmlBody, textBody); err != nil {
		e.count(MetricDeliveryFailure)
		e.emitAudit("reset.delivery_failed", p.ID, "", clientIPFromContext(ctx), false, err, nil)
		e.log.Error().Err(err).Str("principal", p.ID).Msg("reset link delivery failed")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func mapResetErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetMismatch),
		errors.Is(err, stores.ErrResetAttemptsExceeded):
		return ErrResetTokenInvalid
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// RedeemResetToken checks a reset token without consuming it, so a
// reset form can be validated before the user types a new password.
// Wrong tokens charge the record's attempt budget.
func (e *Engine) RedeemResetToken(ctx context.Context, principalID, token string) error {
	secret, err := internal.DecodeResetToken(token)
	if err != nil {
		e.count(MetricResetRejected)
		return ErrResetTokenInvalid
	}
	hash := internal.HashSecret(secret)

	if err := mapResetErr(e.resets.Verify(ctx, principalID, hash[:])); err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			e.count(MetricResetRejected)
			e.emitAudit("reset.rejected", principalID, "", clientIPFromContext(ctx), false, err, nil)
		}
		return err
	}
	return nil
}

// CompleteReset consumes the reset token and installs the new password.
// The token redeems exactly once: concurrent submissions race on the
// atomic consume and only one wins. On success every session of the
// principal is destroyed.
func (e *Engine) CompleteReset(ctx context.Context, principalID, token, newPass string) error {
	secret, err := internal.DecodeResetToken(token)
	if err != nil {
		e.count(MetricResetRejected)
		return ErrResetTokenInvalid
	}
	hash := internal.HashSecret(secret)

	// Hash the password before consuming: a policy violation must leave
	// the token redeemable for another attempt.
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		e.count(MetricResetRejected)
		return ErrResetTokenInvalid
	}
	if err != nil {
		return e.backendErr(err)
	}
	newHash, err := e.hashNewPassword(newPass)
	if err != nil {
		return err
	}

	if err := mapResetErr(e.resets.Consume(ctx, principalID, hash[:])); err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			e.count(MetricResetRejected)
			e.emitAudit("reset.rejected", principalID, "", clientIPFromContext(ctx), false, err, nil)
		}
		return err
	}

	if err := e.applyPasswordUpdate(ctx, p, newHash, "self", "password_reset"); err != nil {
		return err
	}

	e.count(MetricResetCompleted)
	e.emitAudit("reset.completed", p.ID, "", clientIPFromContext(ctx), true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("password reset completed")
	return nil
}

// UnlockAccount clears a lockout: the failure counter is reset and a
// blocked account returns to active. Operator-facing.
func (e *Engine) UnlockAccount(ctx context.Context, principalID string) error {
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return e.backendErr(err)
	}

	if err := e.lockout.Reset(ctx, principalID); err != nil {
		return e.backendErr(err)
	}
	if p.Status == StatusBlocked {
		if err := e.principals.UpdateStatus(ctx, principalID, StatusActive); err != nil {
			return e.backendErr(err)
		}
	}
	e.emitAudit("account.unlocked", principalID, "", clientIPFromContext(ctx), true, nil, nil)
	return nil
}

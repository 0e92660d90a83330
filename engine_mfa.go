package authvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authvault/authvault/internal"
	"github.com/authvault/authvault/internal/stores"
)

const (
	challengeKindLogin      = stores.CodeKindLogin
	challengeKindActivation = stores.CodeKindActivation
	challengeKindEnroll     = stores.CodeKindEnroll

	codeDigits = 6
)

func (e *Engine) codeTTL(kind string) time.Duration {
	if kind == challengeKindActivation {
		return e.cfg.MFA.ActivationCodeTTL
	}
	return e.cfg.MFA.LoginCodeTTL
}

// beginChallenge issues a one-time code for p, persists it, registers an
// opaque challenge handle, and emails the code. Delivery failure rolls
// the stored code and challenge back so a dead mail provider never
// leaves a redeemable code behind.
func (e *Engine) beginChallenge(ctx context.Context, p Principal, kind string) (string, error) {
	code, err := internal.NewNumericCode(codeDigits)
	if err != nil {
		return "", err
	}

	ttl := e.codeTTL(kind)
	if err := e.codes.Put(ctx, kind, p.ID, code, ttl); err != nil {
		return "", e.backendErr(err)
	}

	challengeID, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	err = e.challenges.Save(ctx, challengeID,
		stores.Challenge{PrincipalID: p.ID, Kind: kind}, e.cfg.MFA.ChallengeTTL)
	if err != nil {
		_ = e.codes.Clear(ctx, kind, p.ID)
		return "", e.backendErr(err)
	}

	if err := e.deliverCode(ctx, p, kind, code, ttl); err != nil {
		_ = e.codes.Clear(ctx, kind, p.ID)
		_ = e.challenges.Delete(ctx, challengeID)
		return "", err
	}

	e.count(MetricCodeIssued)
	e.emitAudit("code.issued", p.ID, "", clientIPFromContext(ctx), true, nil,
		map[string]string{"kind": kind})
	return challengeID, nil
}

func (e *Engine) deliverCode(ctx context.Context, p Principal, kind, code string, ttl time.Duration) error {
	subject := "Your verification code"
	intro := "Use this code to finish signing in."
	switch kind {
	case challengeKindActivation:
		subject = "Activate your account"
		intro = "Use this code to activate your account."
	case challengeKindEnroll:
		subject = "Confirm two-factor authentication"
		intro = "Use this code to turn on two-factor authentication for your account."
	}
	minutes := int(ttl / time.Minute)

	htmlBody := fmt.Sprintf(
		"<p>Hello %s,</p><p>%s</p><p style=\"font-size:1.5em\"><strong>%s</strong></p>"+
			"<p>The code expires in %d minutes. If you did not request it, you can ignore this message.</p>"+
			"<p>— %s</p>",
		p.Name, intro, code, minutes, e.cfg.MFA.SenderName)
	textBody := fmt.Sprintf(
		"Hello %s,\n\n%s\n\n%s\n\nThe code expires in %d minutes. If you did not request it, you can ignore this message.\n\n— %s\n",
		p.Name, intro, code, minutes, e.cfg.MFA.SenderName)

	if err := e.mailer.Send(ctx, p.Email, p.Name, subject, htmlBody, textBody); err != nil {
		e.count(MetricDeliveryFailure)
		e.emitAudit("code.delivery_failed", p.ID, "", clientIPFromContext(ctx), false, err,
			map[string]string{"kind": kind})
		e.log.Error().Err(err).Str("principal", p.ID).Str("kind", kind).
			Msg("code delivery failed")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// resolveChallenge maps a challenge handle of the expected kind back to
// its principal. Wrong-kind handles are indistinguishable from expired
// ones.
func (e *Engine) resolveChallenge(ctx context.Context, challengeID, kind string) (Principal, error) {
	ch, err := e.challenges.Get(ctx, challengeID)
	if errors.Is(err, stores.ErrChallengeNotFound) {
		return Principal{}, ErrChallengeInvalid
	}
	if err != nil {
		return Principal{}, e.backendErr(err)
	}
	if ch.Kind != kind {
		return Principal{}, ErrChallengeInvalid
	}

	p, err := e.principals.GetByID(ctx, ch.PrincipalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return Principal{}, ErrChallengeInvalid
	}
	if err != nil {
		return Principal{}, e.backendErr(err)
	}
	return p, nil
}

func (e *Engine) consumeCode(ctx context.Context, p Principal, kind, code string) error {
	err := e.codes.Consume(ctx, kind, p.ID, code)
	if errors.Is(err, stores.ErrCodeMismatch) {
		e.count(MetricCodeRejected)
		e.emitAudit("code.rejected", p.ID, "", clientIPFromContext(ctx), false, ErrCodeInvalid,
			map[string]string{"kind": kind})
		return ErrCodeInvalid
	}
	if err != nil {
		return e.backendErr(err)
	}
	e.count(MetricCodeVerified)
	return nil
}

// VerifyLoginCode completes a two-factor login: it redeems the code
// issued for challengeID and creates the session. A wrong code returns
// [ErrCodeInvalid] and leaves the challenge redeemable until it expires;
// the stored code survives wrong guesses but redeems at most once.
func (e *Engine) VerifyLoginCode(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	p, err := e.resolveChallenge(ctx, challengeID, challengeKindLogin)
	if err != nil {
		return nil, err
	}
	if err := e.consumeCode(ctx, p, challengeKindLogin, code); err != nil {
		return nil, err
	}
	_ = e.challenges.Delete(ctx, challengeID)

	sess, err := e.createSession(ctx, p)
	if err != nil {
		return nil, err
	}

	e.count(MetricLoginSuccess)
	e.emitAudit("login.mfa_success", p.ID, sess.ID, clientIPFromContext(ctx), true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("two-factor login succeeded")
	return &LoginResult{State: LoginSessionCreated, Session: sess}, nil
}

// VerifyActivationCode completes first-login activation: it redeems the
// activation code, flips the account to [StatusActive], and creates the
// session.
func (e *Engine) VerifyActivationCode(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	p, err := e.resolveChallenge(ctx, challengeID, challengeKindActivation)
	if err != nil {
		return nil, err
	}
	if err := e.consumeCode(ctx, p, challengeKindActivation, code); err != nil {
		return nil, err
	}
	_ = e.challenges.Delete(ctx, challengeID)

	if p.Status == StatusPending {
		if err := e.principals.UpdateStatus(ctx, p.ID, StatusActive); err != nil {
			return nil, e.backendErr(err)
		}
		p.Status = StatusActive
	}

	sess, err := e.createSession(ctx, p)
	if err != nil {
		return nil, err
	}

	e.count(MetricActivationComplete)
	e.count(MetricLoginSuccess)
	e.emitAudit("activation.complete", p.ID, sess.ID, clientIPFromContext(ctx), true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("account activated")
	return &LoginResult{State: LoginSessionCreated, Session: sess}, nil
}

// RequestTwoFAEnrollment starts code-verified two-factor enrollment for
// a principal: a code is emailed and a challenge handle returned. The
// flag only flips once [Engine.EnableTwoFA] redeems the code, proving
// the principal can actually receive codes at their address.
func (e *Engine) RequestTwoFAEnrollment(ctx context.Context, principalID string) (string, error) {
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return "", ErrPrincipalNotFound
	}
	if err != nil {
		return "", e.backendErr(err)
	}

	return e.beginChallenge(ctx, p, challengeKindEnroll)
}

// EnableTwoFA completes enrollment: it redeems the code issued for
// challengeID and flips the principal's two-factor flag. Subsequent
// logins require the emailed second factor.
func (e *Engine) EnableTwoFA(ctx context.Context, challengeID, code string) error {
	p, err := e.resolveChallenge(ctx, challengeID, challengeKindEnroll)
	if err != nil {
		return err
	}
	if err := e.consumeCode(ctx, p, challengeKindEnroll, code); err != nil {
		return err
	}
	_ = e.challenges.Delete(ctx, challengeID)

	if err := e.principals.UpdateTwoFA(ctx, p.ID, true); err != nil {
		return e.backendErr(err)
	}

	e.emitAudit("2fa.enabled", p.ID, "", clientIPFromContext(ctx), true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("two-factor authentication enabled")
	return nil
}

// DisableTwoFA clears the principal's two-factor flag and discards any
// outstanding login code. Disabling an unenrolled principal is a no-op.
func (e *Engine) DisableTwoFA(ctx context.Context, principalID string) error {
	p, err := e.principals.GetByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return e.backendErr(err)
	}
	if !p.TwoFAEnabled {
		return nil
	}

	if err := e.principals.UpdateTwoFA(ctx, p.ID, false); err != nil {
		return e.backendErr(err)
	}
	_ = e.codes.Clear(ctx, challengeKindLogin, p.ID)

	e.emitAudit("2fa.disabled", p.ID, "", clientIPFromContext(ctx), true, nil, nil)
	e.log.Info().Str("principal", p.ID).Msg("two-factor authentication disabled")
	return nil
}

// ResendCode reissues the one-time code behind a live challenge and
// emails it again. The previous code stops working immediately.
func (e *Engine) ResendCode(ctx context.Context, challengeID string) error {
	ch, err := e.challenges.Get(ctx, challengeID)
	if errors.Is(err, stores.ErrChallengeNotFound) {
		return ErrChallengeInvalid
	}
	if err != nil {
		return e.backendErr(err)
	}

	p, err := e.principals.GetByID(ctx, ch.PrincipalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrChallengeInvalid
	}
	if err != nil {
		return e.backendErr(err)
	}

	code, err := internal.NewNumericCode(codeDigits)
	if err != nil {
		return err
	}
	ttl := e.codeTTL(ch.Kind)
	if err := e.codes.Put(ctx, ch.Kind, p.ID, code, ttl); err != nil {
		return e.backendErr(err)
	}

	if err := e.deliverCode(ctx, p, ch.Kind, code, ttl); err != nil {
		_ = e.codes.Clear(ctx, ch.Kind, p.ID)
		return err
	}

	e.count(MetricCodeIssued)
	e.emitAudit("code.reissued", p.ID, "", clientIPFromContext(ctx), true, nil,
		map[string]string{"kind": ch.Kind})
	return nil
}

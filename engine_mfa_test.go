package authvault

import (
	"errors"
	"testing"
	"time"
)

func TestTwoFactorLoginFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != LoginAwaitingMFA {
		t.Fatalf("state = %v, want LoginAwaitingMFA", res.State)
	}
	if res.Session != nil {
		t.Fatal("session created before the second factor")
	}
	if res.ChallengeID == "" {
		t.Fatal("no challenge handle returned")
	}

	code := env.mailer.lastCode(t)
	final, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, code)
	if err != nil {
		t.Fatalf("VerifyLoginCode: %v", err)
	}
	if final.State != LoginSessionCreated || final.Session == nil {
		t.Fatalf("final = %+v", final)
	}
	if final.Session.PrincipalID != id {
		t.Fatalf("principal = %q, want %q", final.Session.PrincipalID, id)
	}

	// The code is single-use; the challenge is gone after success.
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("replay: err = %v, want ErrChallengeInvalid", err)
	}
}

func TestWrongCodeLeavesChallengeAlive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	code := env.mailer.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, wrong); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}

	// The right code still completes the same challenge.
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, code); err != nil {
		t.Fatalf("VerifyLoginCode after wrong guess: %v", err)
	}
}

func TestCodeExpiresWithTTL(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	code := env.mailer.lastCode(t)

	env.mr.FastForward(11 * time.Minute) // past LoginCodeTTL and ChallengeTTL
	_, err = env.engine.VerifyLoginCode(ctx, res.ChallengeID, code)
	if !errors.Is(err, ErrChallengeInvalid) && !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("err = %v, want challenge or code invalid", err)
	}
}

func TestResendInvalidatesPreviousCode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	firstCode := env.mailer.lastCode(t)

	if err := env.engine.ResendCode(ctx, res.ChallengeID); err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	secondCode := env.mailer.lastCode(t)

	if firstCode != secondCode {
		if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, firstCode); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("superseded code: err = %v, want ErrCodeInvalid", err)
		}
	}
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, secondCode); err != nil {
		t.Fatalf("VerifyLoginCode with reissued code: %v", err)
	}
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	env.mailer.setFailing(true)
	_, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}

	// Nothing redeemable was left behind; a retry works cleanly.
	env.mailer.setFailing(false)
	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("retry Login: %v", err)
	}
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, env.mailer.lastCode(t)); err != nil {
		t.Fatalf("VerifyLoginCode: %v", err)
	}
}

func TestPendingAccountActivationFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "new@example.com", "a strong password", func(p *Principal) {
		p.Status = StatusPending
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "new@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != LoginAwaitingActivation {
		t.Fatalf("state = %v, want LoginAwaitingActivation", res.State)
	}

	code := env.mailer.lastCode(t)
	final, err := env.engine.VerifyActivationCode(ctx, res.ChallengeID, code)
	if err != nil {
		t.Fatalf("VerifyActivationCode: %v", err)
	}
	if final.State != LoginSessionCreated || final.Session == nil {
		t.Fatalf("final = %+v", final)
	}
	if env.store.get(id).Status != StatusActive {
		t.Fatalf("status = %v, want StatusActive", env.store.get(id).Status)
	}

	// Subsequent logins go straight to a session.
	direct, err := env.engine.Login(ctx, "new@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login after activation: %v", err)
	}
	if direct.State != LoginSessionCreated {
		t.Fatalf("state = %v, want LoginSessionCreated", direct.State)
	}
}

func TestTwoFAEnrollmentFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "guest@example.com", "a strong password", nil)
	ctx := reqCtx("198.51.100.7", "test-agent")

	challengeID, err := env.engine.RequestTwoFAEnrollment(ctx, id)
	if err != nil {
		t.Fatalf("RequestTwoFAEnrollment: %v", err)
	}
	if env.store.get(id).TwoFAEnabled {
		t.Fatal("flag flipped before the code was verified")
	}

	code := env.mailer.lastCode(t)
	if err := env.engine.EnableTwoFA(ctx, challengeID, code); err != nil {
		t.Fatalf("EnableTwoFA: %v", err)
	}
	if !env.store.get(id).TwoFAEnabled {
		t.Fatal("flag not flipped after verification")
	}

	// Logins now require the second factor.
	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != LoginAwaitingMFA {
		t.Fatalf("state = %v, want LoginAwaitingMFA", res.State)
	}
}

func TestEnableTwoFARejectsWrongCode(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "guest@example.com", "a strong password", nil)
	ctx := reqCtx("198.51.100.7", "test-agent")

	challengeID, err := env.engine.RequestTwoFAEnrollment(ctx, id)
	if err != nil {
		t.Fatalf("RequestTwoFAEnrollment: %v", err)
	}
	code := env.mailer.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := env.engine.EnableTwoFA(ctx, challengeID, wrong); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
	if env.store.get(id).TwoFAEnabled {
		t.Fatal("flag flipped on a wrong code")
	}

	if err := env.engine.EnableTwoFA(ctx, challengeID, code); err != nil {
		t.Fatalf("EnableTwoFA after wrong guess: %v", err)
	}
}

func TestEnrollmentChallengeRejectsLoginVerify(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "guest@example.com", "a strong password", nil)
	ctx := reqCtx("198.51.100.7", "test-agent")

	challengeID, err := env.engine.RequestTwoFAEnrollment(ctx, id)
	if err != nil {
		t.Fatalf("RequestTwoFAEnrollment: %v", err)
	}
	code := env.mailer.lastCode(t)

	// An enrollment code can never complete a login.
	if _, err := env.engine.VerifyLoginCode(ctx, challengeID, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v, want ErrChallengeInvalid", err)
	}
}

func TestDisableTwoFA(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.seed(t, "guest@example.com", "a strong password", func(p *Principal) {
		p.TwoFAEnabled = true
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	if err := env.engine.DisableTwoFA(ctx, id); err != nil {
		t.Fatalf("DisableTwoFA: %v", err)
	}
	if env.store.get(id).TwoFAEnabled {
		t.Fatal("flag still set")
	}

	// Login goes straight to a session again.
	res, err := env.engine.Login(ctx, "guest@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != LoginSessionCreated {
		t.Fatalf("state = %v, want LoginSessionCreated", res.State)
	}

	// Idempotent.
	if err := env.engine.DisableTwoFA(ctx, id); err != nil {
		t.Fatalf("second DisableTwoFA: %v", err)
	}
}

func TestActivationChallengeRejectsLoginVerify(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "new@example.com", "a strong password", func(p *Principal) {
		p.Status = StatusPending
	})
	ctx := reqCtx("198.51.100.7", "test-agent")

	res, err := env.engine.Login(ctx, "new@example.com", "a strong password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	code := env.mailer.lastCode(t)

	// An activation challenge cannot be completed through the two-factor
	// endpoint.
	if _, err := env.engine.VerifyLoginCode(ctx, res.ChallengeID, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v, want ErrChallengeInvalid", err)
	}
}

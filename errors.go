package authvault

import "errors"

var (
	// ErrEngineNotReady is returned when the engine is missing a required
	// collaborator. It indicates a wiring bug, not a runtime condition.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords. The two cases are deliberately indistinguishable to
	// callers to resist account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPrincipalNotFound is the sentinel a PrincipalStore must return
	// (possibly wrapped) when a lookup matches nothing.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrAccountLocked rejects a login for a principal whose account is
	// blocked or whose failed-attempt counter reached the threshold. The
	// password is not verified when this is returned.
	ErrAccountLocked = errors.New("account locked")

	// ErrLoginThrottled rejects a login attempt over the sliding
	// per-IP/identifier budget, before any credential work happens.
	ErrLoginThrottled = errors.New("login attempts throttled")

	// ErrSessionNotFound is returned for a missing, expired, or destroyed
	// session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionHijacked is returned when a session's bound fingerprint no
	// longer matches the request. The session has been destroyed.
	ErrSessionHijacked = errors.New("session fingerprint mismatch")

	// ErrChallengeInvalid is returned for an unknown or expired login
	// challenge handle.
	ErrChallengeInvalid = errors.New("challenge invalid or expired")

	// ErrCodeInvalid is returned for a one-time code that is wrong,
	// expired, or already used. The conditions are not distinguished.
	ErrCodeInvalid = errors.New("verification code invalid or expired")

	// ErrDeliveryFailed is returned when the mail collaborator could not
	// deliver a code or reset link. Any code stored for the attempt has
	// been discarded, so the caller can safely retry.
	ErrDeliveryFailed = errors.New("message delivery failed")

	// ErrResetTokenInvalid is returned for a reset token that is wrong,
	// expired, or already redeemed. The remedy is requesting a new one.
	ErrResetTokenInvalid = errors.New("reset token invalid, expired, or used")

	// ErrResetThrottled rejects a password reset request over the
	// per-window budget.
	ErrResetThrottled = errors.New("reset requests throttled")

	// ErrCurrentPasswordMismatch is returned by ChangePassword when the
	// supplied current password does not verify. Nothing was mutated.
	ErrCurrentPasswordMismatch = errors.New("current password incorrect")

	// ErrPasswordPolicy is returned when a new password fails policy
	// validation.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrBackendUnavailable wraps persistence failures. The operation was
	// aborted with no partial state left behind.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

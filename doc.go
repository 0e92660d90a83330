// Package authvault is an embeddable authentication and session security
// engine: server-side sessions with ID rotation and fingerprint binding,
// per-session CSRF tokens, argon2id credential storage with history
// tracking, single-use password reset tokens, emailed one-time codes for
// account activation and two-factor login, and a lockout/throttle policy
// wired into the login state machine.
//
// Redis holds all volatile security state (sessions, codes, reset tokens,
// counters). Durable principal data lives behind the caller-implemented
// [PrincipalStore]; outbound email behind [Mailer]. Build an [Engine] with
// [New]:
//
//	engine, err := authvault.New().
//		WithRedis(rdb).
//		WithPrincipalStore(store).
//		WithMailer(mailer).
//		Build()
package authvault

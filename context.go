package authvault

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type carrierIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for throttling, audit records, and session fingerprint binding.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx, used for
// session fingerprint binding.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithCarrierSessionID attaches the session ID the request arrived with,
// if any. Login invalidates it before issuing a fresh one so an attacker
// cannot fixate a victim onto a known ID.
func WithCarrierSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, carrierIDContextKey{}, sessionID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func carrierSessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(carrierIDContextKey{}).(string)
	return id
}

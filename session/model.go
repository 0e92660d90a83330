// Package session implements Redis-backed server-side sessions with
// sliding expiry, transparent ID rotation, and fingerprint binding.
package session

// Session is the server-side state addressed by an opaque ID. The ID is
// never part of the stored payload; only the carrier cookie and the Redis
// key know it.
type Session struct {
	ID string `json:"-"`

	PrincipalID string            `json:"pid"`
	Role        string            `json:"role"`
	Attributes  map[string]string `json:"attrs,omitempty"`

	// Unix seconds. LastActivity drives the idle timeout; LastRegenerated
	// drives transparent ID rotation.
	CreatedAt       int64 `json:"cat"`
	LastActivity    int64 `json:"lat"`
	LastRegenerated int64 `json:"rat"`

	// sha256 of the client values bound at creation. Empty when the
	// corresponding binding is disabled.
	IPHash        []byte `json:"iph,omitempty"`
	UserAgentHash []byte `json:"uah,omitempty"`

	CSRFToken    string `json:"csrf,omitempty"`
	CSRFIssuedAt int64  `json:"csat,omitempty"`
}

// Authenticated reports whether the session carries a principal.
func (s *Session) Authenticated() bool {
	return s != nil && s.PrincipalID != ""
}

// Attribute returns the named attribute or "".
func (s *Session) Attribute(key string) string {
	if s == nil || s.Attributes == nil {
		return ""
	}
	return s.Attributes[key]
}

// SetAttribute stores an application attribute on the session. Callers
// persist the change with [Store.Update].
func (s *Session) SetAttribute(key, value string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string, 1)
	}
	s.Attributes[key] = value
}

package session

import "time"

// Session is the server-side record backing one issued token. The record
// lives in Redis under the token's session ID until its TTL elapses, so a
// revoked session stays observable (and distinguishable from a missing
// one) for the remainder of its natural lifetime.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role,omitempty"`

	IssuedAt  int64 `json:"issued_at"`
	ExpiresAt int64 `json:"expires_at"`

	// Active is the revocation flag. It never flips back to true.
	Active    bool  `json:"active"`
	RevokedAt int64 `json:"revoked_at,omitempty"`
}

// Expired reports whether the session's lifetime has elapsed at now.
// Expiry is a pure function of time; no store write marks it.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// Valid reports whether the session authorizes requests at now: it must
// be active and not expired.
func (s *Session) Valid(now time.Time) bool {
	return s.Active && !s.Expired(now)
}

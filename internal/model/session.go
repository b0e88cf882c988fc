package model

import "time"

// Session is one durable login session backing a token pair. There is one
// row per successful login, not per request. The raw refresh token is never
// stored; RefreshTokenHash holds its SHA-256 hex digest and at most one hash
// is valid per session at a time.
//
// IsActive=false is terminal: a revoked session can never be reactivated.
type Session struct {
	ID               uint64     // sessions.id
	SessionID        string     // sessions.session_id (uuid, carried inside token payloads)
	AccountID        uint64     // sessions.account_id
	IPAddress        string     // sessions.ip_address
	UserAgent        string     // sessions.user_agent
	RefreshTokenHash string     // sessions.refresh_token_hash (SHA-256 hex)
	CreatedAt        time.Time  // sessions.created_at
	LastActivity     time.Time  // sessions.last_activity
	ExpiresAt        time.Time  // sessions.expires_at
	IsActive         bool       // sessions.is_active
	RevokedAt        *time.Time // sessions.revoked_at (nullable)
}

// IsExpired reports whether the session's expiry has passed.
func (s *Session) IsExpired(now time.Time) bool { return now.After(s.ExpiresAt) }

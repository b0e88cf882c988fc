package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/captivenet/portal/internal/model"
)

// SessionRepo persists durable login sessions. One row per successful
// login; the row is only ever revoked, never deleted.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = `id, session_id, account_id, ip_address, user_agent,
	refresh_token_hash, created_at, last_activity, expires_at, is_active, revoked_at`

// Create inserts a session row and returns its numeric id.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions
		(session_id, account_id, ip_address, user_agent, refresh_token_hash,
		 last_activity, expires_at, is_active)
		VALUES (?,?,?,?,?,UTC_TIMESTAMP(),?,1)`,
		s.SessionID, s.AccountID, s.IPAddress, s.UserAgent, s.RefreshTokenHash,
		s.ExpiresAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetBySessionID fetches a session by its public uuid.
func (r *SessionRepo) GetBySessionID(ctx context.Context, sessionID string) (model.Session, error) {
	var (
		s         model.Session
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id=? LIMIT 1`, sessionID).
		Scan(&s.ID, &s.SessionID, &s.AccountID, &s.IPAddress, &s.UserAgent,
			&s.RefreshTokenHash, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt,
			&s.IsActive, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

// ListActiveForAccount returns the account's live sessions, most recently
// used first.
func (r *SessionRepo) ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id=? AND is_active=1 ORDER BY last_activity DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var (
			s         model.Session
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &s.AccountID, &s.IPAddress,
			&s.UserAgent, &s.RefreshTokenHash, &s.CreatedAt, &s.LastActivity,
			&s.ExpiresAt, &s.IsActive, &revokedAt); err != nil {
			return nil, err
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			s.RevokedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateRefreshHash rotates the session's refresh credential hash and
// extends its expiry. At most one hash is valid per session; the previous
// one stops matching the moment this commits.
func (r *SessionRepo) UpdateRefreshHash(ctx context.Context, sessionID, hash string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET refresh_token_hash=?, expires_at=?,
		 last_activity=UTC_TIMESTAMP() WHERE session_id=? AND is_active=1`,
		hash, expires, sessionID)
	return err
}

// Extend pushes the session expiry forward without touching the refresh
// hash (non-rotating refresh policy).
func (r *SessionRepo) Extend(ctx context.Context, sessionID string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET expires_at=?, last_activity=UTC_TIMESTAMP()
		 WHERE session_id=? AND is_active=1`, expires, sessionID)
	return err
}

// TouchActivity updates last_activity. Best-effort by design: concurrent
// requests with the same token race here and last write wins.
func (r *SessionRepo) TouchActivity(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET last_activity=UTC_TIMESTAMP() WHERE session_id=?", sessionID)
	return err
}

// Revoke deactivates a session. Idempotent: the is_active guard makes a
// second revoke a no-op, and a revoked session can never be reactivated.
func (r *SessionRepo) Revoke(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET is_active=0, revoked_at=UTC_TIMESTAMP()
		 WHERE session_id=? AND is_active=1`, sessionID)
	return err
}

// RevokeAllForAccount deactivates every live session of an account
// ("log out everywhere").
func (r *SessionRepo) RevokeAllForAccount(ctx context.Context, accountID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET is_active=0, revoked_at=UTC_TIMESTAMP()
		 WHERE account_id=? AND is_active=1`, accountID)
	return err
}

// Package token implements the session-bound JWT token service: it issues,
// verifies, refreshes and revokes signed access/refresh token pairs.
//
// Every pair is backed by one durable session row. Both payloads carry the
// session id, so revoking the session invalidates access and refresh tokens
// at once without waiting for the access token to expire. Only the SHA-256
// hash of the refresh token is ever persisted.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/config"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/utils"
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired means the signature verified but the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongTokenType is returned when a non-refresh payload is presented to Refresh.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrSessionInvalid means the backing session is missing, revoked or owned by another account.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionExpired means the backing session exists but its expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshMismatch means the presented refresh token does not hash to the
	// stored credential: a replay of a token that was already rotated away.
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	// ErrAccountInactive means the owning account is no longer in a state
	// that may hold a session.
	ErrAccountInactive = errors.New("account inactive")
)

// SessionStore is the durable session persistence the service drives.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) (uint64, error)
	GetBySessionID(ctx context.Context, sessionID string) (model.Session, error)
	UpdateRefreshHash(ctx context.Context, sessionID, hash string, expires time.Time) error
	Extend(ctx context.Context, sessionID string, expires time.Time) error
	TouchActivity(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID string) error
}

// AccountStore is the read side the service needs to resolve token subjects.
type AccountStore interface {
	GetByID(ctx context.Context, id uint64) (model.Account, error)
}

// ClientContext carries the request attribution stamped onto new sessions.
type ClientContext struct {
	IP        string
	UserAgent string
}

// Pair is the result of issuing or refreshing tokens. ExpiresIn is the
// access token lifetime in seconds.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Service signs and validates tokens against the process-wide secret and
// the session registry.
type Service struct {
	cfg      config.AuthConfig
	sessions SessionStore
	accounts AccountStore
	log      *zap.Logger
	met      *metrics.Metrics
}

// NewService wires a token service.
func NewService(cfg config.AuthConfig, sessions SessionStore, accounts AccountStore, log *zap.Logger, met *metrics.Metrics) *Service {
	return &Service{cfg: cfg, sessions: sessions, accounts: accounts, log: log, met: met}
}

// Issue opens a durable session for the account and mints a signed token
// pair bound to it. The session row stores only the SHA-256 hash of the
// refresh token.
func (s *Service) Issue(ctx context.Context, account *model.Account, client ClientContext) (Pair, error) {
	now := time.Now().UTC()
	sessionID := uuid.NewString()
	sessionExp := now.Add(s.cfg.RefreshTTL)

	refresh, err := s.signRefresh(account.ID, sessionID, now)
	if err != nil {
		return Pair{}, err
	}
	access, err := s.signAccess(account, sessionID, now)
	if err != nil {
		return Pair{}, err
	}

	if _, err := s.sessions.Create(ctx, &model.Session{
		SessionID:        sessionID,
		AccountID:        account.ID,
		IPAddress:        client.IP,
		UserAgent:        client.UserAgent,
		RefreshTokenHash: utils.HashSHA256(refresh),
		ExpiresAt:        sessionExp,
		IsActive:         true,
	}); err != nil {
		return Pair{}, err
	}

	s.met.TokenIssued.Inc()
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// VerifyAccess validates an access token and returns the account it belongs
// to. When the payload carries a session id, the backing session must exist,
// belong to the claimed account, be active and unexpired; last_activity is
// then updated best-effort (a lost write here is acceptable).
func (s *Service) VerifyAccess(ctx context.Context, raw string) (model.Account, error) {
	claims, err := s.parse(raw, true)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, ErrTokenExpired) {
			reason = "expired"
		}
		s.met.TokenVerifyFailures.WithLabelValues(reason).Inc()
		return model.Account{}, err
	}

	accountID, ok := claimUint64(claims, "sub")
	if !ok {
		s.met.TokenVerifyFailures.WithLabelValues("invalid").Inc()
		return model.Account{}, ErrTokenInvalid
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		s.met.TokenVerifyFailures.WithLabelValues("session_invalid").Inc()
		return model.Account{}, ErrSessionInvalid
	}
	if account.Status != model.StatusActive || account.IsLocked(time.Now().UTC()) {
		s.met.TokenVerifyFailures.WithLabelValues("account_inactive").Inc()
		return model.Account{}, ErrAccountInactive
	}

	if sid, _ := claims["sid"].(string); sid != "" {
		sess, err := s.sessions.GetBySessionID(ctx, sid)
		if err != nil || !sess.IsActive || sess.AccountID != account.ID {
			s.met.TokenVerifyFailures.WithLabelValues("session_invalid").Inc()
			return model.Account{}, ErrSessionInvalid
		}
		if sess.IsExpired(time.Now().UTC()) {
			// Expired sessions are closed on first sight.
			_ = s.sessions.Revoke(ctx, sid)
			s.met.TokenVerifyFailures.WithLabelValues("session_expired").Inc()
			return model.Account{}, ErrSessionExpired
		}
		if err := s.sessions.TouchActivity(ctx, sid); err != nil {
			s.log.Warn("session activity update failed", zap.String("session_id", sid), zap.Error(err))
		}
	}
	return account, nil
}

// Refresh exchanges a valid refresh token for a new access token. Under the
// rotation policy it also mints a replacement refresh token, stores its
// hash and extends the session; otherwise the session expiry is extended
// and the presented token stays valid.
func (s *Service) Refresh(ctx context.Context, raw string) (Pair, error) {
	pair, err := s.refresh(ctx, raw)
	if err != nil {
		s.met.TokenRefreshes.WithLabelValues("rejected").Inc()
		return Pair{}, err
	}
	s.met.TokenRefreshes.WithLabelValues("success").Inc()
	return pair, nil
}

func (s *Service) refresh(ctx context.Context, raw string) (Pair, error) {
	claims, err := s.parse(raw, true)
	if err != nil {
		return Pair{}, err
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return Pair{}, ErrWrongTokenType
	}
	accountID, ok := claimUint64(claims, "sub")
	if !ok {
		return Pair{}, ErrTokenInvalid
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return Pair{}, ErrTokenInvalid
	}

	sess, err := s.sessions.GetBySessionID(ctx, sid)
	if err != nil || !sess.IsActive || sess.AccountID != accountID {
		return Pair{}, ErrSessionInvalid
	}
	now := time.Now().UTC()
	if sess.IsExpired(now) {
		_ = s.sessions.Revoke(ctx, sid)
		return Pair{}, ErrSessionExpired
	}
	if utils.HashSHA256(raw) != sess.RefreshTokenHash {
		// The presented token was already rotated away: replay.
		return Pair{}, ErrRefreshMismatch
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Pair{}, ErrSessionInvalid
	}

	access, err := s.signAccess(&account, sid, now)
	if err != nil {
		return Pair{}, err
	}

	refreshOut := raw
	newExp := now.Add(s.cfg.RefreshTTL)
	if s.cfg.RotateRefresh {
		rotated, err := s.signRefresh(account.ID, sid, now)
		if err != nil {
			return Pair{}, err
		}
		if err := s.sessions.UpdateRefreshHash(ctx, sid, utils.HashSHA256(rotated), newExp); err != nil {
			return Pair{}, err
		}
		refreshOut = rotated
	} else {
		if err := s.sessions.Extend(ctx, sid, newExp); err != nil {
			return Pair{}, err
		}
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refreshOut,
		SessionID:    sid,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Revoke best-effort revokes the session a refresh token points at. The
// token is decoded ignoring expiry so a stale token can still log out its
// session. Failures never propagate to the caller (revoking an
// already-invalid token is a no-op), but each swallowed failure is logged
// and counted so a signing-key rotation does not silently look like a
// stream of already-revoked tokens.
func (s *Service) Revoke(ctx context.Context, raw string) {
	claims, err := s.parse(raw, false)
	if err != nil {
		s.swallowRevoke("bad_signature", err)
		return
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		s.swallowRevoke("malformed", errors.New("payload has no session id"))
		return
	}
	if _, err := s.sessions.GetBySessionID(ctx, sid); err != nil {
		s.swallowRevoke("session_missing", err)
		return
	}
	if err := s.sessions.Revoke(ctx, sid); err != nil {
		s.swallowRevoke("store_error", err)
		return
	}
	s.met.SessionsRevoked.Inc()
}

func (s *Service) swallowRevoke(reason string, err error) {
	s.met.RevokeFailures.WithLabelValues(reason).Inc()
	s.log.Warn("refresh token revocation swallowed a failure",
		zap.String("reason", reason), zap.Error(err))
}

func (s *Service) signAccess(a *model.Account, sessionID string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   a.ID,
		"sid":   sessionID,
		"email": a.Email,
		"role":  string(a.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.AccessTTL).Unix(),
		"iss":   s.cfg.Issuer,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Service) signRefresh(accountID uint64, sessionID string, now time.Time) (string, error) {
	// jti keeps rotated tokens distinct even when two rotations land in
	// the same second; iat alone is not unique at that granularity.
	claims := jwt.MapClaims{
		"sub": accountID,
		"sid": sessionID,
		"typ": "refresh",
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.RefreshTTL).Unix(),
		"iss": s.cfg.Issuer,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.cfg.JWTSecret))
}

// parse validates signature and (optionally) registered claims, returning
// the payload. Signature errors and expiry are reported as distinct
// sentinel errors.
func (s *Service) parse(raw string, validateExpiry bool) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// claimUint64 extracts a numeric claim. JWT numbers decode as float64;
// string-encoded ids are tolerated for cross-implementation safety.
func claimUint64(claims jwt.MapClaims, key string) (uint64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return uint64(v), true
	case string:
		var n uint64
		for _, c := range v {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + uint64(c-'0')
		}
		return n, v != ""
	}
	return 0, false
}

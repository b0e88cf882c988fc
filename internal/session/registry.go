// Package session exposes the login-session registry: listing and revoking
// the durable sessions the token service opens.
package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
)

// ErrNotOwned is returned when an account tries to revoke a session that
// belongs to someone else.
var ErrNotOwned = errors.New("session not owned by account")

// Store is the persistence slice the registry needs.
type Store interface {
	GetBySessionID(ctx context.Context, sessionID string) (model.Session, error)
	ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForAccount(ctx context.Context, accountID uint64) error
}

// Registry gives accounts visibility and control over their own sessions.
type Registry struct {
	store  Store
	ledger *audit.Ledger
	log    *zap.Logger
	met    *metrics.Metrics
}

// NewRegistry wires a session registry.
func NewRegistry(store Store, ledger *audit.Ledger, log *zap.Logger, met *metrics.Metrics) *Registry {
	return &Registry{store: store, ledger: ledger, log: log, met: met}
}

// ListActive returns the account's live sessions, newest first.
func (r *Registry) ListActive(ctx context.Context, accountID uint64) ([]model.Session, error) {
	return r.store.ListActiveForAccount(ctx, accountID)
}

// Revoke ends one of the actor's own sessions. Revoking an already-revoked
// session is a no-op; revoking someone else's session is an error before
// anything is touched.
func (r *Registry) Revoke(ctx context.Context, actor *model.Account, sessionID, ip, userAgent string) error {
	sess, err := r.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.AccountID != actor.ID {
		return ErrNotOwned
	}
	if err := r.store.Revoke(ctx, sessionID); err != nil {
		return err
	}
	r.met.SessionsRevoked.Inc()
	r.writeAudit(ctx, actor, model.ActionSessionRevoke, sessionID, ip, userAgent, nil)
	return nil
}

// RevokeAll ends every live session of the actor, typically "log me out
// everywhere".
func (r *Registry) RevokeAll(ctx context.Context, actor *model.Account, ip, userAgent string) error {
	sessions, err := r.store.ListActiveForAccount(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := r.store.RevokeAllForAccount(ctx, actor.ID); err != nil {
		return err
	}
	for range sessions {
		r.met.SessionsRevoked.Inc()
	}
	r.writeAudit(ctx, actor, model.ActionSessionEnd, "", ip, userAgent,
		map[string]any{"revoked_sessions": len(sessions)})
	return nil
}

func (r *Registry) writeAudit(ctx context.Context, actor *model.Account, action model.AuditAction,
	sessionID, ip, userAgent string, meta map[string]any) {
	id := actor.ID
	e := model.AuditEntry{
		ActorID:    &id,
		ActorEmail: actor.Email,
		ActorRole:  string(actor.Role),
		Action:     action,
		TargetType: "session",
		TargetID:   sessionID,
		Metadata:   meta,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if _, err := r.ledger.Append(ctx, &e); err != nil {
		r.log.Error("audit write failed", zap.String("action", string(action)), zap.Error(err))
	}
}

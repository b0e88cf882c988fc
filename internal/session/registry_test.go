package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
)

type memSessions struct {
	mu   sync.Mutex
	byID map[string]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: map[string]*model.Session{}}
}

func (m *memSessions) put(s model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.byID[cp.SessionID] = &cp
}

func (m *memSessions) GetBySessionID(_ context.Context, sessionID string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return *s, nil
}

func (m *memSessions) ListActiveForAccount(_ context.Context, accountID uint64) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.byID {
		if s.AccountID == accountID && s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[sessionID]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memSessions) RevokeAllForAccount(_ context.Context, accountID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.AccountID == accountID {
			s.IsActive = false
		}
	}
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (s *memAuditStore) Insert(_ context.Context, e *model.AuditEntry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = uint64(len(s.entries) + 1)
	s.entries = append(s.entries, cp)
	return cp.ID, nil
}

func (s *memAuditStore) GetByID(_ context.Context, id uint64) (model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return model.AuditEntry{}, repository.ErrNotFound
}

func (s *memAuditStore) ListRange(_ context.Context, afterID uint64, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.entries {
		if e.ID > afterID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *memSessions, *memAuditStore) {
	t.Helper()
	store := newMemSessions()
	auditStore := &memAuditStore{}
	met := metrics.New()
	log := zap.NewNop()
	return NewRegistry(store, audit.NewLedger(auditStore, log, met), log, met), store, auditStore
}

func liveSession(accountID uint64, sessionID string) model.Session {
	return model.Session{
		SessionID: sessionID,
		AccountID: accountID,
		IsActive:  true,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func owner() *model.Account {
	return &model.Account{ID: 1, Email: "owner@example.com", Role: model.RoleSubscriber}
}

func TestListActive_OnlyOwnLiveSessions(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.put(liveSession(1, "s-1"))
	store.put(liveSession(1, "s-2"))
	store.put(liveSession(2, "s-other"))
	dead := liveSession(1, "s-dead")
	dead.IsActive = false
	store.put(dead)

	out, err := reg.ListActive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, s := range out {
		require.Equal(t, uint64(1), s.AccountID)
		require.True(t, s.IsActive)
	}
}

func TestRevoke_OwnSession(t *testing.T) {
	reg, store, auditStore := newTestRegistry(t)
	store.put(liveSession(1, "s-1"))

	require.NoError(t, reg.Revoke(context.Background(), owner(), "s-1", "192.0.2.1", "cli"))

	got, err := store.GetBySessionID(context.Background(), "s-1")
	require.NoError(t, err)
	require.False(t, got.IsActive)

	auditStore.mu.Lock()
	defer auditStore.mu.Unlock()
	require.Len(t, auditStore.entries, 1)
	require.Equal(t, model.ActionSessionRevoke, auditStore.entries[0].Action)
	require.Equal(t, "s-1", auditStore.entries[0].TargetID)
}

func TestRevoke_ForeignSessionIsRefused(t *testing.T) {
	reg, store, auditStore := newTestRegistry(t)
	store.put(liveSession(2, "s-other"))

	err := reg.Revoke(context.Background(), owner(), "s-other", "", "")
	require.ErrorIs(t, err, ErrNotOwned)

	// The session is untouched and nothing is recorded.
	got, err := store.GetBySessionID(context.Background(), "s-other")
	require.NoError(t, err)
	require.True(t, got.IsActive)
	auditStore.mu.Lock()
	defer auditStore.mu.Unlock()
	require.Empty(t, auditStore.entries)
}

func TestRevoke_UnknownSession(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	err := reg.Revoke(context.Background(), owner(), "s-ghost", "", "")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRevokeAll(t *testing.T) {
	reg, store, auditStore := newTestRegistry(t)
	store.put(liveSession(1, "s-1"))
	store.put(liveSession(1, "s-2"))
	store.put(liveSession(1, "s-3"))
	store.put(liveSession(2, "s-other"))

	require.NoError(t, reg.RevokeAll(context.Background(), owner(), "", ""))

	out, err := reg.ListActive(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, out)

	// Someone else's session survives.
	got, err := store.GetBySessionID(context.Background(), "s-other")
	require.NoError(t, err)
	require.True(t, got.IsActive)

	auditStore.mu.Lock()
	defer auditStore.mu.Unlock()
	require.Len(t, auditStore.entries, 1)
	require.Equal(t, model.ActionSessionEnd, auditStore.entries[0].Action)
	require.Equal(t, 3, auditStore.entries[0].Metadata["revoked_sessions"])
}

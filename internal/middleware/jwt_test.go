package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/config"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/token"
)

type stubSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func (f *stubSessions) Create(_ context.Context, s *model.Session) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	cp.ID = uint64(len(f.sessions) + 1)
	f.sessions[s.SessionID] = &cp
	return cp.ID, nil
}

func (f *stubSessions) GetBySessionID(_ context.Context, sid string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sid]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return *s, nil
}

func (f *stubSessions) UpdateRefreshHash(_ context.Context, sid, hash string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sid]; ok {
		s.RefreshTokenHash = hash
		s.ExpiresAt = expires
	}
	return nil
}

func (f *stubSessions) Extend(_ context.Context, sid string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sid]; ok {
		s.ExpiresAt = expires
	}
	return nil
}

func (f *stubSessions) TouchActivity(context.Context, string) error { return nil }

func (f *stubSessions) Revoke(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sid]; ok {
		s.IsActive = false
	}
	return nil
}

type stubAccounts struct{ account model.Account }

func (f *stubAccounts) GetByID(_ context.Context, id uint64) (model.Account, error) {
	if id != f.account.ID {
		return model.Account{}, repository.ErrNotFound
	}
	return f.account, nil
}

func newAuthFixture(t *testing.T) (*token.Service, model.Account, *stubSessions) {
	t.Helper()
	a := model.Account{
		ID:     7,
		UUID:   "77777777-7777-7777-7777-777777777777",
		Email:  "guest@example.com",
		Role:   model.RoleSubscriber,
		Status: model.StatusActive,
	}
	sessions := &stubSessions{sessions: map[string]*model.Session{}}
	svc := token.NewService(config.AuthConfig{
		JWTSecret:  "middleware-test-secret",
		Issuer:     "captive-portal-test",
		AccessTTL:  time.Hour,
		RefreshTTL: time.Hour,
	}, sessions, &stubAccounts{account: a}, zap.NewNop(), metrics.New())
	return svc, a, sessions
}

func echoHandler(c echo.Context) error {
	if a := CurrentAccount(c); a != nil {
		return c.JSON(http.StatusOK, echo.Map{"account_id": a.ID})
	}
	return c.JSON(http.StatusOK, echo.Map{"account_id": nil})
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authz string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/portal/redeem", echoHandler, mw)
	req := httptest.NewRequest(http.MethodGet, "/portal/redeem", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_RejectsMissingAndBadTokens(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	mw := JWTAuth(svc)

	rec := doRequest(t, mw, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, mw, "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_ResolvesAccount(t *testing.T) {
	svc, a, _ := newAuthFixture(t)
	pair, err := svc.Issue(context.Background(), &a, token.ClientContext{})
	require.NoError(t, err)

	rec := doRequest(t, JWTAuth(svc), "Bearer "+pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"account_id":7`)
}

func TestOptionalJWTAuth_AnonymousPassesThrough(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	rec := doRequest(t, OptionalJWTAuth(svc), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"account_id":null`)
}

func TestOptionalJWTAuth_ResolvesPresentedAccount(t *testing.T) {
	svc, a, _ := newAuthFixture(t)
	pair, err := svc.Issue(context.Background(), &a, token.ClientContext{})
	require.NoError(t, err)

	rec := doRequest(t, OptionalJWTAuth(svc), "Bearer "+pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"account_id":7`)
}

func TestOptionalJWTAuth_RejectsDeadToken(t *testing.T) {
	svc, a, sessions := newAuthFixture(t)
	pair, err := svc.Issue(context.Background(), &a, token.ClientContext{})
	require.NoError(t, err)
	require.NoError(t, sessions.Revoke(context.Background(), pair.SessionID))

	// Optional means a token may be absent, not that a dead one is ignored.
	rec := doRequest(t, OptionalJWTAuth(svc), "Bearer "+pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	svc, a, _ := newAuthFixture(t)
	pair, err := svc.Issue(context.Background(), &a, token.ClientContext{})
	require.NoError(t, err)

	e := echo.New()
	e.GET("/admin", echoHandler, JWTAuth(svc), RequireRole(model.RoleAdmin))
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

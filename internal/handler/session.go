package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/middleware"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/session"
)

// SessionHandler exposes an account's own sessions.
type SessionHandler struct {
	Registry *session.Registry
}

func NewSessionHandler(r *session.Registry) *SessionHandler {
	return &SessionHandler{Registry: r}
}

type sessionResp struct {
	SessionID    string `json:"session_id"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	ExpiresAt    string `json:"expires_at"`
}

func toSessionResp(s *model.Session) sessionResp {
	return sessionResp{
		SessionID:    s.SessionID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastActivity: s.LastActivity.UTC().Format("2006-01-02T15:04:05Z"),
		ExpiresAt:    s.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// List returns the caller's live sessions, newest first.
func (h *SessionHandler) List(c echo.Context) error {
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	sessions, err := h.Registry.ListActive(ctx, a.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list failed"})
	}
	out := make([]sessionResp, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResp(&sessions[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// Revoke ends one of the caller's sessions by id.
func (h *SessionHandler) Revoke(c echo.Context) error {
	sid := c.Param("id")
	if sid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id required"})
	}
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	err := h.Registry.Revoke(ctx, a, sid, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		case errors.Is(err, session.ErrNotOwned):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeAll ends every live session of the caller.
func (h *SessionHandler) RevokeAll(c echo.Context) error {
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Registry.RevokeAll(ctx, a, c.RealIP(), c.Request().UserAgent()); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

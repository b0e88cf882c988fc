// Package handler contains the HTTP layer: thin Echo handlers that bind
// requests, call a service and map its errors onto status codes.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/auth"
)

// dbTimeout caps how long a single request may hold the database.
const dbTimeout = 5 * time.Second

// Health responds 200 as long as the process is serving.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func opCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// clientCtx extracts request attribution for audit entries.
func clientCtx(c echo.Context) auth.ClientContext {
	return auth.ClientContext{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
}

// Package router maps the HTTP surface onto handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/config"
	"github.com/captivenet/portal/internal/handler"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/middleware"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/token"
)

// Deps carries everything route registration needs.
type Deps struct {
	Auth     *handler.AuthHandler
	Sessions *handler.SessionHandler
	Portal   *handler.PortalHandler
	Admin    *handler.AdminHandler
	Tokens   *token.Service
	RateCfg  config.RateLimitConfig
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Register wires every route. Credential-bearing endpoints sit behind the
// Redis token bucket; authenticated groups run the session-checked JWT
// middleware; the admin group additionally requires an admin role.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	limited := middleware.NewTokenBucket(d.RateCfg, d.Redis, d.Log)

	// Unauthenticated auth surface. Everything here accepts credentials or
	// guessable tokens, so it all goes through the bucket.
	authGroup := e.Group("/v1/auth", limited)
	authGroup.POST("/register", d.Auth.Register)
	authGroup.POST("/login", d.Auth.Login)
	authGroup.POST("/refresh", d.Auth.Refresh)
	authGroup.POST("/logout", d.Auth.Logout)
	authGroup.POST("/verify-email", d.Auth.VerifyEmail)
	authGroup.POST("/resend-verification", d.Auth.ResendVerification)
	authGroup.POST("/forgot-password", d.Auth.ForgotPassword)
	authGroup.POST("/reset-password", d.Auth.ResetPassword)

	// Authenticated account surface.
	account := e.Group("/v1")
	account.Use(middleware.JWTAuth(d.Tokens))
	account.GET("/me", d.Auth.Me)
	account.POST("/change-password", d.Auth.ChangePassword)
	account.POST("/mfa/setup", d.Auth.MFASetup)
	account.POST("/mfa/confirm", d.Auth.MFAConfirm)
	account.POST("/mfa/disable", d.Auth.MFADisable)
	account.POST("/mfa/backup-codes", d.Auth.MFABackupCodes)
	account.GET("/sessions", d.Sessions.List)
	account.DELETE("/sessions/:id", d.Sessions.Revoke)
	account.DELETE("/sessions", d.Sessions.RevokeAll)

	// Captive-portal surface. The splash page serves devices that do not
	// have an account, so auth is optional: an anonymous guest passes
	// straight through, while a valid Bearer token attributes the
	// redemption to its account. Code guessing is what the bucket is for
	// here.
	portal := e.Group("/v1/portal", limited, middleware.OptionalJWTAuth(d.Tokens))
	portal.POST("/redeem", d.Portal.Redeem)
	portal.GET("/authorize", d.Portal.Authorize)
	portal.POST("/usage", d.Portal.Usage)
	portal.POST("/logout", d.Portal.Logout)

	// Admin surface.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(d.Tokens))
	admin.Use(middleware.RequireRole(model.RoleAdmin, model.RoleSuperAdmin))
	admin.POST("/accounts/:id/validate", d.Admin.ValidateAccount)
	admin.POST("/accounts/:id/suspend", d.Admin.SuspendAccount)
	admin.POST("/accounts/:id/reactivate", d.Admin.ReactivateAccount)
	admin.POST("/accounts/:id/revoke", d.Admin.RevokeAccount)
	admin.POST("/vouchers", d.Admin.MintVouchers)
	admin.DELETE("/vouchers/:code", d.Admin.RevokeVoucher)
	admin.POST("/audit/verify", d.Admin.VerifyAudit)
}

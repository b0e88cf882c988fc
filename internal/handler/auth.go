package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/auth"
	"github.com/captivenet/portal/internal/middleware"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/token"
)

// AuthHandler bundles dependencies for the authentication endpoints.
type AuthHandler struct {
	Auth   *auth.Service
	Tokens *token.Service
}

func NewAuthHandler(a *auth.Service, t *token.Service) *AuthHandler {
	return &AuthHandler{Auth: a, Tokens: t}
}

// ----- DTOs -----

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type emailReq struct {
	Email string `json:"email"`
}
type verifyReq struct {
	Token string `json:"token"`
}
type resetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type accountResp struct {
	ID            uint64 `json:"id"`
	UUID          string `json:"uuid"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
}

// Register creates a subscriber account in PENDING_VALIDATION. No tokens
// are returned: the account cannot log in until an admin validates it.
func (h *AuthHandler) Register(c echo.Context) error {
	var req auth.RegisterInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/username/password required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	a, err := h.Auth.Register(ctx, req, clientCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too weak"})
		case errors.Is(err, repository.ErrEmailExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		case errors.Is(err, repository.ErrUsernameExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}
	return c.JSON(http.StatusCreated, accountResp{
		ID: a.ID, UUID: a.UUID, Email: a.Email, Username: a.Username,
		Role: string(a.Role), Status: string(a.Status),
	})
}

// Login runs the policy chain and returns a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.LoginInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	pair, err := h.Auth.Login(ctx, req, clientCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		case errors.Is(err, auth.ErrAccountLocked):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account locked"})
		case errors.Is(err, auth.ErrPendingValidation):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account pending validation"})
		case errors.Is(err, auth.ErrAccountSuspended):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account suspended"})
		case errors.Is(err, auth.ErrAccountNotActive):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account not active"})
		case errors.Is(err, auth.ErrMFARequired):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "mfa code required", "mfa_required": true})
		case errors.Is(err, auth.ErrMFAInvalid):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "mfa code invalid"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh exchanges a refresh token for a fresh pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	pair, err := h.Tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired),
			errors.Is(err, token.ErrTokenInvalid),
			errors.Is(err, token.ErrWrongTokenType),
			errors.Is(err, token.ErrSessionInvalid),
			errors.Is(err, token.ErrSessionExpired),
			errors.Is(err, token.ErrRefreshMismatch):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh rejected"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout revokes the session behind the refresh token. Always 204: logging
// out with a dead token is a no-op, not an error.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	h.Auth.Logout(ctx, req.RefreshToken, middleware.CurrentAccount(c), clientCtx(c))
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	a := middleware.CurrentAccount(c)
	return c.JSON(http.StatusOK, accountResp{
		ID: a.ID, UUID: a.UUID, Email: a.Email, Username: a.Username,
		Role: string(a.Role), Status: string(a.Status),
		EmailVerified: a.EmailVerified, MFAEnabled: a.MFAEnabled,
	})
}

// VerifyEmail consumes an email verification token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.VerifyEmail(ctx, req.Token, clientCtx(c)); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenInvalid):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "token invalid"})
		case errors.Is(err, auth.ErrTokenExpired):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "token expired"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"verified": true})
}

// ResendVerification issues a fresh verification link. The response does
// not reveal whether the email exists.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.ResendVerification(ctx, req.Email); err != nil {
		if errors.Is(err, auth.ErrEmailAlreadyVerified) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already verified"})
		}
		// Unknown email falls through to the same response as success.
	}
	return c.JSON(http.StatusAccepted, echo.Map{"sent": true})
}

// ForgotPassword starts the reset flow. Always 202 so the endpoint cannot
// be used to enumerate accounts.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.RequestPasswordReset(ctx, req.Email, clientCtx(c)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset request failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"sent": true})
}

// ResetPassword consumes a reset token and installs the new credential.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token/new_password required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.ResetPassword(ctx, req.Token, req.NewPassword, clientCtx(c)); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenInvalid):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "token invalid"})
		case errors.Is(err, auth.ErrTokenExpired):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "token expired"})
		case errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too weak"})
		case errors.Is(err, auth.ErrPasswordReused):
			return c.JSON(http.StatusConflict, echo.Map{"error": "password was used recently"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"reset": true})
}

// ChangePassword swaps the credential for the authenticated account.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password/new_password required"})
	}
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.ChangePassword(ctx, a.ID, req.CurrentPassword, req.NewPassword, clientCtx(c)); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "current password wrong"})
		case errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too weak"})
		case errors.Is(err, auth.ErrPasswordReused):
			return c.JSON(http.StatusConflict, echo.Map{"error": "password was used recently"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"changed": true})
}

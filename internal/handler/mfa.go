package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/auth"
	"github.com/captivenet/portal/internal/middleware"
)

type mfaCodeReq struct {
	Code string `json:"code"`
}
type mfaPasswordReq struct {
	Password string `json:"password"`
}
type mfaDisableReq struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// MFASetup generates a TOTP secret for the account. Nothing is enforced
// until the first code is confirmed.
func (h *AuthHandler) MFASetup(c echo.Context) error {
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	setup, err := h.Auth.SetupMFA(ctx, a.ID)
	if err != nil {
		if errors.Is(err, auth.ErrMFAAlreadyEnabled) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "mfa already enabled"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "mfa setup failed"})
	}
	return c.JSON(http.StatusOK, setup)
}

// MFAConfirm enables MFA after one valid code and returns the backup codes.
func (h *AuthHandler) MFAConfirm(c echo.Context) error {
	var req mfaCodeReq
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	codes, err := h.Auth.ConfirmMFA(ctx, a.ID, req.Code, clientCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMFAAlreadyEnabled):
			return c.JSON(http.StatusConflict, echo.Map{"error": "mfa already enabled"})
		case errors.Is(err, auth.ErrMFANotEnabled):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "run setup first"})
		case errors.Is(err, auth.ErrMFAInvalid):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "code invalid"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "mfa confirm failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"enabled": true, "backup_codes": codes})
}

// MFADisable turns MFA off after re-proving the password and a current
// code.
func (h *AuthHandler) MFADisable(c echo.Context) error {
	var req mfaDisableReq
	if err := c.Bind(&req); err != nil || req.Password == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password and code required"})
	}
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Auth.DisableMFA(ctx, a.ID, req.Password, req.Code, clientCtx(c)); err != nil {
		switch {
		case errors.Is(err, auth.ErrMFANotEnabled):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "mfa not enabled"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password wrong"})
		case errors.Is(err, auth.ErrMFAInvalid):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "code invalid"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "mfa disable failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"enabled": false})
}

// MFABackupCodes replaces the backup code set and returns the new codes.
func (h *AuthHandler) MFABackupCodes(c echo.Context) error {
	var req mfaPasswordReq
	if err := c.Bind(&req); err != nil || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password required"})
	}
	a := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	codes, err := h.Auth.RegenerateBackupCodes(ctx, a.ID, req.Password, clientCtx(c))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMFANotEnabled):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "mfa not enabled"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password wrong"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "regenerate failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"backup_codes": codes})
}

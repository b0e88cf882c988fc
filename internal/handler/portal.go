package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/middleware"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/voucher"
)

// PortalHandler serves the captive-portal surface: voucher redemption,
// gateway admission checks, usage reports and device logout.
type PortalHandler struct {
	Vouchers *voucher.Service
}

func NewPortalHandler(v *voucher.Service) *PortalHandler {
	return &PortalHandler{Vouchers: v}
}

type redeemReq struct {
	Code string `json:"code"`
	MAC  string `json:"mac"`
}
type portalLogoutReq struct {
	PortalToken string `json:"portal_token"`
}

type accessResp struct {
	PortalToken      string `json:"portal_token"`
	Status           string `json:"status"`
	MACAddress       string `json:"mac_address"`
	StartTime        string `json:"start_time"`
	DataQuotaBytes   uint64 `json:"data_quota_bytes"`
	TimeQuotaSeconds uint64 `json:"time_quota_seconds"`
	BytesUsed        uint64 `json:"bytes_used"`
	SecondsUsed      uint64 `json:"seconds_used"`
}

func toAccessResp(a *model.AccessSession) accessResp {
	return accessResp{
		PortalToken:      a.PortalToken,
		Status:           string(a.Status),
		MACAddress:       a.MACAddress,
		StartTime:        a.StartTime.UTC().Format(time.RFC3339),
		DataQuotaBytes:   a.DataQuotaBytes,
		TimeQuotaSeconds: a.TimeQuotaSeconds,
		BytesUsed:        a.BytesUploaded + a.BytesDownloaded,
		SecondsUsed:      a.DurationSeconds,
	}
}

// Redeem consumes one voucher use and opens an access session for the
// device. Works both anonymously (splash page) and authenticated (the
// account gets the device registered to it).
func (h *PortalHandler) Redeem(c echo.Context) error {
	var req redeemReq
	if err := c.Bind(&req); err != nil || req.Code == "" || req.MAC == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code/mac required"})
	}

	var accountID uint64
	if a := middleware.CurrentAccount(c); a != nil {
		accountID = a.ID
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	access, err := h.Vouchers.Redeem(ctx, req.Code, req.MAC, c.RealIP(), accountID, c.Request().UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, voucher.ErrVoucherNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "voucher not found"})
		case errors.Is(err, voucher.ErrVoucherNotYetValid):
			return c.JSON(http.StatusConflict, echo.Map{"error": "voucher not yet valid"})
		case errors.Is(err, voucher.ErrVoucherExpired):
			return c.JSON(http.StatusConflict, echo.Map{"error": "voucher expired"})
		case errors.Is(err, voucher.ErrVoucherExhausted):
			return c.JSON(http.StatusConflict, echo.Map{"error": "voucher exhausted"})
		case errors.Is(err, voucher.ErrVoucherRevoked):
			return c.JSON(http.StatusConflict, echo.Map{"error": "voucher revoked"})
		case errors.Is(err, voucher.ErrPlanInactive):
			return c.JSON(http.StatusConflict, echo.Map{"error": "plan inactive"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "redeem failed"})
	}
	return c.JSON(http.StatusCreated, toAccessResp(&access))
}

// Authorize answers the gateway's admission question for a MAC address:
// 200 with the session when the device is allowed through, 403 otherwise.
func (h *PortalHandler) Authorize(c echo.Context) error {
	mac := c.QueryParam("mac")
	if mac == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "mac required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	access, err := h.Vouchers.Authorize(ctx, mac)
	if err != nil {
		if errors.Is(err, voucher.ErrAccessNotFound) || errors.Is(err, voucher.ErrAccessClosed) {
			return c.JSON(http.StatusForbidden, echo.Map{"authorized": false})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "authorize failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"authorized": true, "session": toAccessResp(&access)})
}

// Usage ingests one accounting report over HTTP. The same payload also
// arrives over the portal.usage queue; gateways use whichever transport
// they support.
func (h *PortalHandler) Usage(c echo.Context) error {
	var rep voucher.UsageReport
	if err := c.Bind(&rep); err != nil || rep.PortalToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "portal_token required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	access, exceeded, err := h.Vouchers.RecordUsage(ctx, rep)
	if err != nil {
		if errors.Is(err, voucher.ErrAccessNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "usage report failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":         string(access.Status),
		"quota_exceeded": exceeded,
	})
}

// Logout closes the device's access session from the splash page.
func (h *PortalHandler) Logout(c echo.Context) error {
	var req portalLogoutReq
	if err := c.Bind(&req); err != nil || req.PortalToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "portal_token required"})
	}

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Vouchers.EndAccess(ctx, req.PortalToken, c.RealIP(), c.Request().UserAgent()); err != nil {
		if errors.Is(err, voucher.ErrAccessNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

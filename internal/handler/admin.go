package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/auth"
	"github.com/captivenet/portal/internal/middleware"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/voucher"
)

// auditSweepTimeout caps a full-ledger integrity sweep; it walks the whole
// table, so the usual per-request budget is too tight.
const auditSweepTimeout = 2 * time.Minute

// AdminHandler serves the administrative surface: account lifecycle,
// voucher minting and ledger verification.
type AdminHandler struct {
	Auth     *auth.Service
	Vouchers *voucher.Service
	Ledger   *audit.Ledger
}

func NewAdminHandler(a *auth.Service, v *voucher.Service, l *audit.Ledger) *AdminHandler {
	return &AdminHandler{Auth: a, Vouchers: v, Ledger: l}
}

func targetAccountID(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

// transition applies one of the account lifecycle operations.
func (h *AdminHandler) transition(c echo.Context,
	op func(ctx echo.Context, actor *model.Account, targetID uint64) error) error {
	id, err := targetAccountID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid account id"})
	}
	actor := middleware.CurrentAccount(c)

	if err := op(c, actor, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
		case errors.Is(err, auth.ErrBadTransition):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "status change failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": true})
}

// ValidateAccount activates a pending registration.
func (h *AdminHandler) ValidateAccount(c echo.Context) error {
	return h.transition(c, func(c echo.Context, actor *model.Account, id uint64) error {
		ctx, cancel := opCtx(c)
		defer cancel()
		return h.Auth.ValidateAccount(ctx, actor, id, clientCtx(c))
	})
}

// SuspendAccount blocks an active account.
func (h *AdminHandler) SuspendAccount(c echo.Context) error {
	return h.transition(c, func(c echo.Context, actor *model.Account, id uint64) error {
		ctx, cancel := opCtx(c)
		defer cancel()
		return h.Auth.SuspendAccount(ctx, actor, id, clientCtx(c))
	})
}

// ReactivateAccount lifts a suspension.
func (h *AdminHandler) ReactivateAccount(c echo.Context) error {
	return h.transition(c, func(c echo.Context, actor *model.Account, id uint64) error {
		ctx, cancel := opCtx(c)
		defer cancel()
		return h.Auth.ReactivateAccount(ctx, actor, id, clientCtx(c))
	})
}

// RevokeAccount terminally disables an account.
func (h *AdminHandler) RevokeAccount(c echo.Context) error {
	return h.transition(c, func(c echo.Context, actor *model.Account, id uint64) error {
		ctx, cancel := opCtx(c)
		defer cancel()
		return h.Auth.RevokeAccount(ctx, actor, id, clientCtx(c))
	})
}

type voucherResp struct {
	ID         uint64 `json:"id"`
	Code       string `json:"code"`
	PlanID     uint64 `json:"plan_id"`
	MaxUses    uint32 `json:"max_uses"`
	ValidFrom  string `json:"valid_from"`
	ValidUntil string `json:"valid_until"`
	Status     string `json:"status"`
}

// MintVouchers creates a batch of vouchers.
func (h *AdminHandler) MintVouchers(c echo.Context) error {
	var req voucher.MintInput
	if err := c.Bind(&req); err != nil || req.PlanID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "plan_id required"})
	}
	if req.ValidUntil.IsZero() || !req.ValidUntil.After(req.ValidFrom) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid validity window"})
	}
	actor := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	minted, err := h.Vouchers.Mint(ctx, actor, req, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "plan not found"})
		case errors.Is(err, voucher.ErrPlanInactive):
			return c.JSON(http.StatusConflict, echo.Map{"error": "plan inactive"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "mint failed"})
	}
	out := make([]voucherResp, 0, len(minted))
	for i := range minted {
		v := &minted[i]
		out = append(out, voucherResp{
			ID: v.ID, Code: v.Code, PlanID: v.PlanID, MaxUses: v.MaxUses,
			ValidFrom:  v.ValidFrom.UTC().Format(time.RFC3339),
			ValidUntil: v.ValidUntil.UTC().Format(time.RFC3339),
			Status:     string(v.Status),
		})
	}
	return c.JSON(http.StatusCreated, echo.Map{"vouchers": out})
}

// RevokeVoucher pulls a voucher out of circulation.
func (h *AdminHandler) RevokeVoucher(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}
	actor := middleware.CurrentAccount(c)

	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Vouchers.RevokeVoucher(ctx, actor, code, c.RealIP(), c.Request().UserAgent()); err != nil {
		if errors.Is(err, voucher.ErrVoucherNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "voucher not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyAudit sweeps the ledger and reports every entry whose content hash
// no longer matches. after_id and limit narrow the sweep.
func (h *AdminHandler) VerifyAudit(c echo.Context) error {
	afterID, _ := strconv.ParseUint(c.QueryParam("after_id"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), auditSweepTimeout)
	defer cancel()

	rep, err := h.Ledger.VerifyBatch(ctx, afterID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed"})
	}
	return c.JSON(http.StatusOK, rep)
}

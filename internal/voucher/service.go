// Package voucher implements voucher minting and redemption and the
// network-access sessions redemption opens, including quota enforcement on
// the gateway's usage reports.
package voucher

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/utils"
)

var (
	// ErrVoucherNotFound means no voucher carries the presented code.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherNotYetValid means the voucher's validity window has not opened.
	ErrVoucherNotYetValid = errors.New("voucher not yet valid")
	// ErrVoucherExpired means the voucher's validity window has closed.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrVoucherExhausted means every permitted use has been consumed.
	ErrVoucherExhausted = errors.New("voucher exhausted")
	// ErrVoucherRevoked means an admin pulled the voucher.
	ErrVoucherRevoked = errors.New("voucher revoked")
	// ErrPlanInactive means the voucher's plan was disabled after minting.
	ErrPlanInactive = errors.New("plan inactive")
	// ErrAccessNotFound means no access session carries the portal token.
	ErrAccessNotFound = errors.New("access session not found")
	// ErrAccessClosed means the access session is no longer AUTHORIZED.
	ErrAccessClosed = errors.New("access session closed")
)

// mintRetries bounds how many fresh codes generation tries per voucher
// before giving up on collisions.
const mintRetries = 5

// portalTokenBytes sizes the opaque token the gateway holds per session.
const portalTokenBytes = 24

// Store is the voucher persistence slice the service drives.
type Store interface {
	Create(ctx context.Context, v *model.Voucher) (uint64, error)
	GetByCode(ctx context.Context, code string) (model.Voucher, error)
	ConsumeUse(ctx context.Context, id uint64) (bool, error)
	UpdateStatus(ctx context.Context, id uint64, status model.VoucherStatus) error
	GetPlan(ctx context.Context, planID uint64) (model.Plan, error)
}

// AccessStore is the access-session persistence slice the service drives.
type AccessStore interface {
	Create(ctx context.Context, s *model.AccessSession) (uint64, error)
	GetByPortalToken(ctx context.Context, token string) (model.AccessSession, error)
	GetAuthorizedByMAC(ctx context.Context, mac string) (model.AccessSession, error)
	AddUsage(ctx context.Context, id uint64, up, down, durationSec uint64) error
	MarkQuotaExceeded(ctx context.Context, id uint64) (bool, error)
	UpdateStatus(ctx context.Context, id uint64, status model.AccessStatus) error
	TouchDevice(ctx context.Context, accountID uint64, mac, name, ip string) error
}

// Notifier publishes portal events (quota exhaustion) fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any)
}

// Service enforces the voucher and quota rules.
type Service struct {
	vouchers Store
	access   AccessStore
	ledger   *audit.Ledger
	notify   Notifier
	log      *zap.Logger
	met      *metrics.Metrics
}

// NewService wires a voucher service.
func NewService(vouchers Store, access AccessStore, ledger *audit.Ledger,
	notify Notifier, log *zap.Logger, met *metrics.Metrics) *Service {
	return &Service{vouchers: vouchers, access: access, ledger: ledger,
		notify: notify, log: log, met: met}
}

// MintInput describes a batch of vouchers to create.
type MintInput struct {
	PlanID     uint64    `json:"plan_id"`
	Count      int       `json:"count"`
	MaxUses    uint32    `json:"max_uses"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	AssignedTo *uint64   `json:"assigned_to,omitempty"`
}

// Mint creates a batch of vouchers with freshly generated codes. A code
// collision on the unique index is retried with a new code; a batch fails
// as a whole only when generation itself fails repeatedly.
func (s *Service) Mint(ctx context.Context, actor *model.Account, in MintInput, ip, userAgent string) ([]model.Voucher, error) {
	plan, err := s.vouchers.GetPlan(ctx, in.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	if in.Count <= 0 {
		in.Count = 1
	}
	if in.MaxUses == 0 {
		in.MaxUses = 1
	}

	out := make([]model.Voucher, 0, in.Count)
	for i := 0; i < in.Count; i++ {
		v := model.Voucher{
			PlanID:     plan.ID,
			MaxUses:    in.MaxUses,
			ValidFrom:  in.ValidFrom.UTC(),
			ValidUntil: in.ValidUntil.UTC(),
			Status:     model.VoucherActive,
			CreatedBy:  actor.ID,
			AssignedTo: in.AssignedTo,
		}
		if err := s.create(ctx, &v); err != nil {
			return out, err
		}
		out = append(out, v)
		s.writeAudit(ctx, actor, model.AuditEntry{
			Action:     model.ActionVoucherCreate,
			TargetType: "voucher",
			TargetID:   strconv.FormatUint(v.ID, 10),
			TargetRepr: v.Code,
			Metadata:   map[string]any{"plan": plan.Code, "max_uses": v.MaxUses},
			IPAddress:  ip,
			UserAgent:  userAgent,
		})
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, v *model.Voucher) error {
	for attempt := 0; attempt < mintRetries; attempt++ {
		code, err := utils.RandomCode(model.VoucherCodeLength)
		if err != nil {
			return err
		}
		v.Code = code
		id, err := s.vouchers.Create(ctx, v)
		if err == nil {
			v.ID = id
			return nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return err
		}
	}
	return repository.ErrCodeExists
}

// Redeem consumes one use of a voucher and opens an AUTHORIZED access
// session for the device, with the plan quotas snapshotted onto it. The
// use count is consumed atomically: under concurrent redemption of a
// voucher with one use left, exactly one caller gets a session.
func (s *Service) Redeem(ctx context.Context, code, mac, ip string, accountID uint64, userAgent string) (model.AccessSession, error) {
	v, err := s.vouchers.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.met.VoucherRedemptions.WithLabelValues("not_found").Inc()
			return model.AccessSession{}, ErrVoucherNotFound
		}
		return model.AccessSession{}, err
	}

	now := time.Now().UTC()
	if err := s.redeemable(ctx, &v, now); err != nil {
		return model.AccessSession{}, err
	}

	plan, err := s.vouchers.GetPlan(ctx, v.PlanID)
	if err != nil {
		return model.AccessSession{}, err
	}
	if !plan.IsActive {
		s.met.VoucherRedemptions.WithLabelValues("revoked").Inc()
		return model.AccessSession{}, ErrPlanInactive
	}

	ok, err := s.vouchers.ConsumeUse(ctx, v.ID)
	if err != nil {
		return model.AccessSession{}, err
	}
	if !ok {
		// Lost the race for the last use, or the status changed under us.
		s.met.VoucherRedemptions.WithLabelValues("exhausted").Inc()
		return model.AccessSession{}, ErrVoucherExhausted
	}

	portalToken, err := utils.RandomHex(portalTokenBytes)
	if err != nil {
		return model.AccessSession{}, err
	}
	access := model.AccessSession{
		AccountID:        accountID,
		MACAddress:       normalizeMAC(mac),
		IPAddress:        ip,
		Status:           model.AccessAuthorized,
		StartTime:        now,
		DataQuotaBytes:   plan.DataQuotaBytes(),
		TimeQuotaSeconds: plan.TimeQuotaSeconds(),
		PortalToken:      portalToken,
	}
	id, err := s.access.Create(ctx, &access)
	if err != nil {
		return model.AccessSession{}, err
	}
	access.ID = id

	if accountID != 0 {
		if err := s.access.TouchDevice(ctx, accountID, access.MACAddress, "", ip); err != nil {
			s.log.Warn("device upsert failed", zap.String("mac", access.MACAddress), zap.Error(err))
		}
	}

	s.met.VoucherRedemptions.WithLabelValues("success").Inc()
	e := model.AuditEntry{
		Action:     model.ActionVoucherUse,
		TargetType: "voucher",
		TargetID:   strconv.FormatUint(v.ID, 10),
		TargetRepr: v.Code,
		Metadata: map[string]any{
			"mac":       access.MACAddress,
			"plan":      plan.Code,
			"remaining": int64(v.MaxUses) - int64(v.UsedCount) - 1,
		},
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if accountID != 0 {
		e.ActorID = &accountID
	}
	s.append(ctx, &e)
	return access, nil
}

// redeemable checks the validity window and lifecycle status, lazily
// expiring vouchers whose window has closed.
func (s *Service) redeemable(ctx context.Context, v *model.Voucher, now time.Time) error {
	switch v.Status {
	case model.VoucherRevoked:
		s.met.VoucherRedemptions.WithLabelValues("revoked").Inc()
		return ErrVoucherRevoked
	case model.VoucherUsed:
		s.met.VoucherRedemptions.WithLabelValues("exhausted").Inc()
		return ErrVoucherExhausted
	case model.VoucherExpired:
		s.met.VoucherRedemptions.WithLabelValues("expired").Inc()
		return ErrVoucherExpired
	}
	if now.Before(v.ValidFrom) {
		s.met.VoucherRedemptions.WithLabelValues("expired").Inc()
		return ErrVoucherNotYetValid
	}
	if now.After(v.ValidUntil) {
		if err := s.vouchers.UpdateStatus(ctx, v.ID, model.VoucherExpired); err != nil {
			s.log.Warn("lazy voucher expiry failed", zap.String("code", v.Code), zap.Error(err))
		}
		s.met.VoucherRedemptions.WithLabelValues("expired").Inc()
		return ErrVoucherExpired
	}
	return nil
}

// RevokeVoucher pulls a voucher out of circulation.
func (s *Service) RevokeVoucher(ctx context.Context, actor *model.Account, code, ip, userAgent string) error {
	v, err := s.vouchers.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrVoucherNotFound
		}
		return err
	}
	if err := s.vouchers.UpdateStatus(ctx, v.ID, model.VoucherRevoked); err != nil {
		return err
	}
	s.writeAudit(ctx, actor, model.AuditEntry{
		Action:     model.ActionVoucherRevoke,
		TargetType: "voucher",
		TargetID:   strconv.FormatUint(v.ID, 10),
		TargetRepr: v.Code,
		Changes: map[string]model.FieldChange{
			"status": {Before: string(v.Status), After: string(model.VoucherRevoked)},
		},
		IPAddress: ip,
		UserAgent: userAgent,
	})
	return nil
}

func (s *Service) writeAudit(ctx context.Context, actor *model.Account, e model.AuditEntry) {
	if actor != nil {
		id := actor.ID
		e.ActorID = &id
		e.ActorEmail = actor.Email
		e.ActorRole = string(actor.Role)
	}
	s.append(ctx, &e)
}

func (s *Service) append(ctx context.Context, e *model.AuditEntry) {
	if _, err := s.ledger.Append(ctx, e); err != nil {
		s.log.Error("audit write failed", zap.String("action", string(e.Action)), zap.Error(err))
	}
}

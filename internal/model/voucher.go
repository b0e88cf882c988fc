package model

import "time"

// VoucherStatus is the lifecycle state of a voucher. Only ACTIVE vouchers
// can be redeemed; reaching max_uses forces USED in the same update that
// increments the counter.
type VoucherStatus string

const (
	VoucherActive  VoucherStatus = "ACTIVE"
	VoucherUsed    VoucherStatus = "USED"
	VoucherExpired VoucherStatus = "EXPIRED"
	VoucherRevoked VoucherStatus = "REVOKED"
)

// Valid reports whether the status is one of the enumerated values.
func (s VoucherStatus) Valid() bool {
	switch s {
	case VoucherActive, VoucherUsed, VoucherExpired, VoucherRevoked:
		return true
	}
	return false
}

// VoucherCodeLength is the fixed length of generated voucher codes.
const VoucherCodeLength = 8

// Voucher grants limited network access under a billing plan. Codes are
// 8-character uppercase alphanumerics, unique across the store; generation
// retries on collision before a code is ever handed out. used_count never
// exceeds max_uses.
type Voucher struct {
	ID         uint64        // vouchers.id
	Code       string        // vouchers.code (unique)
	PlanID     uint64        // vouchers.plan_id
	MaxUses    uint32        // vouchers.max_uses
	UsedCount  uint32        // vouchers.used_count
	ValidFrom  time.Time     // vouchers.valid_from
	ValidUntil time.Time     // vouchers.valid_until
	Status     VoucherStatus // vouchers.status
	CreatedBy  uint64        // vouchers.created_by
	AssignedTo *uint64       // vouchers.assigned_to (nullable)
	CreatedAt  time.Time     // vouchers.created_at
	UpdatedAt  time.Time     // vouchers.updated_at
}

// PlanType distinguishes subscription plans from temporary access plans.
type PlanType string

const (
	PlanMonthly   PlanType = "MONTHLY"
	PlanWeekly    PlanType = "WEEKLY"
	PlanTemporary PlanType = "TEMPORARY"
)

// Plan is a billing plan a voucher or subscription is attached to. The
// quota fields are what the enforcement layer cares about; pricing is kept
// for the admin surface.
type Plan struct {
	ID             uint64   // plans.id
	Code           string   // plans.code (unique)
	Name           string   // plans.name
	Type           PlanType // plans.plan_type
	PriceCents     uint64   // plans.price_cents
	Currency       string   // plans.currency (ISO 4217)
	MaxDevices     uint32   // plans.max_devices
	DataQuotaGB    uint32   // plans.data_quota_gb (0 = unlimited)
	TimeQuotaHours uint32   // plans.time_quota_hours (0 = unlimited)
	IsActive       bool     // plans.is_active
	IsPublic       bool     // plans.is_public

	CreatedAt time.Time // plans.created_at
	UpdatedAt time.Time // plans.updated_at
}

// DataQuotaBytes converts the plan's GB quota to bytes.
func (p *Plan) DataQuotaBytes() uint64 { return uint64(p.DataQuotaGB) * 1024 * 1024 * 1024 }

// TimeQuotaSeconds converts the plan's hour quota to seconds.
func (p *Plan) TimeQuotaSeconds() uint64 { return uint64(p.TimeQuotaHours) * 3600 }

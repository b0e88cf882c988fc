package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/captivenet/portal/internal/model"
)

// VoucherRepo persists vouchers and their billing plans. The redemption
// increment is the one place in the portal where overselling is a
// correctness bug, so it is a single guarded UPDATE, not a read-modify-write.
type VoucherRepo struct{ DB *sql.DB }

func NewVoucherRepo(db *sql.DB) *VoucherRepo { return &VoucherRepo{DB: db} }

const voucherColumns = `id, code, plan_id, max_uses, used_count, valid_from,
	valid_until, status, created_by, assigned_to, created_at, updated_at`

// Create inserts a voucher. A duplicate code maps to ErrCodeExists so the
// generation loop can retry with a fresh code.
func (r *VoucherRepo) Create(ctx context.Context, v *model.Voucher) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO vouchers
		(code, plan_id, max_uses, used_count, valid_from, valid_until, status, created_by, assigned_to)
		VALUES (?,?,?,0,?,?,?,?,?)`,
		v.Code, v.PlanID, v.MaxUses, v.ValidFrom, v.ValidUntil, string(v.Status),
		v.CreatedBy, v.AssignedTo)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrCodeExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByCode fetches a voucher by its redemption code.
func (r *VoucherRepo) GetByCode(ctx context.Context, code string) (model.Voucher, error) {
	var (
		v          model.Voucher
		status     string
		assignedTo sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE code=? LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(code))).
		Scan(&v.ID, &v.Code, &v.PlanID, &v.MaxUses, &v.UsedCount, &v.ValidFrom,
			&v.ValidUntil, &status, &v.CreatedBy, &assignedTo, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Voucher{}, ErrNotFound
		}
		return model.Voucher{}, err
	}
	v.Status = model.VoucherStatus(status)
	if assignedTo.Valid {
		id := uint64(assignedTo.Int64)
		v.AssignedTo = &id
	}
	return v, nil
}

// ConsumeUse atomically increments used_count and flips status to USED when
// the new count reaches max_uses, all in one statement guarded on ACTIVE
// status and remaining capacity. MySQL evaluates SET clauses left to right,
// so the IF already sees the incremented used_count. Returns false when the
// guard failed, which means a concurrent redeemer got there first (or the
// voucher was never redeemable); callers re-read the row to find out which.
func (r *VoucherRepo) ConsumeUse(ctx context.Context, id uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE vouchers SET
			used_count = used_count + 1,
			status = IF(used_count >= max_uses, 'USED', status)
		WHERE id=? AND status='ACTIVE' AND used_count < max_uses`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateStatus sets the voucher lifecycle status (revoke, expire).
func (r *VoucherRepo) UpdateStatus(ctx context.Context, id uint64, status model.VoucherStatus) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE vouchers SET status=? WHERE id=?", string(status), id)
	return err
}

// GetPlan fetches the billing plan a voucher grants access under.
func (r *VoucherRepo) GetPlan(ctx context.Context, planID uint64) (model.Plan, error) {
	var (
		p        model.Plan
		planType string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, code, name, plan_type, price_cents, currency, max_devices,
		 data_quota_gb, time_quota_hours, is_active, is_public, created_at, updated_at
		 FROM plans WHERE id=? LIMIT 1`, planID).
		Scan(&p.ID, &p.Code, &p.Name, &planType, &p.PriceCents, &p.Currency,
			&p.MaxDevices, &p.DataQuotaGB, &p.TimeQuotaHours, &p.IsActive,
			&p.IsPublic, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Plan{}, ErrNotFound
		}
		return model.Plan{}, err
	}
	p.Type = model.PlanType(planType)
	return p, nil
}

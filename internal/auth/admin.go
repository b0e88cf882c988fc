package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/model"
)

// ErrBadTransition is returned for account status changes the lifecycle
// does not allow (e.g. suspending a revoked account).
var ErrBadTransition = errors.New("status transition not allowed")

// ValidateAccount moves a pending registration to ACTIVE. Only accounts in
// PENDING_VALIDATION can be validated.
func (s *Service) ValidateAccount(ctx context.Context, actor *model.Account, targetID uint64, client ClientContext) error {
	return s.transition(ctx, actor, targetID, client, model.ActionValidate,
		model.StatusActive, model.StatusPendingValidation)
}

// SuspendAccount temporarily blocks an active account and ends its sessions.
func (s *Service) SuspendAccount(ctx context.Context, actor *model.Account, targetID uint64, client ClientContext) error {
	if err := s.transition(ctx, actor, targetID, client, model.ActionSuspend,
		model.StatusSuspended, model.StatusActive); err != nil {
		return err
	}
	s.revokeAllQuiet(ctx, targetID)
	return nil
}

// ReactivateAccount lifts a suspension.
func (s *Service) ReactivateAccount(ctx context.Context, actor *model.Account, targetID uint64, client ClientContext) error {
	return s.transition(ctx, actor, targetID, client, model.ActionReactivate,
		model.StatusActive, model.StatusSuspended)
}

// RevokeAccount is the terminal transition: the account can never log in
// again and every live session dies now.
func (s *Service) RevokeAccount(ctx context.Context, actor *model.Account, targetID uint64, client ClientContext) error {
	if err := s.transition(ctx, actor, targetID, client, model.ActionRevoke,
		model.StatusRevoked,
		model.StatusActive, model.StatusPendingValidation, model.StatusSuspended); err != nil {
		return err
	}
	s.revokeAllQuiet(ctx, targetID)
	return nil
}

// transition applies a status change when the current status is one of the
// allowed sources, and records before/after in the audit entry.
func (s *Service) transition(ctx context.Context, actor *model.Account, targetID uint64,
	client ClientContext, action model.AuditAction, to model.AccountStatus, from ...model.AccountStatus) error {
	target, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	allowed := false
	for _, f := range from {
		if target.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, target.Status, to)
	}
	if err := s.accounts.UpdateStatus(ctx, targetID, to); err != nil {
		return err
	}
	s.audit(ctx, actor, client, model.AuditEntry{
		Action:     action,
		TargetType: "account",
		TargetID:   strconv.FormatUint(targetID, 10),
		TargetRepr: target.Email,
		Changes: map[string]model.FieldChange{
			"status": {Before: string(target.Status), After: string(to)},
		},
	})
	return nil
}

func (s *Service) revokeAllQuiet(ctx context.Context, accountID uint64) {
	if err := s.sessions.RevokeAllForAccount(ctx, accountID); err != nil {
		s.log.Warn("session revocation after status change failed",
			zap.Uint64("account_id", accountID), zap.Error(err))
	}
}

package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/token"
	"github.com/captivenet/portal/internal/utils"
)

// LoginInput is the credential payload for Login. MFACode is empty unless
// the client is answering an ErrMFARequired challenge; it may be a TOTP
// code or a backup code.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

// Login runs the full policy chain and, when every gate passes, opens a
// session and returns a token pair. The order of checks is fixed:
// existence (masked), password, status, lockout, MFA. The password is
// verified before any account state is surfaced, so a caller without the
// credential learns nothing beyond "invalid credentials" — not whether the
// account exists, is suspended or is locked.
func (s *Service) Login(ctx context.Context, in LoginInput, client ClientContext) (token.Pair, error) {
	a, err := s.accounts.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn the same bcrypt work as a real comparison.
			utils.VerifyPassword(s.dummyHash, in.Password)
			s.met.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return token.Pair{}, ErrInvalidCredentials
		}
		return token.Pair{}, err
	}

	if !utils.VerifyPassword(a.PasswordHash, in.Password) {
		return token.Pair{}, s.recordFailedPassword(ctx, &a, client)
	}

	if err := statusGate(a.Status); err != nil {
		s.met.LoginAttempts.WithLabelValues("status_rejected").Inc()
		s.auditLoginFailed(ctx, &a, client, "status "+string(a.Status))
		return token.Pair{}, err
	}
	if a.IsLocked(time.Now().UTC()) {
		s.met.LoginAttempts.WithLabelValues("locked").Inc()
		s.auditLoginFailed(ctx, &a, client, "account locked")
		return token.Pair{}, ErrAccountLocked
	}

	if a.MFAEnabled {
		if in.MFACode == "" {
			s.met.LoginAttempts.WithLabelValues("mfa_failed").Inc()
			return token.Pair{}, ErrMFARequired
		}
		ok, err := s.verifyMFACode(ctx, &a, in.MFACode)
		if err != nil {
			return token.Pair{}, err
		}
		if !ok {
			return token.Pair{}, s.recordFailedMFA(ctx, &a, client)
		}
	}

	if a.FailedLoginAttempts > 0 || a.LockedUntil != nil {
		if err := s.accounts.ResetFailedLogins(ctx, a.ID); err != nil {
			return token.Pair{}, err
		}
	}
	if err := s.accounts.UpdateLastLogin(ctx, a.ID, client.IP); err != nil {
		return token.Pair{}, err
	}

	pair, err := s.tokens.Issue(ctx, &a, token.ClientContext{IP: client.IP, UserAgent: client.UserAgent})
	if err != nil {
		return token.Pair{}, err
	}

	s.met.LoginAttempts.WithLabelValues("success").Inc()
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionLogin,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
		Metadata:   map[string]any{"session_id": pair.SessionID, "mfa_used": a.MFAEnabled},
	})
	return pair, nil
}

// statusGate maps a non-ACTIVE account status to its login rejection.
// These errors only ever surface after the password has been proven.
func statusGate(status model.AccountStatus) error {
	switch status {
	case model.StatusActive:
		return nil
	case model.StatusPendingValidation:
		return ErrPendingValidation
	case model.StatusSuspended:
		return ErrAccountSuspended
	}
	return ErrAccountNotActive
}

// recordFailedPassword bumps the counter, locks when the threshold is
// crossed and writes the failure to the ledger. The increment and lock
// happen in one statement at the store, so parallel failures cannot
// overshoot the threshold without locking.
func (s *Service) recordFailedPassword(ctx context.Context, a *model.Account, client ClientContext) error {
	attempts, locked, err := s.bumpFailedLogins(ctx, a)
	if err != nil {
		return err
	}
	meta := map[string]any{"failed_attempts": attempts}
	if locked {
		meta["locked"] = true
	}
	s.met.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
	s.audit(ctx, a, client, model.AuditEntry{
		Action:     model.ActionLoginFailed,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
		Metadata:   meta,
	})
	if locked {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

// recordFailedMFA counts a rejected second factor against the same lockout
// counter as a wrong password, so a stolen password does not buy unlimited
// code guesses. The attempt itself still reads as an MFA failure; the lock
// bites on the next attempt.
func (s *Service) recordFailedMFA(ctx context.Context, a *model.Account, client ClientContext) error {
	attempts, locked, err := s.bumpFailedLogins(ctx, a)
	if err != nil {
		return err
	}
	meta := map[string]any{"reason": "mfa code rejected", "failed_attempts": attempts}
	if locked {
		meta["locked"] = true
	}
	s.met.LoginAttempts.WithLabelValues("mfa_failed").Inc()
	s.audit(ctx, a, client, model.AuditEntry{
		Action:     model.ActionLoginFailed,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
		Metadata:   meta,
	})
	return ErrMFAInvalid
}

// bumpFailedLogins increments the failed-attempt counter. The bool reports
// whether this attempt is the one that locked the account; an account that
// was already locked before the attempt reports false, so callers keep
// answering with the generic credential error instead of confirming the
// lock. The crossing attempt also emits the lockout metric and
// notification.
func (s *Service) bumpFailedLogins(ctx context.Context, a *model.Account) (int, bool, error) {
	attempts, locked, err := s.accounts.IncrementFailedLogins(ctx, a.ID, s.cfg.MaxLoginFails, s.cfg.LockoutDuration)
	if err != nil {
		return 0, false, err
	}
	newlyLocked := locked && !a.IsLocked(time.Now().UTC())
	if newlyLocked {
		s.met.Lockouts.Inc()
		s.notify.Notify(ctx, "account.locked", map[string]any{
			"email":           a.Email,
			"failed_attempts": attempts,
		})
	}
	return attempts, newlyLocked, nil
}

func (s *Service) auditLoginFailed(ctx context.Context, a *model.Account, client ClientContext, reason string) {
	s.audit(ctx, a, client, model.AuditEntry{
		Action:     model.ActionLoginFailed,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
		Metadata:   map[string]any{"reason": reason},
	})
}

// Logout best-effort revokes the session behind a refresh token. It never
// fails: logging out with a token that is already dead is a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string, actor *model.Account, client ClientContext) {
	s.tokens.Revoke(ctx, refreshToken)
	e := model.AuditEntry{Action: model.ActionLogout, TargetType: "account"}
	if actor != nil {
		e.TargetID = strconv.FormatUint(actor.ID, 10)
		e.TargetRepr = actor.Email
	}
	s.audit(ctx, actor, client, e)
}

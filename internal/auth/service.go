// Package auth implements the account lifecycle and the login policy
// engine: registration, email verification, password flows, MFA and the
// credential checks that gate token issuance.
package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/config"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/token"
	"github.com/captivenet/portal/internal/utils"
)

const (
	minPasswordLength = 8
	resetTokenBytes   = 32
	verifyTokenBytes  = 32
)

// AccountStore is the account persistence the service drives.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	GetByID(ctx context.Context, id uint64) (model.Account, error)
	GetByVerificationToken(ctx context.Context, token string) (model.Account, error)
	GetByResetToken(ctx context.Context, token string) (model.Account, error)
	UpdateStatus(ctx context.Context, id uint64, status model.AccountStatus) error
	IncrementFailedLogins(ctx context.Context, id uint64, threshold int, lockFor time.Duration) (int, bool, error)
	ResetFailedLogins(ctx context.Context, id uint64) error
	UpdateLastLogin(ctx context.Context, id uint64, ip string) error
	SetVerificationToken(ctx context.Context, id uint64, token string, expires time.Time) error
	MarkEmailVerified(ctx context.Context, id uint64) error
	SetResetToken(ctx context.Context, id uint64, token string, expires time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string, history []string) error
	SetMFASecret(ctx context.Context, id uint64, encSecret string, backupHashes []string) error
	SetMFAEnabled(ctx context.Context, id uint64, enabled bool) error
	SwapBackupCodes(ctx context.Context, id uint64, oldCodes, newCodes []string) (bool, error)
}

// SessionRevoker is the slice of the session registry the password flows
// need: changing or resetting a credential ends every live session.
type SessionRevoker interface {
	RevokeAllForAccount(ctx context.Context, accountID uint64) error
}

// Notifier publishes user-facing notification events (verification links,
// reset links, lockout alerts). Implementations are fire-and-forget; a
// notification that cannot be delivered never fails the triggering flow.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any)
}

// ClientContext carries request attribution for audit entries.
type ClientContext struct {
	IP        string
	UserAgent string
	RequestID string
}

// Service is the account and login policy engine.
type Service struct {
	accounts AccountStore
	sessions SessionRevoker
	tokens   *token.Service
	ledger   *audit.Ledger
	notify   Notifier
	cfg      config.AuthConfig
	totp     config.TOTPConfig
	log      *zap.Logger
	met      *metrics.Metrics

	// dummyHash is compared against when the email is unknown, so the
	// response time does not reveal whether an account exists.
	dummyHash string
}

// NewService wires the auth service.
func NewService(accounts AccountStore, sessions SessionRevoker, tokens *token.Service,
	ledger *audit.Ledger, notify Notifier, cfg config.AuthConfig, totp config.TOTPConfig,
	log *zap.Logger, met *metrics.Metrics) *Service {
	dummy, err := utils.HashPassword(uuid.NewString(), bcrypt.MinCost)
	if err != nil {
		// bcrypt only fails on invalid cost, which MinCost is not.
		panic(err)
	}
	return &Service{
		accounts: accounts, sessions: sessions, tokens: tokens,
		ledger: ledger, notify: notify, cfg: cfg, totp: totp,
		log: log, met: met, dummyHash: dummy,
	}
}

// RegisterInput is the payload for self-service registration.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// Register creates a subscriber account in PENDING_VALIDATION and sends an
// email verification link. The account stays unusable for login until an
// admin validates it, regardless of email verification.
func (s *Service) Register(ctx context.Context, in RegisterInput, client ClientContext) (model.Account, error) {
	if err := validatePassword(in.Password); err != nil {
		return model.Account{}, err
	}
	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return model.Account{}, err
	}
	verifyToken, err := utils.RandomURLToken(verifyTokenBytes)
	if err != nil {
		return model.Account{}, err
	}
	verifyExp := time.Now().UTC().Add(s.cfg.VerifyTokenTTL)

	a := model.Account{
		UUID:                     uuid.NewString(),
		Email:                    strings.ToLower(strings.TrimSpace(in.Email)),
		Username:                 strings.TrimSpace(in.Username),
		Phone:                    strings.TrimSpace(in.Phone),
		Role:                     model.RoleSubscriber,
		Status:                   model.StatusPendingValidation,
		PasswordHash:             hash,
		PasswordHistory:          []string{utils.HashSHA256(in.Password)},
		MFABackupCodes:           []string{},
		EmailVerificationToken:   verifyToken,
		EmailVerificationExpires: &verifyExp,
	}
	id, err := s.accounts.Create(ctx, &a)
	if err != nil {
		return model.Account{}, err
	}
	a.ID = id

	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionCreate,
		TargetType: "account",
		TargetID:   strconv.FormatUint(id, 10),
		TargetRepr: a.Email,
		Metadata:   map[string]any{"status": string(a.Status)},
	})
	s.notify.Notify(ctx, "account.registered", map[string]any{
		"email":              a.Email,
		"username":           a.Username,
		"verification_token": verifyToken,
	})
	return a, nil
}

// VerifyEmail consumes an email verification token. Tokens are single use:
// the row is cleared in the same update that flips the flag.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string, client ClientContext) error {
	a, err := s.accounts.GetByVerificationToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if a.EmailVerificationExpires == nil || time.Now().UTC().After(*a.EmailVerificationExpires) {
		return ErrTokenExpired
	}
	if err := s.accounts.MarkEmailVerified(ctx, a.ID); err != nil {
		return err
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionEmailVerify,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return nil
}

// ResendVerification issues a fresh verification token. An unknown email or
// an already-verified account returns an error the handler may flatten.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if a.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	verifyToken, err := utils.RandomURLToken(verifyTokenBytes)
	if err != nil {
		return err
	}
	if err := s.accounts.SetVerificationToken(ctx, a.ID, verifyToken,
		time.Now().UTC().Add(s.cfg.VerifyTokenTTL)); err != nil {
		return err
	}
	s.notify.Notify(ctx, "email.verification", map[string]any{
		"email":              a.Email,
		"verification_token": verifyToken,
	})
	return nil
}

// RequestPasswordReset stores a reset token and emits the reset
// notification. Unknown emails are silently accepted so the endpoint does
// not enumerate accounts; only existing accounts produce an audit entry.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, client ClientContext) error {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	resetToken, err := utils.RandomURLToken(resetTokenBytes)
	if err != nil {
		return err
	}
	if err := s.accounts.SetResetToken(ctx, a.ID, resetToken,
		time.Now().UTC().Add(s.cfg.ResetTokenTTL)); err != nil {
		return err
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionPasswordResetRequest,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	s.notify.Notify(ctx, "password.reset", map[string]any{
		"email":       a.Email,
		"reset_token": resetToken,
	})
	return nil
}

// ResetPassword consumes a reset token and installs a new credential. The
// token is cleared by the same update that swaps the hash, and every live
// session of the account is revoked.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string, client ClientContext) error {
	a, err := s.accounts.GetByResetToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if a.PasswordResetExpires == nil || time.Now().UTC().After(*a.PasswordResetExpires) {
		return ErrTokenExpired
	}
	if err := s.installPassword(ctx, &a, newPassword); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllForAccount(ctx, a.ID); err != nil {
		s.log.Warn("session revocation after password reset failed",
			zap.Uint64("account_id", a.ID), zap.Error(err))
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionPasswordReset,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return nil
}

// ChangePassword swaps the credential for an authenticated account after
// re-proving the current one. All other sessions are revoked.
func (s *Service) ChangePassword(ctx context.Context, accountID uint64, current, newPassword string, client ClientContext) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(a.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := s.installPassword(ctx, &a, newPassword); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllForAccount(ctx, a.ID); err != nil {
		s.log.Warn("session revocation after password change failed",
			zap.Uint64("account_id", a.ID), zap.Error(err))
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionPasswordChange,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return nil
}

// installPassword enforces the policy and history ring, then persists the
// new hash.
func (s *Service) installPassword(ctx context.Context, a *model.Account, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	digest := utils.HashSHA256(newPassword)
	for _, old := range a.PasswordHistory {
		if old == digest {
			return ErrPasswordReused
		}
	}
	hash, err := utils.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	history := append([]string{digest}, a.PasswordHistory...)
	if len(history) > model.PasswordHistorySize {
		history = history[:model.PasswordHistorySize]
	}
	return s.accounts.UpdatePassword(ctx, a.ID, hash, history)
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// audit writes one ledger entry with the account as actor and the request
// attribution filled in. Ledger failures on these paths are logged, not
// propagated: a completed state change is not rolled back because the
// record of it could not be written, but it must never go unnoticed.
func (s *Service) audit(ctx context.Context, actor *model.Account, client ClientContext, e model.AuditEntry) {
	if actor != nil {
		id := actor.ID
		e.ActorID = &id
		e.ActorEmail = actor.Email
		e.ActorRole = string(actor.Role)
	}
	e.IPAddress = client.IP
	e.UserAgent = client.UserAgent
	e.RequestID = client.RequestID
	if _, err := s.ledger.Append(ctx, &e); err != nil {
		s.log.Error("audit write failed", zap.String("action", string(e.Action)), zap.Error(err))
	}
}

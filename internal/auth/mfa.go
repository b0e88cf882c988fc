package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/utils"
)

const backupCodeLength = 10

// MFASetup is what SetupMFA hands back to the client: the otpauth URL for
// the authenticator app and the secret for manual entry. Nothing is enabled
// until the first code is confirmed.
type MFASetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// SetupMFA generates a TOTP secret for the account and stores it encrypted,
// without enabling MFA. The account keeps logging in with password only
// until ConfirmMFA proves the authenticator holds the secret.
func (s *Service) SetupMFA(ctx context.Context, accountID uint64) (MFASetup, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return MFASetup{}, err
	}
	if a.MFAEnabled {
		return MFASetup{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totp.IssuerName,
		AccountName: a.Email,
		Period:      uint(s.totp.PeriodSec),
		Digits:      otp.Digits(s.totp.Digits),
	})
	if err != nil {
		return MFASetup{}, err
	}
	enc, err := encryptSecret(s.cfg.MFAKey, key.Secret())
	if err != nil {
		return MFASetup{}, err
	}
	if err := s.accounts.SetMFASecret(ctx, a.ID, enc, []string{}); err != nil {
		return MFASetup{}, err
	}
	return MFASetup{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// ConfirmMFA enables MFA after the account proves possession of the secret
// with one valid code, and returns the freshly minted backup codes. This is
// the only time the plaintext backup codes exist.
func (s *Service) ConfirmMFA(ctx context.Context, accountID uint64, code string, client ClientContext) ([]string, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if a.MFASecret == "" {
		return nil, ErrMFANotEnabled
	}
	ok, err := s.validateTOTP(a.MFASecret, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMFAInvalid
	}

	codes, hashes, err := s.mintBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetMFASecret(ctx, a.ID, a.MFASecret, hashes); err != nil {
		return nil, err
	}
	if err := s.accounts.SetMFAEnabled(ctx, a.ID, true); err != nil {
		return nil, err
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionMFAEnable,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return codes, nil
}

// DisableMFA turns MFA off after re-proving the password and a current
// TOTP or backup code. Secret and backup codes are wiped in the same
// update.
func (s *Service) DisableMFA(ctx context.Context, accountID uint64, password, code string, client ClientContext) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !a.MFAEnabled {
		return ErrMFANotEnabled
	}
	if !utils.VerifyPassword(a.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	ok, err := s.verifyMFACode(ctx, &a, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMFAInvalid
	}
	if err := s.accounts.SetMFAEnabled(ctx, a.ID, false); err != nil {
		return err
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionMFADisable,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set, invalidating
// any unused codes from the previous batch.
func (s *Service) RegenerateBackupCodes(ctx context.Context, accountID uint64, password string, client ClientContext) ([]string, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !a.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if !utils.VerifyPassword(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	codes, hashes, err := s.mintBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetMFASecret(ctx, a.ID, a.MFASecret, hashes); err != nil {
		return nil, err
	}
	s.audit(ctx, &a, client, model.AuditEntry{
		Action:     model.ActionMFABackupRegenerate,
		TargetType: "account",
		TargetID:   strconv.FormatUint(a.ID, 10),
		TargetRepr: a.Email,
	})
	return codes, nil
}

// verifyMFACode accepts either a TOTP code or a backup code. A matching
// backup code is consumed via compare-and-swap on the stored set, so two
// racing logins with the same code cannot both succeed.
func (s *Service) verifyMFACode(ctx context.Context, a *model.Account, code string) (bool, error) {
	ok, err := s.validateTOTP(a.MFASecret, code)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return s.consumeBackupCode(ctx, a, code)
}

func (s *Service) validateTOTP(encSecret, code string) (bool, error) {
	secret, err := decryptSecret(s.cfg.MFAKey, encSecret)
	if err != nil {
		return false, err
	}
	return totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period: uint(s.totp.PeriodSec),
		Skew:   uint(s.totp.Skew),
		Digits: otp.Digits(s.totp.Digits),
	})
}

func (s *Service) consumeBackupCode(ctx context.Context, a *model.Account, code string) (bool, error) {
	digest := utils.HashSHA256(code)
	idx := -1
	for i, h := range a.MFABackupCodes {
		if h == digest {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	remaining := make([]string, 0, len(a.MFABackupCodes)-1)
	remaining = append(remaining, a.MFABackupCodes[:idx]...)
	remaining = append(remaining, a.MFABackupCodes[idx+1:]...)
	swapped, err := s.accounts.SwapBackupCodes(ctx, a.ID, a.MFABackupCodes, remaining)
	if err != nil {
		return false, err
	}
	// A lost swap means a concurrent login spent a code first; the
	// presented code may already be gone, so the attempt is rejected.
	return swapped, nil
}

func (s *Service) mintBackupCodes() (codes, hashes []string, err error) {
	n := s.totp.BackupCodes
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := utils.RandomCode(backupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, c)
		hashes = append(hashes, utils.HashSHA256(c))
	}
	return codes, hashes, nil
}

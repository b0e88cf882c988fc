package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupMFA_StoresSecretEncrypted(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "setup@example.com", "right password")

	setup, err := h.svc.SetupMFA(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.OTPAuthURL, "otpauth://totp/")

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled)
	require.NotEqual(t, setup.Secret, got.MFASecret)

	plain, err := decryptSecret(testAuthConfig().MFAKey, got.MFASecret)
	require.NoError(t, err)
	require.Equal(t, setup.Secret, plain)
}

func TestConfirmMFA_RejectsWrongCode(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "confirm@example.com", "right password")

	_, err := h.svc.SetupMFA(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = h.svc.ConfirmMFA(context.Background(), a.ID, "000000", ClientContext{})
	require.ErrorIs(t, err, ErrMFAInvalid)

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled)
}

func TestConfirmMFA_WithoutSetup(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "nosetup@example.com", "right password")

	_, err := h.svc.ConfirmMFA(context.Background(), a.ID, "000000", ClientContext{})
	require.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestSetupMFA_AlreadyEnabled(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "enabled@example.com", "right password")
	enableMFA(t, h, a.ID)

	_, err := h.svc.SetupMFA(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestDisableMFA_RequiresPasswordAndCode(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "disable@example.com", "right password")
	secret, backupCodes := enableMFA(t, h, a.ID)

	err := h.svc.DisableMFA(context.Background(), a.ID, "wrong password", currentTOTP(t, secret), ClientContext{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// Password alone is not enough to strip the second factor.
	err = h.svc.DisableMFA(context.Background(), a.ID, "right password", "000000", ClientContext{})
	require.ErrorIs(t, err, ErrMFAInvalid)

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled)

	require.NoError(t, h.svc.DisableMFA(context.Background(), a.ID, "right password", currentTOTP(t, secret), ClientContext{}))

	// Secret and backup codes are wiped with the flag.
	got, err = h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled)
	require.Empty(t, got.MFASecret)
	require.Empty(t, got.MFABackupCodes)

	err = h.svc.DisableMFA(context.Background(), a.ID, "right password", backupCodes[0], ClientContext{})
	require.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestDisableMFA_AcceptsBackupCode(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "disable-backup@example.com", "right password")
	_, backupCodes := enableMFA(t, h, a.ID)

	require.NoError(t, h.svc.DisableMFA(context.Background(), a.ID, "right password", backupCodes[0], ClientContext{}))

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled)
}

func TestRegenerateBackupCodes_InvalidatesOldBatch(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "regen@example.com", "right password")
	_, oldCodes := enableMFA(t, h, a.ID)

	newCodes, err := h.svc.RegenerateBackupCodes(context.Background(), a.ID, "right password", ClientContext{})
	require.NoError(t, err)
	require.Len(t, newCodes, testTOTPConfig().BackupCodes)
	require.NotEqual(t, oldCodes, newCodes)

	in := LoginInput{Email: a.Email, Password: "right password", MFACode: oldCodes[0]}
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrMFAInvalid)

	in.MFACode = newCodes[0]
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.NoError(t, err)
}

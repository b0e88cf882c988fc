package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/captivenet/portal/internal/model"
)

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "login@example.com", "right password")

	pair, err := h.svc.Login(context.Background(), LoginInput{
		Email:    "login@example.com",
		Password: "right password",
	}, ClientContext{IP: "203.0.113.9"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEmpty(t, pair.SessionID)
	require.Equal(t, "Bearer", pair.TokenType)

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", got.LastLoginIP)
	require.True(t, h.auditLog.hasAction(model.ActionLogin))
}

func TestLogin_UnknownEmail(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Login(context.Background(), LoginInput{
		Email:    "nobody@example.com",
		Password: "whatever pw",
	}, ClientContext{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_WrongPasswordThenLockout(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "lock@example.com", "right password")

	in := LoginInput{Email: "lock@example.com", Password: "wrong password"}
	for i := 0; i < 4; i++ {
		_, err := h.svc.Login(context.Background(), in, ClientContext{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The fifth failure crosses the threshold and locks the account.
	_, err := h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrAccountLocked)
	require.True(t, h.notify.has("account.locked"))
	require.True(t, h.auditLog.hasAction(model.ActionLoginFailed))

	// Even the correct password is rejected while the lock holds.
	_, err = h.svc.Login(context.Background(), LoginInput{
		Email:    "lock@example.com",
		Password: "right password",
	}, ClientContext{})
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLogin_SuccessClearsFailedCounter(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "counter@example.com", "right password")

	for i := 0; i < 3; i++ {
		_, err := h.svc.Login(context.Background(), LoginInput{
			Email:    a.Email,
			Password: "wrong password",
		}, ClientContext{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := h.svc.Login(context.Background(), LoginInput{
		Email:    a.Email,
		Password: "right password",
	}, ClientContext{})
	require.NoError(t, err)

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
}

func TestLogin_StatusGate(t *testing.T) {
	for _, tc := range []struct {
		status model.AccountStatus
		want   error
	}{
		{model.StatusPendingValidation, ErrPendingValidation},
		{model.StatusSuspended, ErrAccountSuspended},
		{model.StatusRevoked, ErrAccountNotActive},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			h := newHarness(t)
			a := h.seedAccount(t, "gated@example.com", "right password")
			require.NoError(t, h.accounts.UpdateStatus(context.Background(), a.ID, tc.status))

			_, err := h.svc.Login(context.Background(), LoginInput{
				Email:    a.Email,
				Password: "right password",
			}, ClientContext{})
			require.ErrorIs(t, err, tc.want)

			// Status failures must not advance the lockout counter.
			got, err := h.accounts.GetByID(context.Background(), a.ID)
			require.NoError(t, err)
			require.Zero(t, got.FailedLoginAttempts)
		})
	}
}

func TestLogin_WrongPasswordHidesAccountState(t *testing.T) {
	// A bad password answers the same way whatever the account status, so
	// a caller cannot distinguish a suspended account from a wrong guess.
	for _, status := range []model.AccountStatus{
		model.StatusPendingValidation,
		model.StatusSuspended,
		model.StatusRevoked,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			a := h.seedAccount(t, "hidden@example.com", "right password")
			require.NoError(t, h.accounts.UpdateStatus(context.Background(), a.ID, status))

			_, err := h.svc.Login(context.Background(), LoginInput{
				Email:    a.Email,
				Password: "wrong password",
			}, ClientContext{})
			require.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestLogin_LockedAccountStillChecksPassword(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "alreadylocked@example.com", "right password")
	until := time.Now().UTC().Add(time.Hour)
	require.NoError(t, h.accounts.update(a.ID, func(acc *model.Account) {
		acc.LockedUntil = &until
	}))

	// Wrong password on a locked account reads as invalid credentials, not
	// as a lock, so guessing with garbage cannot confirm the lock exists.
	_, err := h.svc.Login(context.Background(), LoginInput{
		Email:    a.Email,
		Password: "wrong password",
	}, ClientContext{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.svc.Login(context.Background(), LoginInput{
		Email:    a.Email,
		Password: "right password",
	}, ClientContext{})
	require.ErrorIs(t, err, ErrAccountLocked)
}

// enableMFA walks the real setup+confirm flow and returns the shared TOTP
// secret plus the plaintext backup codes.
func enableMFA(t *testing.T, h *harness, accountID uint64) (string, []string) {
	t.Helper()
	setup, err := h.svc.SetupMFA(context.Background(), accountID)
	require.NoError(t, err)

	code := currentTOTP(t, setup.Secret)
	backupCodes, err := h.svc.ConfirmMFA(context.Background(), accountID, code, ClientContext{})
	require.NoError(t, err)
	require.Len(t, backupCodes, testTOTPConfig().BackupCodes)
	return setup.Secret, backupCodes
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	cfg := testTOTPConfig()
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period: uint(cfg.PeriodSec),
		Digits: otp.Digits(cfg.Digits),
	})
	require.NoError(t, err)
	return code
}

func TestLogin_MFARequired(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "mfa@example.com", "right password")
	enableMFA(t, h, a.ID)

	in := LoginInput{Email: a.Email, Password: "right password"}

	_, err := h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrMFARequired)

	in.MFACode = "000000"
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrMFAInvalid)
}

func TestLogin_BadMFACodesCountTowardLockout(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "mfalock@example.com", "right password")
	secret, _ := enableMFA(t, h, a.ID)

	// The password is right every time; only the code is wrong. Each
	// rejection still burns a failed attempt, so a stolen password does
	// not buy unlimited code guesses.
	in := LoginInput{Email: a.Email, Password: "right password", MFACode: "000000"}
	for i := 0; i < 5; i++ {
		_, err := h.svc.Login(context.Background(), in, ClientContext{})
		require.ErrorIs(t, err, ErrMFAInvalid)
	}

	got, err := h.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)
	require.True(t, h.notify.has("account.locked"))

	// Even a valid code is refused while the lock holds.
	in.MFACode = currentTOTP(t, secret)
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLogin_MFAWithTOTPCode(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "totp@example.com", "right password")
	secret, _ := enableMFA(t, h, a.ID)

	pair, err := h.svc.Login(context.Background(), LoginInput{
		Email:    a.Email,
		Password: "right password",
		MFACode:  currentTOTP(t, secret),
	}, ClientContext{})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
}

func TestLogin_BackupCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "backup@example.com", "right password")
	_, backupCodes := enableMFA(t, h, a.ID)

	in := LoginInput{
		Email:    a.Email,
		Password: "right password",
		MFACode:  backupCodes[0],
	}
	_, err := h.svc.Login(context.Background(), in, ClientContext{})
	require.NoError(t, err)

	// The code was consumed by the first login.
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.ErrorIs(t, err, ErrMFAInvalid)

	// A different code from the batch still works.
	in.MFACode = backupCodes[1]
	_, err = h.svc.Login(context.Background(), in, ClientContext{})
	require.NoError(t, err)
}

func TestLogout_NeverFails(t *testing.T) {
	h := newHarness(t)
	a := h.seedAccount(t, "logout@example.com", "right password")

	pair, err := h.svc.Login(context.Background(), LoginInput{
		Email:    a.Email,
		Password: "right password",
	}, ClientContext{})
	require.NoError(t, err)

	h.svc.Logout(context.Background(), pair.RefreshToken, a, ClientContext{})
	require.True(t, h.auditLog.hasAction(model.ActionLogout))

	// Dead tokens and garbage are swallowed.
	h.svc.Logout(context.Background(), pair.RefreshToken, a, ClientContext{})
	h.svc.Logout(context.Background(), "not-a-token", nil, ClientContext{})
}

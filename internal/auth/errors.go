package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for bad email/password combinations.
	// Unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked means the account is inside a lockout window.
	ErrAccountLocked = errors.New("account locked")
	// ErrPendingValidation means the account has registered but has not been
	// validated by an admin yet.
	ErrPendingValidation = errors.New("account pending validation")
	// ErrAccountSuspended means an admin suspended the account.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountNotActive means the account is revoked or otherwise
	// permanently barred from logging in.
	ErrAccountNotActive = errors.New("account not active")

	// ErrMFARequired means credentials were correct but the account has MFA
	// enabled and no code was supplied.
	ErrMFARequired = errors.New("mfa code required")
	// ErrMFAInvalid means the supplied TOTP or backup code did not verify.
	ErrMFAInvalid = errors.New("mfa code invalid")
	// ErrMFANotEnabled is returned for MFA operations on accounts without MFA.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAAlreadyEnabled is returned when setup is attempted twice.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")

	// ErrTokenInvalid covers unknown or consumed verification/reset tokens.
	ErrTokenInvalid = errors.New("token invalid or already used")
	// ErrTokenExpired means the verification/reset token exists but is stale.
	ErrTokenExpired = errors.New("token expired")
	// ErrEmailAlreadyVerified is returned when re-verifying a verified email.
	ErrEmailAlreadyVerified = errors.New("email already verified")

	// ErrPasswordReused means the new password matches one of the last
	// remembered credentials.
	ErrPasswordReused = errors.New("password was used recently")
	// ErrWeakPassword means the new password fails the minimum policy.
	ErrWeakPassword = errors.New("password too weak")
)

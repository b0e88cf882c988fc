package model

import "time"

// Role classifies what an account is allowed to do. The set is closed:
// values are validated at construction time via Valid(), not only by the
// database schema.
type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleSubscriber Role = "SUBSCRIBER"
	RoleGuest      Role = "GUEST"
)

// Valid reports whether the role is one of the enumerated values.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleSubscriber, RoleGuest:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries administrative privileges.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// AccountStatus is the lifecycle state of an account. New registrations
// start in PENDING_VALIDATION and become ACTIVE only through explicit admin
// validation. REVOKED is terminal.
type AccountStatus string

const (
	StatusActive            AccountStatus = "ACTIVE"
	StatusPendingValidation AccountStatus = "PENDING_VALIDATION"
	StatusSuspended         AccountStatus = "SUSPENDED"
	StatusRevoked           AccountStatus = "REVOKED"
)

// Valid reports whether the status is one of the enumerated values.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPendingValidation, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// PasswordHistorySize bounds the ring of previous password digests kept per
// account for reuse rejection.
const PasswordHistorySize = 5

// Account mirrors the `accounts` table. It carries everything the login
// policy engine needs in a single row: credential hash, MFA material,
// lockout state and the verification/reset token pairs.
//
// The MFA secret is stored encrypted (AES-GCM, see internal/auth); an
// account with MFAEnabled=true always has a non-empty MFASecret. Backup
// code hashes and the password history ring are stored as JSON arrays.
type Account struct {
	ID              uint64        // accounts.id
	UUID            string        // accounts.uuid (public identifier)
	Email           string        // accounts.email (unique, normalized lowercase)
	Username        string        // accounts.username (unique)
	Phone           string        // accounts.phone (optional)
	Role            Role          // accounts.role
	Status          AccountStatus // accounts.status
	PasswordHash    string        // accounts.password_hash (bcrypt)
	PasswordHistory []string      // accounts.password_history (last 5 SHA-256 digests)

	MFASecret       string   // accounts.mfa_secret (encrypted at rest)
	MFAEnabled      bool     // accounts.mfa_enabled
	MFABackupCodes  []string // accounts.mfa_backup_codes (SHA-256 digests, single use)

	EmailVerified            bool       // accounts.email_verified
	EmailVerificationToken   string     // accounts.email_verification_token
	EmailVerificationExpires *time.Time // accounts.email_verification_expires

	PasswordResetToken   string     // accounts.password_reset_token
	PasswordResetExpires *time.Time // accounts.password_reset_expires

	FailedLoginAttempts int        // accounts.failed_login_attempts
	LockedUntil         *time.Time // accounts.locked_until (nil when unlocked)
	LastLoginIP         string     // accounts.last_login_ip

	CreatedAt time.Time // accounts.created_at
	UpdatedAt time.Time // accounts.updated_at
}

// IsLocked reports whether the account is inside a lockout window.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

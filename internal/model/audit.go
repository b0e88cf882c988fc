package model

import "time"

// AuditAction is the closed set of actions the ledger records.
type AuditAction string

const (
	// Generic mutations.
	ActionCreate AuditAction = "CREATE"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"

	// Authentication.
	ActionLogin       AuditAction = "LOGIN"
	ActionLogout      AuditAction = "LOGOUT"
	ActionLoginFailed AuditAction = "LOGIN_FAILED"

	// Account management.
	ActionValidate   AuditAction = "VALIDATE"
	ActionRevoke     AuditAction = "REVOKE"
	ActionSuspend    AuditAction = "SUSPEND"
	ActionReactivate AuditAction = "REACTIVATE"

	// Credential security.
	ActionPasswordChange       AuditAction = "PASSWORD_CHANGE"
	ActionPasswordReset        AuditAction = "PASSWORD_RESET"
	ActionPasswordResetRequest AuditAction = "PASSWORD_RESET_REQUEST"
	ActionEmailVerify          AuditAction = "EMAIL_VERIFY"
	ActionMFAEnable            AuditAction = "MFA_ENABLE"
	ActionMFADisable           AuditAction = "MFA_DISABLE"
	ActionMFABackupRegenerate  AuditAction = "MFA_BACKUP_CODES_REGENERATE"

	// Login sessions.
	ActionSessionStart   AuditAction = "SESSION_START"
	ActionSessionEnd     AuditAction = "SESSION_END"
	ActionSessionRevoke  AuditAction = "SESSION_REVOKE"
	ActionSessionTimeout AuditAction = "SESSION_TIMEOUT"

	// Captive portal.
	ActionPortalLogin   AuditAction = "PORTAL_LOGIN"
	ActionPortalLogout  AuditAction = "PORTAL_LOGOUT"
	ActionQuotaExceeded AuditAction = "QUOTA_EXCEEDED"

	// Vouchers.
	ActionVoucherCreate AuditAction = "VOUCHER_CREATE"
	ActionVoucherUse    AuditAction = "VOUCHER_USE"
	ActionVoucherRevoke AuditAction = "VOUCHER_REVOKE"

	// System.
	ActionConfigChange AuditAction = "CONFIG_CHANGE"
)

// Valid reports whether the action is one of the enumerated values.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete,
		ActionLogin, ActionLogout, ActionLoginFailed,
		ActionValidate, ActionRevoke, ActionSuspend, ActionReactivate,
		ActionPasswordChange, ActionPasswordReset, ActionPasswordResetRequest,
		ActionEmailVerify, ActionMFAEnable, ActionMFADisable, ActionMFABackupRegenerate,
		ActionSessionStart, ActionSessionEnd, ActionSessionRevoke, ActionSessionTimeout,
		ActionPortalLogin, ActionPortalLogout, ActionQuotaExceeded,
		ActionVoucherCreate, ActionVoucherUse, ActionVoucherRevoke,
		ActionConfigChange:
		return true
	}
	return false
}

// FieldChange is one before/after pair inside an audit entry's change map.
type FieldChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// AuditEntry is one immutable record of a sensitive action. The actor
// reference is weak: ActorID may be cleared when the account is deleted,
// but the ActorEmail/ActorRole snapshot taken at write time survives so
// later actor mutation cannot alter history.
//
// ContentHash is a SHA-256 digest over every other field, computed once by
// the ledger at append time and never recomputed in place. Entries are
// never updated or deleted after creation; the store enforces this, not
// just this package.
type AuditEntry struct {
	ID uint64 // audit_entries.id

	ActorID    *uint64 // audit_entries.actor_id (nullable, ON DELETE SET NULL)
	ActorEmail string  // audit_entries.actor_email (snapshot)
	ActorRole  string  // audit_entries.actor_role (snapshot)

	Action     AuditAction // audit_entries.action
	TargetType string      // audit_entries.target_type
	TargetID   string      // audit_entries.target_id
	TargetRepr string      // audit_entries.target_repr

	Metadata map[string]any         // audit_entries.metadata (JSON)
	Changes  map[string]FieldChange // audit_entries.changes (JSON)

	IPAddress string // audit_entries.ip_address
	UserAgent string // audit_entries.user_agent
	RequestID string // audit_entries.request_id (uuid)

	ContentHash string    // audit_entries.content_hash (SHA-256 hex)
	Timestamp   time.Time // audit_entries.timestamp
}

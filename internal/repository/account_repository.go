package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/captivenet/portal/internal/model"
)

// AccountRepo persists accounts. JSON columns (password history, backup
// codes) are marshalled here so callers only ever see Go slices.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = `id, uuid, email, username, phone, role, status, password_hash,
	password_history, mfa_secret, mfa_enabled, mfa_backup_codes,
	email_verified, email_verification_token, email_verification_expires,
	password_reset_token, password_reset_expires,
	failed_login_attempts, locked_until, last_login_ip, created_at, updated_at`

// Create inserts an account and returns its ID. Duplicate email or
// username collisions on the unique indexes map to sentinel errors.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) (uint64, error) {
	history, err := json.Marshal(a.PasswordHistory)
	if err != nil {
		return 0, err
	}
	codes, err := json.Marshal(a.MFABackupCodes)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO accounts
		(uuid, email, username, phone, role, status, password_hash, password_history,
		 mfa_secret, mfa_enabled, mfa_backup_codes, email_verified,
		 email_verification_token, email_verification_expires)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.UUID, strings.ToLower(strings.TrimSpace(a.Email)), a.Username, a.Phone,
		string(a.Role), string(a.Status), a.PasswordHash, history,
		a.MFASecret, a.MFAEnabled, codes, a.EmailVerified,
		a.EmailVerificationToken, a.EmailVerificationExpires)
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "1062") {
			if strings.Contains(low, "username") {
				return 0, ErrUsernameExists
			}
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches an account by normalized email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.getWhere(ctx, "email=?", email)
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	return r.getWhere(ctx, "id=?", id)
}

// GetByVerificationToken fetches the account holding a non-empty email
// verification token.
func (r *AccountRepo) GetByVerificationToken(ctx context.Context, token string) (model.Account, error) {
	if token == "" {
		return model.Account{}, ErrNotFound
	}
	return r.getWhere(ctx, "email_verification_token=?", token)
}

// GetByResetToken fetches the account holding a non-empty password reset
// token.
func (r *AccountRepo) GetByResetToken(ctx context.Context, token string) (model.Account, error) {
	if token == "" {
		return model.Account{}, ErrNotFound
	}
	return r.getWhere(ctx, "password_reset_token=?", token)
}

func (r *AccountRepo) getWhere(ctx context.Context, where string, arg any) (model.Account, error) {
	var (
		a           model.Account
		history     []byte
		codes       []byte
		lockedUntil sql.NullTime
		verifyExp   sql.NullTime
		resetExp    sql.NullTime
		role        string
		status      string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+` LIMIT 1`, arg).
		Scan(&a.ID, &a.UUID, &a.Email, &a.Username, &a.Phone, &role, &status,
			&a.PasswordHash, &history, &a.MFASecret, &a.MFAEnabled, &codes,
			&a.EmailVerified, &a.EmailVerificationToken, &verifyExp,
			&a.PasswordResetToken, &resetExp,
			&a.FailedLoginAttempts, &lockedUntil, &a.LastLoginIP,
			&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.Status = model.AccountStatus(status)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	if verifyExp.Valid {
		t := verifyExp.Time
		a.EmailVerificationExpires = &t
	}
	if resetExp.Valid {
		t := resetExp.Time
		a.PasswordResetExpires = &t
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.PasswordHistory); err != nil {
			return model.Account{}, err
		}
	}
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &a.MFABackupCodes); err != nil {
			return model.Account{}, err
		}
	}
	return a, nil
}

// UpdateStatus sets the account lifecycle status.
func (r *AccountRepo) UpdateStatus(ctx context.Context, id uint64, status model.AccountStatus) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET status=? WHERE id=?", string(status), id)
	return err
}

// IncrementFailedLogins bumps the failed-attempt counter and, when the new
// value reaches the threshold, sets locked_until in the same statement so a
// burst of parallel failures cannot slip past the lockout. MySQL evaluates
// SET clauses left to right, so the IF compares the already-incremented
// counter against the threshold as-is. Returns the counter value and lock
// state after the update.
func (r *AccountRepo) IncrementFailedLogins(ctx context.Context, id uint64, threshold int, lockFor time.Duration) (int, bool, error) {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE accounts SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = IF(failed_login_attempts >= ?,
				UTC_TIMESTAMP() + INTERVAL ? SECOND, locked_until)
		WHERE id=?`,
		threshold, int(lockFor.Seconds()), id)
	if err != nil {
		return 0, false, err
	}
	var (
		attempts    int
		lockedUntil sql.NullTime
	)
	err = r.DB.QueryRowContext(ctx,
		"SELECT failed_login_attempts, locked_until FROM accounts WHERE id=?", id).
		Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, false, err
	}
	locked := lockedUntil.Valid && time.Now().UTC().Before(lockedUntil.Time)
	return attempts, locked, nil
}

// ResetFailedLogins clears the counter and any lock after a successful
// authentication.
func (r *AccountRepo) ResetFailedLogins(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET failed_login_attempts=0, locked_until=NULL WHERE id=?", id)
	return err
}

// UpdateLastLogin records the time and source address of a successful login.
func (r *AccountRepo) UpdateLastLogin(ctx context.Context, id uint64, ip string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET last_login_ip=? WHERE id=?", ip, id)
	return err
}

// SetVerificationToken stores a fresh email verification token and expiry.
func (r *AccountRepo) SetVerificationToken(ctx context.Context, id uint64, token string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET email_verification_token=?, email_verification_expires=? WHERE id=?",
		token, expires, id)
	return err
}

// MarkEmailVerified flags the email as verified and clears the token pair.
func (r *AccountRepo) MarkEmailVerified(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE accounts SET email_verified=1, email_verification_token='',
		 email_verification_expires=NULL WHERE id=?`, id)
	return err
}

// SetResetToken stores a fresh password reset token and expiry.
func (r *AccountRepo) SetResetToken(ctx context.Context, id uint64, token string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET password_reset_token=?, password_reset_expires=? WHERE id=?",
		token, expires, id)
	return err
}

// UpdatePassword swaps the credential hash, replaces the bounded history
// ring and clears any outstanding reset token in one statement.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id uint64, hash string, history []string) error {
	blob, err := json.Marshal(history)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE accounts SET password_hash=?, password_history=?,
		 password_reset_token='', password_reset_expires=NULL WHERE id=?`,
		hash, blob, id)
	return err
}

// SetMFASecret stores the encrypted TOTP secret without enabling MFA yet.
func (r *AccountRepo) SetMFASecret(ctx context.Context, id uint64, encSecret string, backupHashes []string) error {
	blob, err := json.Marshal(backupHashes)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE accounts SET mfa_secret=?, mfa_backup_codes=? WHERE id=?",
		encSecret, blob, id)
	return err
}

// SetMFAEnabled flips the MFA flag; disabling also wipes the secret and
// backup codes.
func (r *AccountRepo) SetMFAEnabled(ctx context.Context, id uint64, enabled bool) error {
	if enabled {
		_, err := r.DB.ExecContext(ctx,
			"UPDATE accounts SET mfa_enabled=1 WHERE id=?", id)
		return err
	}
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET mfa_enabled=0, mfa_secret='', mfa_backup_codes='[]' WHERE id=?", id)
	return err
}

// SwapBackupCodes replaces the backup code set only if it has not changed
// since it was read (compare-and-swap on the JSON blob). This is what makes
// backup codes single use under concurrent logins: two racing consumers of
// the same code read the same old set, and only one swap succeeds.
func (r *AccountRepo) SwapBackupCodes(ctx context.Context, id uint64, oldCodes, newCodes []string) (bool, error) {
	oldBlob, err := json.Marshal(oldCodes)
	if err != nil {
		return false, err
	}
	newBlob, err := json.Marshal(newCodes)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET mfa_backup_codes=? WHERE id=? AND mfa_backup_codes=CAST(? AS JSON)",
		newBlob, id, oldBlob)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

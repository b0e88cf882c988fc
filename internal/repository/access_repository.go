package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/captivenet/portal/internal/model"
)

// AccessRepo persists network-level access sessions and the devices they
// belong to. Usage counters are incremented in place and only ever grow.
type AccessRepo struct{ DB *sql.DB }

func NewAccessRepo(db *sql.DB) *AccessRepo { return &AccessRepo{DB: db} }

const accessColumns = `id, account_id, mac_address, ip_address, status,
	start_time, end_time, bytes_uploaded, bytes_downloaded, duration_seconds,
	data_quota_bytes, time_quota_seconds, portal_token, created_at, updated_at`

// Create opens an access session row and returns its id.
func (r *AccessRepo) Create(ctx context.Context, s *model.AccessSession) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO access_sessions
		(account_id, mac_address, ip_address, status, start_time,
		 data_quota_bytes, time_quota_seconds, portal_token)
		VALUES (?,?,?,?,UTC_TIMESTAMP(),?,?,?)`,
		s.AccountID, s.MACAddress, s.IPAddress, string(s.Status),
		s.DataQuotaBytes, s.TimeQuotaSeconds, s.PortalToken)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (r *AccessRepo) scanOne(row *sql.Row) (model.AccessSession, error) {
	var (
		s       model.AccessSession
		status  string
		endTime sql.NullTime
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.MACAddress, &s.IPAddress, &status,
		&s.StartTime, &endTime, &s.BytesUploaded, &s.BytesDownloaded,
		&s.DurationSeconds, &s.DataQuotaBytes, &s.TimeQuotaSeconds,
		&s.PortalToken, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AccessSession{}, ErrNotFound
		}
		return model.AccessSession{}, err
	}
	s.Status = model.AccessStatus(status)
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return s, nil
}

// GetByPortalToken fetches an access session by its opaque gateway token.
func (r *AccessRepo) GetByPortalToken(ctx context.Context, token string) (model.AccessSession, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		`SELECT `+accessColumns+` FROM access_sessions WHERE portal_token=? LIMIT 1`, token))
}

// GetAuthorizedByMAC fetches the device's current AUTHORIZED session, if any.
func (r *AccessRepo) GetAuthorizedByMAC(ctx context.Context, mac string) (model.AccessSession, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		`SELECT `+accessColumns+` FROM access_sessions
		 WHERE mac_address=? AND status='AUTHORIZED'
		 ORDER BY start_time DESC LIMIT 1`, mac))
}

// AddUsage accumulates gateway accounting deltas onto the session counters.
// Counters never decrease; negative deltas are a caller bug and rejected by
// the unsigned column types.
func (r *AccessRepo) AddUsage(ctx context.Context, id uint64, up, down, durationSec uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE access_sessions SET
			bytes_uploaded = bytes_uploaded + ?,
			bytes_downloaded = bytes_downloaded + ?,
			duration_seconds = duration_seconds + ?
		WHERE id=?`, up, down, durationSec, id)
	return err
}

// MarkQuotaExceeded transitions an AUTHORIZED session to QUOTA_EXCEEDED and
// stamps its end time. The status guard makes the transition fire exactly
// once even when several usage reports cross the limit concurrently;
// the return value tells the caller whether this call won.
func (r *AccessRepo) MarkQuotaExceeded(ctx context.Context, id uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE access_sessions SET status='QUOTA_EXCEEDED', end_time=UTC_TIMESTAMP()
		 WHERE id=? AND status='AUTHORIZED'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateStatus moves a session forward in its lifecycle (EXPIRED, REVOKED)
// and closes it. The guard keeps transitions monotonic: closed sessions
// stay closed.
func (r *AccessRepo) UpdateStatus(ctx context.Context, id uint64, status model.AccessStatus) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE access_sessions SET status=?, end_time=UTC_TIMESTAMP()
		 WHERE id=? AND status IN ('PENDING','AUTHORIZED')`, string(status), id)
	return err
}

// TouchDevice upserts the (account, MAC) device row and records when and
// from where it was last seen.
func (r *AccessRepo) TouchDevice(ctx context.Context, accountID uint64, mac, name, ip string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO devices (account_id, mac_address, name, last_ip, last_seen)
		 VALUES (?,?,?,?,UTC_TIMESTAMP())
		 ON DUPLICATE KEY UPDATE last_ip=VALUES(last_ip), last_seen=UTC_TIMESTAMP()`,
		accountID, mac, name, ip)
	return err
}

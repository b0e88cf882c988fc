package model

import "time"

// AccessStatus is the lifecycle state of a network-level access session.
// Transitions are monotonic forward; the only way "back" from EXPIRED is a
// brand new session for the same device.
type AccessStatus string

const (
	AccessPending       AccessStatus = "PENDING"
	AccessAuthorized    AccessStatus = "AUTHORIZED"
	AccessExpired       AccessStatus = "EXPIRED"
	AccessRevoked       AccessStatus = "REVOKED"
	AccessQuotaExceeded AccessStatus = "QUOTA_EXCEEDED"
)

// Valid reports whether the status is one of the enumerated values.
func (s AccessStatus) Valid() bool {
	switch s {
	case AccessPending, AccessAuthorized, AccessExpired, AccessRevoked, AccessQuotaExceeded:
		return true
	}
	return false
}

// AccessSession is a device's connectivity window on the captive gateway,
// distinct from a login Session. Usage counters only grow until the session
// ends; the quota service compares them against the plan limits snapshotted
// at redemption time.
type AccessSession struct {
	ID         uint64       // access_sessions.id
	AccountID  uint64       // access_sessions.account_id (0 for voucher-only guests)
	MACAddress string       // access_sessions.mac_address (AA:BB:CC:DD:EE:FF)
	IPAddress  string       // access_sessions.ip_address
	Status     AccessStatus // access_sessions.status
	StartTime  time.Time    // access_sessions.start_time
	EndTime    *time.Time   // access_sessions.end_time (nullable)

	BytesUploaded   uint64 // access_sessions.bytes_uploaded
	BytesDownloaded uint64 // access_sessions.bytes_downloaded
	DurationSeconds uint64 // access_sessions.duration_seconds

	// Quota limits copied from the plan when the session was opened, so a
	// later plan edit does not retroactively change a live session.
	DataQuotaBytes   uint64 // access_sessions.data_quota_bytes (0 = unlimited)
	TimeQuotaSeconds uint64 // access_sessions.time_quota_seconds (0 = unlimited)

	PortalToken string // access_sessions.portal_token (opaque, unique)

	CreatedAt time.Time // access_sessions.created_at
	UpdatedAt time.Time // access_sessions.updated_at
}

// Device is a subscriber's registered client, identified by MAC address.
// The (account, MAC) pair is unique.
type Device struct {
	ID         uint64     // devices.id
	AccountID  uint64     // devices.account_id
	MACAddress string     // devices.mac_address
	Name       string     // devices.name
	LastIP     string     // devices.last_ip
	LastSeen   *time.Time // devices.last_seen
	IsRevoked  bool       // devices.is_revoked
	CreatedAt  time.Time  // devices.created_at
	UpdatedAt  time.Time  // devices.updated_at
}

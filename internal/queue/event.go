// Package queue defines message payloads exchanged over the message broker
// and the background consumer for gateway usage reports.
package queue

// UsageReportEvent is one accounting delta published by the gateway on the
// portal.usage queue. Byte and duration values are deltas since the
// previous report for the same session, never absolute totals.
type UsageReportEvent struct {
	PortalToken     string `json:"portal_token"`
	BytesUploaded   uint64 `json:"bytes_uploaded"`
	BytesDownloaded uint64 `json:"bytes_downloaded"`
	DurationSeconds uint64 `json:"duration_seconds"`
	ReportedAt      string `json:"reported_at"`
}

// NotificationEvent is published on the portal.notifications queue whenever
// the portal wants something delivered to a user out of band (verification
// links, reset links, lockout and quota alerts). It carries enough for a
// downstream mailer without querying the primary database.
type NotificationEvent struct {
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	OccurredAt string         `json:"occurred_at"`
}

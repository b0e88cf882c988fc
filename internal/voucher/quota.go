package voucher

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
)

// UsageReport is one accounting delta from the gateway for a session,
// identified by its portal token. Deltas are cumulative since the previous
// report, never absolute totals.
type UsageReport struct {
	PortalToken     string `json:"portal_token"`
	BytesUploaded   uint64 `json:"bytes_uploaded"`
	BytesDownloaded uint64 `json:"bytes_downloaded"`
	DurationSeconds uint64 `json:"duration_seconds"`
}

// RecordUsage folds a gateway report into the session counters and
// enforces the snapshotted quotas. Returns the session as it stands after
// the report and whether a quota was exceeded by it. The flip to
// QUOTA_EXCEEDED fires exactly once per session regardless of how many
// concurrent reports cross the line.
func (s *Service) RecordUsage(ctx context.Context, rep UsageReport) (model.AccessSession, bool, error) {
	access, err := s.access.GetByPortalToken(ctx, rep.PortalToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.AccessSession{}, false, ErrAccessNotFound
		}
		return model.AccessSession{}, false, err
	}
	if access.Status != model.AccessAuthorized {
		// Late reports for a closed session still land on the counters so
		// the accounting totals stay truthful, but trigger nothing.
		if err := s.access.AddUsage(ctx, access.ID, rep.BytesUploaded, rep.BytesDownloaded, rep.DurationSeconds); err != nil {
			return model.AccessSession{}, false, err
		}
		return access, false, nil
	}

	if err := s.access.AddUsage(ctx, access.ID, rep.BytesUploaded, rep.BytesDownloaded, rep.DurationSeconds); err != nil {
		return model.AccessSession{}, false, err
	}
	access, err = s.access.GetByPortalToken(ctx, rep.PortalToken)
	if err != nil {
		return model.AccessSession{}, false, err
	}

	kind, used, limit := exceededQuota(&access)
	if kind == "" {
		return access, false, nil
	}

	won, err := s.access.MarkQuotaExceeded(ctx, access.ID)
	if err != nil {
		return access, false, err
	}
	access.Status = model.AccessQuotaExceeded
	if won {
		s.met.QuotaViolations.WithLabelValues(kind).Inc()
		s.append(ctx, &model.AuditEntry{
			Action:     model.ActionQuotaExceeded,
			TargetType: "access_session",
			TargetID:   strconv.FormatUint(access.ID, 10),
			TargetRepr: access.MACAddress,
			Metadata: map[string]any{
				"kind":    kind,
				"used":    used,
				"limit":   limit,
				"percent": percentOf(used, limit),
			},
		})
		s.notify.Notify(ctx, "quota.exceeded", map[string]any{
			"mac":   access.MACAddress,
			"kind":  kind,
			"used":  used,
			"limit": limit,
		})
	}
	return access, true, nil
}

// exceededQuota returns which quota the session has crossed, if any. A
// zero quota means unlimited. Data wins over time when both are crossed.
func exceededQuota(a *model.AccessSession) (kind string, used, limit uint64) {
	if a.DataQuotaBytes > 0 {
		total := a.BytesUploaded + a.BytesDownloaded
		if total >= a.DataQuotaBytes {
			return "data", total, a.DataQuotaBytes
		}
	}
	if a.TimeQuotaSeconds > 0 && a.DurationSeconds >= a.TimeQuotaSeconds {
		return "time", a.DurationSeconds, a.TimeQuotaSeconds
	}
	return "", 0, 0
}

func percentOf(used, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// Authorize answers the gateway's admission question for a device: does
// this MAC currently hold an AUTHORIZED session? Wall-clock time quota is
// re-checked here so a session that idled past its window is closed on the
// next admission attempt instead of living forever.
func (s *Service) Authorize(ctx context.Context, mac string) (model.AccessSession, error) {
	access, err := s.access.GetAuthorizedByMAC(ctx, normalizeMAC(mac))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.AccessSession{}, ErrAccessNotFound
		}
		return model.AccessSession{}, err
	}
	if access.TimeQuotaSeconds > 0 {
		elapsed := uint64(time.Since(access.StartTime) / time.Second)
		if elapsed >= access.TimeQuotaSeconds {
			won, err := s.access.MarkQuotaExceeded(ctx, access.ID)
			if err != nil {
				return model.AccessSession{}, err
			}
			if won {
				s.met.QuotaViolations.WithLabelValues("time").Inc()
				s.append(ctx, &model.AuditEntry{
					Action:     model.ActionQuotaExceeded,
					TargetType: "access_session",
					TargetID:   strconv.FormatUint(access.ID, 10),
					TargetRepr: access.MACAddress,
					Metadata: map[string]any{
						"kind":  "time",
						"used":  elapsed,
						"limit": access.TimeQuotaSeconds,
					},
				})
			}
			return model.AccessSession{}, ErrAccessClosed
		}
	}
	return access, nil
}

// EndAccess closes an access session from the portal side (device logout).
// Closing an already-closed session is a no-op.
func (s *Service) EndAccess(ctx context.Context, portalToken, ip, userAgent string) error {
	access, err := s.access.GetByPortalToken(ctx, portalToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccessNotFound
		}
		return err
	}
	if access.Status != model.AccessAuthorized && access.Status != model.AccessPending {
		return nil
	}
	if err := s.access.UpdateStatus(ctx, access.ID, model.AccessRevoked); err != nil {
		return err
	}
	s.append(ctx, &model.AuditEntry{
		Action:     model.ActionPortalLogout,
		TargetType: "access_session",
		TargetID:   strconv.FormatUint(access.ID, 10),
		TargetRepr: access.MACAddress,
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
	return nil
}

func normalizeMAC(mac string) string {
	out := make([]byte, 0, len(mac))
	for i := 0; i < len(mac); i++ {
		c := mac[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c == '-' {
			c = ':'
		}
		if c == ' ' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

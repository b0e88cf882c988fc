// Package metrics provides the Prometheus instrumentation for the portal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric name.
const namespace = "portal"

// Metrics holds every collector the portal exposes. Each Metrics instance
// owns its registry, so constructing one never collides with another.
type Metrics struct {
	reg *prometheus.Registry

	// Login policy
	LoginAttempts *prometheus.CounterVec // outcome: success, invalid_credentials, locked, mfa_failed, status_rejected
	Lockouts      prometheus.Counter

	// Token service
	TokenIssued         prometheus.Counter
	TokenRefreshes      *prometheus.CounterVec // outcome: success, rejected
	TokenVerifyFailures *prometheus.CounterVec // reason: invalid, expired, session_invalid, session_expired, account_inactive
	RevokeFailures      *prometheus.CounterVec // reason: bad_signature, malformed, session_missing, store_error
	SessionsRevoked     prometheus.Counter

	// Voucher / quota enforcement
	VoucherRedemptions *prometheus.CounterVec // outcome: success, not_found, expired, exhausted, revoked
	QuotaViolations    *prometheus.CounterVec // kind: data, time

	// Audit ledger
	AuditAppends        prometheus.Counter
	AuditVerifyFailures prometheus.Counter
}

// New creates a Metrics instance backed by a fresh registry that also
// carries the standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		LoginAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Lockouts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_lockouts_total",
				Help:      "Total number of automatic account lockouts",
			},
		),
		TokenIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_issued_total",
				Help:      "Total number of access/refresh token pairs issued",
			},
		),
		TokenRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		TokenVerifyFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_verify_failures_total",
				Help:      "Total number of access token verification failures by reason",
			},
			[]string{"reason"},
		),
		RevokeFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_revoke_failures_total",
				Help:      "Swallowed failures during best-effort refresh token revocation",
			},
			[]string{"reason"},
		),
		SessionsRevoked: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_revoked_total",
				Help:      "Total number of login sessions revoked",
			},
		),
		VoucherRedemptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voucher_redemptions_total",
				Help:      "Total number of voucher redemption attempts by outcome",
			},
			[]string{"outcome"},
		),
		QuotaViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_violations_total",
				Help:      "Total number of access sessions pushed over a plan quota",
			},
			[]string{"kind"},
		),
		AuditAppends: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_appends_total",
				Help:      "Total number of audit ledger entries written",
			},
		),
		AuditVerifyFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_verify_failures_total",
				Help:      "Total number of audit entries that failed integrity verification",
			},
		),
	}
}

// Handler serves this instance's registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

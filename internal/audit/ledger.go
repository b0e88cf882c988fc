// Package audit implements the append-only, hash-verifiable ledger every
// sensitive action in the portal is recorded to.
//
// Integrity model: each entry carries a SHA-256 content hash computed over a
// canonical serialization of every other field. The canonical form is JSON
// with sorted keys and timestamps rendered as fixed-precision ISO-8601 UTC,
// so the digest is reproducible across processes. The hash is computed once
// at append time and never rewritten; recomputing it and comparing against
// the stored value is the integrity check.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
)

// canonicalTimeLayout is the fixed-precision ISO-8601 form timestamps take
// inside the hashed serialization. Microsecond precision matches the
// DATETIME(6) column, so an entry read back from the store hashes to the
// same digest it was written with.
const canonicalTimeLayout = "2006-01-02T15:04:05.000000Z"

// verifyPageSize bounds how many entries a batch sweep loads per query.
const verifyPageSize = 500

// Store is the insert-only persistence the ledger writes to. There is
// deliberately no update or delete: immutability is part of the contract.
type Store interface {
	Insert(ctx context.Context, e *model.AuditEntry) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.AuditEntry, error)
	ListRange(ctx context.Context, afterID uint64, limit int) ([]model.AuditEntry, error)
}

// Ledger stamps, persists and verifies audit entries.
type Ledger struct {
	store Store
	log   *zap.Logger
	met   *metrics.Metrics
}

// NewLedger returns a Ledger writing through the given store.
func NewLedger(store Store, log *zap.Logger, met *metrics.Metrics) *Ledger {
	return &Ledger{store: store, log: log, met: met}
}

// Append stamps the entry (timestamp, request id, content hash) and writes
// it in a single atomic insert. It either fully persists the entry or
// returns the storage error; there is no partial write. Storage failures
// here are fatal-path errors and must not be swallowed by callers.
func (l *Ledger) Append(ctx context.Context, e *model.AuditEntry) (uint64, error) {
	if !e.Action.Valid() {
		return 0, fmt.Errorf("audit: unknown action %q", e.Action)
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Changes == nil {
		e.Changes = map[string]model.FieldChange{}
	}
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	// Truncate to the precision the canonical layout and the store keep,
	// so rehashing after a round trip reproduces the digest.
	e.Timestamp = time.Now().UTC().Truncate(time.Microsecond)
	e.ContentHash = ContentHash(e)

	id, err := l.store.Insert(ctx, e)
	if err != nil {
		l.log.Error("audit append failed",
			zap.String("action", string(e.Action)),
			zap.String("target_type", e.TargetType),
			zap.Error(err))
		return 0, err
	}
	e.ID = id
	l.met.AuditAppends.Inc()
	return id, nil
}

// Verify recomputes the entry's content hash and compares it with the
// stored one.
func (l *Ledger) Verify(e *model.AuditEntry) bool {
	ok := ContentHash(e) == e.ContentHash
	if !ok {
		l.met.AuditVerifyFailures.Inc()
		l.log.Error("audit entry failed integrity check",
			zap.Uint64("id", e.ID),
			zap.String("action", string(e.Action)),
			zap.Time("timestamp", e.Timestamp))
	}
	return ok
}

// InvalidEntry identifies one entry that failed verification in a sweep.
type InvalidEntry struct {
	ID        uint64            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    model.AuditAction `json:"action"`
	Actor     string            `json:"actor"`
}

// Report summarizes a batch integrity sweep.
type Report struct {
	Total          int            `json:"total"`
	Valid          int            `json:"valid"`
	Invalid        int            `json:"invalid"`
	InvalidEntries []InvalidEntry `json:"invalid_entries"`
}

// VerifyBatch sweeps entries with id > afterID (0 for the whole ledger,
// limit <= 0 for everything) and reports how many pass verification.
func (l *Ledger) VerifyBatch(ctx context.Context, afterID uint64, limit int) (Report, error) {
	var rep Report
	cursor := afterID
	for {
		page := verifyPageSize
		if limit > 0 && limit-rep.Total < page {
			page = limit - rep.Total
		}
		if page <= 0 {
			return rep, nil
		}
		entries, err := l.store.ListRange(ctx, cursor, page)
		if err != nil {
			return rep, err
		}
		if len(entries) == 0 {
			return rep, nil
		}
		for i := range entries {
			e := &entries[i]
			rep.Total++
			if l.Verify(e) {
				rep.Valid++
			} else {
				rep.Invalid++
				rep.InvalidEntries = append(rep.InvalidEntries, InvalidEntry{
					ID:        e.ID,
					Timestamp: e.Timestamp,
					Action:    e.Action,
					Actor:     e.ActorEmail,
				})
			}
			cursor = e.ID
		}
	}
}

// ContentHash computes the deterministic SHA-256 digest over the canonical
// serialization of every field except the hash itself. Map fields marshal
// with sorted keys (encoding/json orders map keys), so logically equal
// entries hash identically regardless of insertion order.
func ContentHash(e *model.AuditEntry) string {
	actorID := ""
	if e.ActorID != nil {
		actorID = strconv.FormatUint(*e.ActorID, 10)
	}
	canonical := map[string]any{
		"actor_id":    actorID,
		"actor_email": e.ActorEmail,
		"actor_role":  e.ActorRole,
		"action":      string(e.Action),
		"target_type": e.TargetType,
		"target_id":   e.TargetID,
		"target_repr": e.TargetRepr,
		"metadata":    normalizeMap(e.Metadata),
		"changes":     normalizeChanges(e.Changes),
		"ip_address":  e.IPAddress,
		"user_agent":  e.UserAgent,
		"request_id":  e.RequestID,
		"timestamp":   e.Timestamp.UTC().Format(canonicalTimeLayout),
	}
	// Marshalling a map cannot fail for these value types.
	blob, _ := json.Marshal(canonical)
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// normalizeMap re-encodes metadata through JSON once so that values hash
// the same whether they arrive as Go typed values (int, struct) or as the
// generic types a JSON round trip produces (float64, map[string]any).
func normalizeMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(blob, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func normalizeChanges(m map[string]model.FieldChange) map[string]model.FieldChange {
	if m == nil {
		return map[string]model.FieldChange{}
	}
	return m
}

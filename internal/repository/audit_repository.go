package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/captivenet/portal/internal/model"
)

// AuditRepo is the insert-only store behind the audit ledger. It exposes no
// update or delete operations on purpose, and the schema backs that up with
// BEFORE UPDATE / BEFORE DELETE triggers that raise an error (see
// migrations/001_schema.sql), so immutability holds even against ad-hoc SQL.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

const auditColumns = `id, actor_id, actor_email, actor_role, action,
	target_type, target_id, target_repr, metadata, changes,
	ip_address, user_agent, request_id, content_hash, timestamp`

// Insert appends one entry and returns its id. The entry must already carry
// its content hash and timestamp; the ledger stamps both before calling
// here so the stored row is byte-complete.
func (r *AuditRepo) Insert(ctx context.Context, e *model.AuditEntry) (uint64, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, err
	}
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_entries
		(actor_id, actor_email, actor_role, action, target_type, target_id,
		 target_repr, metadata, changes, ip_address, user_agent, request_id,
		 content_hash, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ActorID, e.ActorEmail, e.ActorRole, string(e.Action), e.TargetType,
		e.TargetID, e.TargetRepr, metadata, changes, e.IPAddress, e.UserAgent,
		e.RequestID, e.ContentHash, e.Timestamp)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches one entry for verification.
func (r *AuditRepo) GetByID(ctx context.Context, id uint64) (model.AuditEntry, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE id=? LIMIT 1`, id)
	e, err := scanAuditEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuditEntry{}, ErrNotFound
		}
		return model.AuditEntry{}, err
	}
	return e, nil
}

// ListRange returns up to limit entries with id > afterID in insertion
// order, for paging integrity sweeps across the whole ledger.
func (r *AuditRepo) ListRange(ctx context.Context, afterID uint64, limit int) ([]model.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEntry(scan func(...any) error) (model.AuditEntry, error) {
	var (
		e        model.AuditEntry
		actorID  sql.NullInt64
		action   string
		metadata []byte
		changes  []byte
	)
	if err := scan(&e.ID, &actorID, &e.ActorEmail, &e.ActorRole, &action,
		&e.TargetType, &e.TargetID, &e.TargetRepr, &metadata, &changes,
		&e.IPAddress, &e.UserAgent, &e.RequestID, &e.ContentHash, &e.Timestamp); err != nil {
		return model.AuditEntry{}, err
	}
	e.Action = model.AuditAction(action)
	if actorID.Valid {
		id := uint64(actorID.Int64)
		e.ActorID = &id
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return model.AuditEntry{}, err
		}
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return model.AuditEntry{}, err
		}
	}
	return e, nil
}

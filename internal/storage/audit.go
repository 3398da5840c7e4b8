package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/dutylog/internal/domain/audit"
)

// AuditRepository implements audit.Repository. Entries are never updated or
// deleted.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an entry and fills in its ID
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO protocol_audit (protocol_id, action, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	var payload sql.NullString
	if entry.Payload != "" {
		payload = sql.NullString{String: entry.Payload, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, r.db.rebind(query),
		entry.ProtocolID,
		string(entry.Action),
		entry.Actor,
		payload,
		createdAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	entry.CreatedAt = createdAt
	return nil
}

// List returns entries matching the given filters, newest first
func (r *AuditRepository) List(ctx context.Context, opts audit.ListOptions) ([]audit.Entry, error) {
	query := `SELECT id, protocol_id, action, actor, payload, created_at FROM protocol_audit`

	var args []interface{}
	var conditions []string

	if opts.ProtocolID != "" {
		conditions = append(conditions, "protocol_id = ?")
		args = append(args, opts.ProtocolID)
	}
	if opts.Action != nil {
		conditions = append(conditions, "action = ?")
		args = append(args, string(*opts.Action))
	}
	if opts.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, opts.Actor)
	}
	if opts.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			entry   audit.Entry
			action  string
			payload sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ProtocolID, &action, &entry.Actor, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		entry.Payload = payload.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

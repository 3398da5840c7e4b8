package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/repository"
)

const protocolColumns = `
	id, pilot, vehicle, date, start_time, end_time, link,
	status, duration_seconds, revision, created_at, updated_at`

// ProtocolRepository implements protocol.Repository
type ProtocolRepository struct {
	db *DB
}

// NewProtocolRepository creates a new ProtocolRepository
func NewProtocolRepository(db *DB) *ProtocolRepository {
	return &ProtocolRepository{db: db}
}

// Create inserts a new protocol
func (r *ProtocolRepository) Create(ctx context.Context, p *protocol.Protocol) error {
	query := `
		INSERT INTO protocols (` + protocolColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.db.rebind(query),
		p.ID,
		p.Pilot,
		p.Vehicle,
		p.Date.String(),
		p.Start.String(),
		clockValue(p.End),
		nullString(p.Link),
		string(p.Status),
		p.Duration,
		p.Revision,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create protocol: %w", err)
	}
	return nil
}

// Get retrieves a protocol by ID
func (r *ProtocolRepository) Get(ctx context.Context, id string) (*protocol.Protocol, error) {
	query := `SELECT ` + protocolColumns + ` FROM protocols WHERE id = ?`

	p, err := scanProtocol(r.db.QueryRowContext(ctx, r.db.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get protocol: %w", err)
	}
	return p, nil
}

// Update replaces a protocol when its stored revision matches expectedRevision
func (r *ProtocolRepository) Update(ctx context.Context, p *protocol.Protocol, expectedRevision int64) error {
	query := `
		UPDATE protocols
		SET pilot = ?, vehicle = ?, date = ?, start_time = ?, end_time = ?, link = ?,
		    status = ?, duration_seconds = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`

	result, err := r.db.ExecContext(ctx, r.db.rebind(query),
		p.Pilot,
		p.Vehicle,
		p.Date.String(),
		p.Start.String(),
		clockValue(p.End),
		nullString(p.Link),
		string(p.Status),
		p.Duration,
		p.Revision,
		p.UpdatedAt.UTC(),
		p.ID,
		expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to update protocol: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM protocols WHERE id = ?)`
	if err := r.db.QueryRowContext(ctx, r.db.rebind(checkQuery), p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check protocol existence: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// Delete removes a protocol
func (r *ProtocolRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.rebind(`DELETE FROM protocols WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete protocol: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns protocols matching opts, newest date first
func (r *ProtocolRepository) List(ctx context.Context, opts protocol.ListOptions) ([]protocol.Protocol, error) {
	query := `SELECT ` + protocolColumns + ` FROM protocols`

	var args []interface{}
	var conditions []string

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if pilot := strings.TrimSpace(opts.Pilot); pilot != "" {
		conditions = append(conditions, "LOWER(pilot) = LOWER(?)")
		args = append(args, pilot)
	}
	if opts.From != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, opts.From.String())
	}
	if opts.To != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, opts.To.String())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC, start_time DESC, created_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 && r.db.dialect == DialectSQLite {
			// SQLite only accepts OFFSET after a LIMIT.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocols: %w", err)
	}
	defer rows.Close()

	items := []protocol.Protocol{}
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan protocol: %w", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate protocols: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProtocol(row rowScanner) (*protocol.Protocol, error) {
	var (
		p      protocol.Protocol
		date   string
		start  string
		end    sql.NullString
		link   sql.NullString
		status string
	)
	if err := row.Scan(
		&p.ID,
		&p.Pilot,
		&p.Vehicle,
		&date,
		&start,
		&end,
		&link,
		&status,
		&p.Duration,
		&p.Revision,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("protocol %s: bad date %q: %w", p.ID, date, err)
	}
	if p.Start, err = civil.ParseTime(start); err != nil {
		return nil, fmt.Errorf("protocol %s: bad start %q: %w", p.ID, start, err)
	}
	if end.Valid {
		t, err := civil.ParseTime(end.String)
		if err != nil {
			return nil, fmt.Errorf("protocol %s: bad end %q: %w", p.ID, end.String, err)
		}
		p.End = &t
	}
	if link.Valid {
		v := link.String
		p.Link = &v
	}
	p.Status = protocol.Status(status)
	return &p, nil
}

func clockValue(t *civil.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/salon-labs/internal/db"
)

const entryColumns = `id, actor_id, actor_role, action, resource_type, resource_id, method, route,
	status, ip, request_id, metadata, created_at`

// PGStore writes entries to admin_audit_logs.
type PGStore struct {
	DB db.DBTX
}

// Insert stores e.
func (s PGStore) Insert(ctx context.Context, e Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO admin_audit_logs (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Route,
		int32(e.Status), e.IP, e.RequestID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List pages through entries newest first.
func (s PGStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.ResourceType != "" {
		args = append(args, f.ResourceType)
		where = append(where, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if f.ResourceID != "" {
		args = append(args, f.ResourceID)
		where = append(where, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM admin_audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			status   int32
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Route, &status, &e.IP, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = int(status)
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

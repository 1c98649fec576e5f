package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	ID          int64
	Timestamp   time.Time
	Actor       string
	Type        string
	PayloadJSON string
}

// LogEvent appends an audit event.
func (s *Store) LogEvent(ctx context.Context, actor string, eventType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO events (ts, actor, type, payload_json) VALUES (?, ?, ?, ?)",
		formatTime(s.now()),
		actor,
		eventType,
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Events returns audit events of the given type, oldest first. An empty type returns all.
func (s *Store) Events(ctx context.Context, eventType string) ([]AuditEvent, error) {
	query := "SELECT id, ts, actor, type, payload_json FROM events"
	var args []any
	if eventType != "" {
		query += " WHERE type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			e  AuditEvent
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Type, &e.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package auditlog records framework lifecycle events — an EventType
// bound to an aggregate, a migrator starting or catching up, a read
// model's namespace changing — to PostgreSQL. Grounded on
// internal/audit/logger.go's Logger/Log/LogAction/Query from the teacher,
// repurposed from a generic actor/action CRUD trail to this framework's
// own lifecycle vocabulary.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one lifecycle event, mirroring the teacher's common.AuditLog
// shape with Actor/Action/ResourceType/ResourceID renamed to Subject/
// Event/EventTypeName/Detail for this framework's domain.
type Entry struct {
	LogID     string          `json:"log_id"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject"` // e.g. event type name, migrator name, namespace
	Event     string          `json:"event"`   // e.g. "bound", "migrator_started", "caught_up"
	Details   json.RawMessage `json:"details,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
}

// Logger writes Entries to PostgreSQL, mirroring the teacher's Logger.
type Logger struct {
	db *sql.DB
}

// NewLogger constructs a Logger over db.
func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log writes entry, mirroring the teacher's Logger.Log.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sequent_audit_log (subject, event, details, trace_id)
		 VALUES ($1, $2, $3, $4)`,
		entry.Subject, entry.Event, entry.Details, nullString(entry.TraceID))
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Record is a convenience wrapper around Log, mirroring the teacher's
// LogAction: it marshals details and stamps a fresh trace ID.
func (l *Logger) Record(ctx context.Context, subject, event string, details interface{}) error {
	var detailsJSON json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = data
	}
	return l.Log(ctx, Entry{
		Subject: subject,
		Event:   event,
		Details: detailsJSON,
		TraceID: uuid.NewString(),
	})
}

// Query returns entries for subject ordered newest-first, mirroring the
// teacher's Logger.Query.
func (l *Logger) Query(ctx context.Context, subject string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT log_id, timestamp, subject, event, details, trace_id
		 FROM sequent_audit_log
		 WHERE ($1 = '' OR subject = $1)
		 ORDER BY timestamp DESC LIMIT $2`,
		subject, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var traceID sql.NullString
		if err := rows.Scan(&e.LogID, &e.Timestamp, &e.Subject, &e.Event, &e.Details, &traceID); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if traceID.Valid {
			e.TraceID = traceID.String
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

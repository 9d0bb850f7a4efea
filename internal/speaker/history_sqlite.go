package speaker

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// SQLiteEventRepository implements EventRepository using SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new SQLite event repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteEventRepository: Repository instance ready for use
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// RecordEvent appends one event to the speaker history.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - speakerID: Stable speaker identifier
//   - eventType: One of the Event* constants
//   - detail: Free-form context (error text, attempt count), may be empty
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteEventRepository) RecordEvent(ctx context.Context, speakerID, eventType, detail string) error {
	if speakerID == "" {
		return fmt.Errorf("speaker id is required")
	}
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO speaker_events (speaker_id, event_type, detail) VALUES (?, ?, ?)",
		speakerID,
		eventType,
		detail,
	)
	if err != nil {
		return fmt.Errorf("inserting speaker event: %w", err)
	}

	return nil
}

// GetEvents returns recent events for a speaker, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - speakerID: Stable speaker identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Event: Events ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteEventRepository) GetEvents(ctx context.Context, speakerID string, limit int) ([]Event, error) {
	if speakerID == "" {
		return nil, fmt.Errorf("speaker id is required")
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, speaker_id, event_type, detail, created_at
		 FROM speaker_events
		 WHERE speaker_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		speakerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying speaker events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var event Event
		var detail sql.NullString
		var createdAt string

		if err := rows.Scan(&event.ID, &event.SpeakerID, &event.EventType, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning speaker event: %w", err)
		}

		event.Detail = detail.String

		timestamp, err := parseEventTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		event.CreatedAt = timestamp

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating speaker events: %w", err)
	}

	return events, nil
}

// PruneEvents deletes events older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteEventRepository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM speaker_events WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting speaker events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseEventTimestamp parses a timestamp stored in SQLite.
func parseEventTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}

package speaker

import (
	"context"
	"time"
)

// Event types recorded to the speaker_events table.
const (
	// EventConnected is recorded when a speaker becomes reachable.
	EventConnected = "connected"

	// EventDisconnected is recorded when the link is confirmed down.
	EventDisconnected = "disconnected"

	// EventReconnecting is recorded when the reconnect loop engages.
	EventReconnecting = "reconnecting"

	// EventGroupCommitted is recorded when a grouping episode commits.
	EventGroupCommitted = "group_committed"

	// EventGroupFailed is recorded when a grouping commit fails.
	EventGroupFailed = "group_failed"
)

// Event is one row of speaker history.
type Event struct {
	ID        int64     `json:"id"`
	SpeakerID string    `json:"speaker_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventRepository persists the append-only speaker event history.
//
// The history records connection transitions and grouping episodes for
// diagnostics; it is never used to derive live topology.
type EventRepository interface {
	// RecordEvent appends one event.
	RecordEvent(ctx context.Context, speakerID, eventType, detail string) error

	// GetEvents returns recent events for a speaker, newest first.
	GetEvents(ctx context.Context, speakerID string, limit int) ([]Event, error)

	// PruneEvents deletes events older than the given duration and
	// returns the number of rows removed.
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

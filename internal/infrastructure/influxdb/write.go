package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSpeakerMetric writes a single speaker measurement to InfluxDB.
//
// This is the primary method for recording speaker telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - speakerID: Unique identifier for the speaker (e.g., "living-room")
//   - measurement: The metric name (e.g., "volume", "group_size")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteSpeakerMetric("living-room", "volume", 32)
//	client.WriteSpeakerMetric("kitchen", "group_size", 3)
func (c *Client) WriteSpeakerMetric(speakerID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"speaker_metrics",
		map[string]string{
			"speaker_id":  speakerID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionEvent records a connection state transition.
//
// Used for tracking speaker availability and reconnection behaviour
// over time. The attempt count is only meaningful for reconnecting
// transitions; pass 0 otherwise.
//
// Parameters:
//   - speakerID: Speaker identifier
//   - state: The new connection state (e.g., "connected", "reconnecting")
//   - attempt: Reconnection attempt number, 0 when not applicable
func (c *Client) WriteConnectionEvent(speakerID string, state string, attempt int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection_events",
		map[string]string{
			"speaker_id": speakerID,
			"state":      state,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteGroupingEvent records a grouping episode outcome.
//
// Used for tracking commit latency and failure rates of group
// membership changes.
//
// Parameters:
//   - masterID: The group master the episode targeted
//   - outcome: Episode result (e.g., "committed", "failed", "cancelled")
//   - memberCount: Group size after the episode
//   - durationMs: Time from first request to commit completion
func (c *Client) WriteGroupingEvent(masterID string, outcome string, memberCount int, durationMs float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"grouping_events",
		map[string]string{
			"master_id": masterID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"member_count": memberCount,
			"duration_ms":  durationMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

package speaker

import "context"

// Client is the per-speaker transport boundary.
//
// Implementations wrap the actual speaker API (or a simulation of it,
// see the sim sub-package). The core never parses the wire protocol;
// it only consumes this interface.
//
// Error contract:
//   - Network/session failures must wrap ErrConnectionFailed.
//   - Command timeouts must wrap ErrCallTimeout.
//   - Everything else is surfaced unchanged.
//
// Thread Safety: implementations must be safe for concurrent use; the
// Handle serialises connect/disconnect/probe but dispatches commands
// from arbitrary goroutines.
type Client interface {
	// Connect establishes the session to the speaker.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Must be safe to call when
	// already disconnected (the reconnect loop always disconnects
	// before dialling again).
	Disconnect(ctx context.Context) error

	// Update refreshes the full attribute snapshot from the speaker.
	Update(ctx context.Context) error

	// Attributes returns the last snapshot fetched by Update or
	// accumulated from push events.
	Attributes() Attributes

	// Volume reads the current volume. Cheap and always supported;
	// used as the liveness probe.
	Volume(ctx context.Context) (int, error)

	// SetVolume sets the absolute volume (0-100).
	SetVolume(ctx context.Context, volume int) error

	// SetMuted mutes or unmutes the speaker.
	SetMuted(ctx context.Context, muted bool) error

	// Play resumes playback.
	Play(ctx context.Context) error

	// Pause pauses playback.
	Pause(ctx context.Context) error

	// Group replaces the speaker's slave set in one call. The speaker
	// protocol accepts a full before/after diff and computes the
	// minimal wire operations itself; an empty after set dissolves
	// the group.
	Group(ctx context.Context, slavesBefore, slavesAfter []string) error

	// SetOnEvent registers the push-event callback. At most one
	// callback is active; the Handle owns it.
	SetOnEvent(callback func(delta Delta))
}

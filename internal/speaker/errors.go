package speaker

import "errors"

// Sentinel errors for speaker operations.
//
// Device Client implementations must wrap their transport failures in
// these sentinels so the resilience engine can classify them:
//
//	if errors.Is(err, speaker.ErrConnectionFailed) {
//	    // network/session lost - reconnect loop will engage
//	}
var (
	// ErrConnectionFailed indicates the network session to the speaker
	// was lost or could not be established. Always triggers the
	// resilience engine.
	ErrConnectionFailed = errors.New("speaker: connection failed")

	// ErrCallTimeout indicates a command did not complete in time.
	// Triggers the resilience engine only when the call site opts in,
	// because not every command is safe to pair with a reconnect.
	ErrCallTimeout = errors.New("speaker: call timeout")

	// ErrNotConnected indicates a command was issued while the
	// reconnect loop is running. The handle rejects such commands
	// without touching the transport.
	ErrNotConnected = errors.New("speaker: not connected")

	// ErrAlreadyStarted indicates Start was called twice on a handle.
	ErrAlreadyStarted = errors.New("speaker: handle already started")
)

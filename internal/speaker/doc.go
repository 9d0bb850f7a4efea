// Package speaker manages individual networked audio speakers.
//
// Each physical speaker is owned by exactly one Handle, which:
//   - Holds the Device Client transport (the Client interface)
//   - Tracks the speaker's connection state machine
//   - Runs the connection resilience engine (health probing plus
//     exponential-backoff reconnection)
//   - Fans attribute changes out to subscribers
//
// # Connection State Machine
//
// Each Handle walks a four-state machine, driven only by the
// resilience engine:
//
//	connected → checking       periodic probe when the speaker goes quiet
//	checking  → connected      probe succeeds
//	checking  → disconnected   probe fails with a connection-class error
//	disconnected → reconnecting	reconnect loop entered (once per episode)
//	reconnecting → connected   reconnect attempt succeeds
//
// The reconnect loop retries forever with capped exponential backoff and
// stops only on shutdown. Commands dispatched through the Handle provide
// a fast path: a connection-class failure triggers the engine immediately
// instead of waiting for the next scheduled probe.
//
// # Fan-out
//
// Subscribers register a callback and receive every attribute delta the
// speaker pushes. Registration and removal are safe while a dispatch is
// in flight; a subscriber is invoked at most once per dispatch. After a
// successful reconnection every subscriber receives exactly one forced
// refresh notification.
//
// # Usage
//
//	handle := speaker.New(cfg, connCfg, client)
//	handle.SetLogger(logger)
//	handle.Start() // unreachable speakers enter the reconnect loop
//	defer handle.Close()
//
//	id := handle.Subscribe(func(delta speaker.Delta, forced bool) {
//	    // push to entity adapters
//	})
//	defer handle.Unsubscribe(id)
package speaker

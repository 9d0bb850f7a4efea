package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timings for the resilience engine.
const (
	defaultCheckInterval     = 60 * time.Second
	defaultLastSeenThreshold = 5 * time.Minute
	defaultCallTimeout       = 5 * time.Second
	defaultReconnectBase     = 10 * time.Second
	defaultReconnectCapExp   = 6
	defaultReconnectMax      = 15 * time.Minute
)

// Options holds the timing knobs for a Handle's resilience engine.
//
// Zero values are replaced with production defaults; tests use
// millisecond timings to keep the probe/backoff walks fast.
type Options struct {
	// CheckInterval is how often the periodic connection check runs.
	CheckInterval time.Duration

	// LastSeenThreshold is how stale LastSeen may be before a probe
	// is issued. Must exceed the expected push-event interval or the
	// engine probes a perfectly chatty speaker.
	LastSeenThreshold time.Duration

	// CallTimeout bounds every client call issued by the engine.
	CallTimeout time.Duration

	// ReconnectBase is the backoff after the first failed attempt.
	ReconnectBase time.Duration

	// ReconnectCapExponent bounds the exponent:
	// delay = base * 2^min(attempt, capExponent).
	ReconnectCapExponent int

	// ReconnectMax is an absolute ceiling on the computed delay.
	ReconnectMax time.Duration
}

// OptionsFromConfig builds engine options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CheckInterval:        cfg.GetCheckInterval(),
		LastSeenThreshold:    cfg.GetLastSeenThreshold(),
		CallTimeout:          cfg.GetCallTimeout(),
		ReconnectBase:        cfg.GetReconnectBaseDelay(),
		ReconnectCapExponent: cfg.Connection.Reconnect.CapExponent,
		ReconnectMax:         cfg.GetReconnectMaxDelay(),
	}
}

// applyDefaults fills zero-valued options.
func (o *Options) applyDefaults() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = defaultCheckInterval
	}
	if o.LastSeenThreshold <= 0 {
		o.LastSeenThreshold = defaultLastSeenThreshold
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectCapExponent <= 0 {
		o.ReconnectCapExponent = defaultReconnectCapExp
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Subscriber receives attribute deltas from one speaker.
//
// When forced is true the delta is nil and the subscriber should
// re-read the full snapshot via Attributes (used after reconnection
// and for structural changes with no discrete delta).
type Subscriber func(delta Delta, forced bool)

// Stats holds operational statistics for one handle.
type Stats struct {
	State             ConnectionState
	LastSeen          time.Time
	ProbesTotal       uint64
	ProbeFailures     uint64
	ReconnectsTotal   uint64
	ReconnectAttempts int32
	CommandErrors     uint64
}

// Handle owns one physical speaker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Connection-state transitions are serialised by an internal gate;
//     commands from multiple callers never race on connect/disconnect.
type Handle struct {
	id      string
	address string
	client  Client
	opts    Options

	// Last known attribute snapshot.
	attrs   Attributes
	attrsMu sync.RWMutex

	// Connection state machine.
	state   ConnectionState
	stateMu sync.RWMutex

	// gate serialises connect/disconnect/reconnect and the probe.
	gate sync.Mutex

	// reconnecting guards re-entry into the reconnect loop.
	reconnecting atomic.Bool

	// Subscriber fan-out.
	subscribers map[int]Subscriber
	nextSubID   int
	subMu       sync.RWMutex

	// Hooks (optional).
	onStateChange    func(id string, state ConnectionState, attempt int)
	onTopologyChange func()
	hookMu           sync.RWMutex

	// Shutdown coordination. closeMu serialises the closed-check in
	// triggerReconnect against Close, so wg.Add never races wg.Wait.
	done    *closeOnce
	started atomic.Bool
	wg      sync.WaitGroup
	closeMu sync.Mutex

	// Logger (optional).
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics.
	probesTotal       atomic.Uint64
	probeFailures     atomic.Uint64
	reconnectsTotal   atomic.Uint64
	reconnectAttempts atomic.Int32
	commandErrors     atomic.Uint64
}

// New creates a handle for one speaker.
//
// Parameters:
//   - id: Stable speaker identifier (from configuration)
//   - address: Network address the speaker reports as MasterAddress
//   - client: Device Client transport (real or simulated)
//   - opts: Engine timings; zero values get production defaults
//
// Returns:
//   - *Handle: Handle ready for Start
func New(id, address string, client Client, opts Options) *Handle {
	opts.applyDefaults()

	h := &Handle{
		id:          id,
		address:     address,
		client:      client,
		opts:        opts,
		state:       StateDisconnected,
		subscribers: make(map[int]Subscriber),
		done:        newCloseOnce(),
	}

	client.SetOnEvent(h.handleEvent)

	return h
}

// ID returns the stable speaker identifier.
func (h *Handle) ID() string {
	return h.id
}

// Address returns the speaker's network address. Slaves report this
// value as their MasterAddress when grouped under this speaker.
func (h *Handle) Address() string {
	return h.address
}

// Start connects the speaker and launches the periodic check loop.
//
// A speaker that is unreachable at startup is not an error: the handle
// enters the reconnect loop and keeps trying until shutdown.
//
// Returns:
//   - error: ErrAlreadyStarted if Start was already called
func (h *Handle) Start() error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	h.gate.Lock()
	err := h.connectLocked()
	h.gate.Unlock()

	if err != nil {
		h.logWarn("initial connect failed, entering reconnect loop", "error", err)
		h.triggerReconnect()
	}

	h.wg.Add(1)
	go h.checkLoop()

	return nil
}

// Close shuts the handle down: stops the check loop, cancels any
// backoff sleep, and disconnects the client. Safe to call multiple
// times.
func (h *Handle) Close() error {
	h.closeMu.Lock()
	h.done.Close()
	h.closeMu.Unlock()
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.CallTimeout)
	defer cancel()

	h.gate.Lock()
	defer h.gate.Unlock()

	if err := h.client.Disconnect(ctx); err != nil {
		h.logWarn("disconnect on close failed", "error", err)
	}
	h.setState(StateDisconnected, 0)

	return nil
}

// Attributes returns a copy of the last known snapshot.
func (h *Handle) Attributes() Attributes {
	h.attrsMu.RLock()
	defer h.attrsMu.RUnlock()
	return h.attrs
}

// ConnectionState returns the current state of the resilience engine.
func (h *Handle) ConnectionState() ConnectionState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// IsConnected reports whether the engine currently believes the
// speaker is reachable.
func (h *Handle) IsConnected() bool {
	return h.ConnectionState() == StateConnected
}

// Stats returns current operational statistics.
func (h *Handle) Stats() Stats {
	h.attrsMu.RLock()
	lastSeen := h.attrs.LastSeen
	h.attrsMu.RUnlock()

	return Stats{
		State:             h.ConnectionState(),
		LastSeen:          lastSeen,
		ProbesTotal:       h.probesTotal.Load(),
		ProbeFailures:     h.probeFailures.Load(),
		ReconnectsTotal:   h.reconnectsTotal.Load(),
		ReconnectAttempts: h.reconnectAttempts.Load(),
		CommandErrors:     h.commandErrors.Load(),
	}
}

// =============================================================================
// Fan-out
// =============================================================================

// Subscribe registers a callback for attribute deltas.
//
// Safe to call while a dispatch is in flight; the new subscriber joins
// from the next dispatch onwards.
//
// Returns:
//   - int: Subscription id for Unsubscribe
func (h *Handle) Subscribe(fn Subscriber) int {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.nextSubID++
	id := h.nextSubID
	h.subscribers[id] = fn
	return id
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
// Safe to call while a dispatch is in flight; an in-flight dispatch
// may still deliver one final notification to the removed subscriber.
func (h *Handle) Unsubscribe(id int) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	delete(h.subscribers, id)
}

// NotifyAll sends an unconditional forced-refresh notification to every
// subscriber. Used after reconnection and for structural changes with
// no discrete delta.
func (h *Handle) NotifyAll() {
	h.dispatch(nil, true)
}

// dispatch invokes every subscriber exactly once with the given delta.
// The subscriber map is snapshotted under the lock and callbacks run
// outside it, so Subscribe/Unsubscribe never deadlock against a
// dispatch and no subscriber is invoked twice in one dispatch.
func (h *Handle) dispatch(delta Delta, forced bool) {
	h.subMu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		snapshot = append(snapshot, fn)
	}
	h.subMu.RUnlock()

	for _, fn := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logError("subscriber panic", fmt.Errorf("%v", r))
				}
			}()
			fn(delta, forced)
		}()
	}
}

// handleEvent is the push-event entry point, registered on the client.
//
// It refreshes LastSeen (the speaker is demonstrably alive), merges the
// delta into the snapshot, fans it out, and signals topology consumers
// when a grouping attribute moved.
func (h *Handle) handleEvent(delta Delta) {
	h.attrsMu.Lock()
	h.attrs.apply(delta)
	h.attrs.LastSeen = time.Now()
	h.attrsMu.Unlock()

	h.dispatch(delta, false)

	if delta.AffectsGrouping() {
		h.signalTopologyChange()
	}
}

// =============================================================================
// Commands
// =============================================================================

// Do runs a command through the handle's error policy.
//
// While the reconnect loop is running the command is rejected with
// ErrNotConnected without touching the client: the loop owns the
// session, and queueing commands against a dead link only delays the
// caller by a full timeout.
//
// A failure wrapping ErrConnectionFailed always triggers the resilience
// engine; a failure wrapping ErrCallTimeout triggers it only when
// reconnectOnTimeout is set, because not every command is idempotent
// enough to pair with a reconnect. All other errors are surfaced
// unchanged with no state change.
//
// Parameters:
//   - ctx: Context for cancellation; a per-call timeout is layered on
//   - reconnectOnTimeout: Whether ErrCallTimeout engages the engine
//   - fn: The command to execute against the client
//
// Returns:
//   - error: ErrNotConnected while reconnecting, otherwise the
//     command's error, unchanged
func (h *Handle) Do(ctx context.Context, reconnectOnTimeout bool, fn func(ctx context.Context, c Client) error) error {
	if h.ConnectionState() == StateReconnecting {
		h.commandErrors.Add(1)
		return fmt.Errorf("%s: %w", h.id, ErrNotConnected)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	err := fn(callCtx, h.client)
	if err == nil {
		return nil
	}

	h.commandErrors.Add(1)

	switch {
	case errors.Is(err, ErrConnectionFailed):
		h.logWarn("command failed with connection error", "error", err)
		h.triggerReconnect()
	case errors.Is(err, ErrCallTimeout) && reconnectOnTimeout:
		h.logWarn("command timed out, caller opted into reconnect", "error", err)
		h.triggerReconnect()
	default:
		h.logDebug("command failed", "error", err)
	}

	return err
}

// SetVolume sets the absolute volume. Timeout triggers a reconnect:
// volume writes are idempotent.
func (h *Handle) SetVolume(ctx context.Context, volume int) error {
	return h.Do(ctx, true, func(ctx context.Context, c Client) error {
		return c.SetVolume(ctx, volume)
	})
}

// SetMuted mutes or unmutes the speaker. Idempotent, reconnects on timeout.
func (h *Handle) SetMuted(ctx context.Context, muted bool) error {
	return h.Do(ctx, true, func(ctx context.Context, c Client) error {
		return c.SetMuted(ctx, muted)
	})
}

// Play resumes playback. Not paired with reconnect-on-timeout: a
// delayed play racing a fresh session can double-trigger playback.
func (h *Handle) Play(ctx context.Context) error {
	return h.Do(ctx, false, func(ctx context.Context, c Client) error {
		return c.Play(ctx)
	})
}

// Pause pauses playback. Idempotent, reconnects on timeout.
func (h *Handle) Pause(ctx context.Context) error {
	return h.Do(ctx, true, func(ctx context.Context, c Client) error {
		return c.Pause(ctx)
	})
}

// Group issues the physical grouping call. Only the coordinator's
// commit phase calls this; the timeout policy is conservative because
// a group call is not safely repeatable.
func (h *Handle) Group(ctx context.Context, slavesBefore, slavesAfter []string) error {
	return h.Do(ctx, false, func(ctx context.Context, c Client) error {
		return c.Group(ctx, slavesBefore, slavesAfter)
	})
}

// =============================================================================
// Hooks
// =============================================================================

// SetLogger sets the logger for this handle.
func (h *Handle) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// SetOnStateChange registers a callback invoked on every connection
// state transition. attempt is the reconnect attempt number, 0 outside
// the reconnect loop.
func (h *Handle) SetOnStateChange(fn func(id string, state ConnectionState, attempt int)) {
	h.hookMu.Lock()
	h.onStateChange = fn
	h.hookMu.Unlock()
}

// SetOnTopologyChange registers a callback invoked when this speaker's
// grouping attributes changed or it returned from a reconnect (either
// way the derived topology may have moved).
func (h *Handle) SetOnTopologyChange(fn func()) {
	h.hookMu.Lock()
	h.onTopologyChange = fn
	h.hookMu.Unlock()
}

// signalTopologyChange invokes the topology hook if set.
func (h *Handle) signalTopologyChange() {
	h.hookMu.RLock()
	fn := h.onTopologyChange
	h.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// setState updates the state machine and notifies the hook.
func (h *Handle) setState(state ConnectionState, attempt int) {
	h.stateMu.Lock()
	changed := h.state != state
	h.state = state
	h.stateMu.Unlock()

	if !changed {
		return
	}

	h.logInfo("connection state changed", "state", state.String(), "attempt", attempt)

	h.hookMu.RLock()
	fn := h.onStateChange
	h.hookMu.RUnlock()
	if fn != nil {
		fn(h.id, state, attempt)
	}
}

// refreshAttributes pulls the client's snapshot into the handle.
func (h *Handle) refreshAttributes() {
	attrs := h.client.Attributes()
	attrs.LastSeen = time.Now()

	h.attrsMu.Lock()
	h.attrs = attrs
	h.attrsMu.Unlock()
}

// isClosed returns true if the handle has been closed.
func (h *Handle) isClosed() bool {
	select {
	case <-h.done.Done():
		return true
	default:
		return false
	}
}

// =============================================================================
// Logging helpers
// =============================================================================

func (h *Handle) logDebug(msg string, keysAndValues ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, append([]any{"speaker", h.id}, keysAndValues...)...)
	}
}

func (h *Handle) logInfo(msg string, keysAndValues ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, append([]any{"speaker", h.id}, keysAndValues...)...)
	}
}

func (h *Handle) logWarn(msg string, keysAndValues ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, append([]any{"speaker", h.id}, keysAndValues...)...)
	}
}

func (h *Handle) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "speaker", h.id, "error", err)
	}
}

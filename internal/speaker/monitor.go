package speaker

import (
	"context"
	"errors"
	"time"
)

// Connection resilience engine: periodic health probing plus the
// exponential-backoff reconnect loop. One engine per Handle; all
// transitions of the state machine happen here.

// checkLoop runs the periodic connection check until shutdown.
func (h *Handle) checkLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done.Done():
			return
		case <-ticker.C:
			h.maybeCheck()
		}
	}
}

// maybeCheck decides whether this tick warrants a probe.
//
// Skipped when a reconnect is already running, when the speaker was
// never seen (the reconnect loop owns that case), and when the speaker
// has been heard from recently enough that probing is redundant.
func (h *Handle) maybeCheck() {
	if h.reconnecting.Load() {
		return
	}
	if h.ConnectionState() != StateConnected {
		return
	}

	h.attrsMu.RLock()
	lastSeen := h.attrs.LastSeen
	h.attrsMu.RUnlock()

	if lastSeen.IsZero() {
		return
	}
	if time.Since(lastSeen) <= h.opts.LastSeenThreshold {
		return
	}

	h.checkConnection()
}

// checkConnection probes the speaker with a cheap volume read.
//
// The probe opts into timeout-triggered reconnection: reading the
// volume is idempotent, and a timeout on a probe is as good a loss
// signal as a refused connection.
func (h *Handle) checkConnection() {
	h.gate.Lock()

	h.setState(StateChecking, 0)

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.CallTimeout)
	_, err := h.client.Volume(ctx)
	cancel()

	h.probesTotal.Add(1)

	if err == nil {
		h.attrsMu.Lock()
		h.attrs.LastSeen = time.Now()
		h.attrsMu.Unlock()

		h.setState(StateConnected, 0)
		h.gate.Unlock()
		return
	}

	h.probeFailures.Add(1)

	if errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrCallTimeout) {
		h.logWarn("probe failed, connection lost", "error", err)
		h.setState(StateDisconnected, 0)
		h.gate.Unlock()
		h.triggerReconnect()
		return
	}

	// Unexpected error class: log it, keep the connection assumption.
	h.logWarn("probe returned unexpected error", "error", err)
	h.setState(StateConnected, 0)
	h.gate.Unlock()
}

// connectLocked performs the initial connect + snapshot refresh.
// Caller must hold the gate.
func (h *Handle) connectLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.CallTimeout)
	defer cancel()

	if err := h.client.Connect(ctx); err != nil {
		return err
	}
	if err := h.client.Update(ctx); err != nil {
		return err
	}

	h.refreshAttributes()
	h.setState(StateConnected, 0)
	return nil
}

// triggerReconnect enters the reconnect loop in a new goroutine.
// Entering while a loop is already running is a no-op; the guard lives
// in reconnectLoop itself. The closed-check and wg.Add happen under
// closeMu so a concurrent Close cannot observe the waitgroup between
// the check and the Add.
func (h *Handle) triggerReconnect() {
	h.closeMu.Lock()
	if h.isClosed() {
		h.closeMu.Unlock()
		return
	}
	h.wg.Add(1)
	h.closeMu.Unlock()
	go h.reconnectLoop()
}

// reconnectLoop re-establishes the connection with capped exponential
// backoff. One loop per loss episode; re-entry is a no-op. The loop
// runs until success or shutdown - reconnection failures are never
// terminal, the speaker is assumed to eventually return.
func (h *Handle) reconnectLoop() {
	defer h.wg.Done()

	if !h.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer h.reconnecting.Store(false)

	attempt := 0
	for {
		if h.isClosed() {
			return
		}

		h.reconnectAttempts.Store(int32(attempt))
		h.setState(StateReconnecting, attempt)

		if err := h.attemptReconnect(); err != nil {
			delay := h.backoffDelay(attempt)
			h.logWarn("reconnect attempt failed",
				"attempt", attempt,
				"backoff", delay.String(),
				"error", err,
			)

			select {
			case <-h.done.Done():
				return
			case <-time.After(delay):
			}

			attempt++
			continue
		}

		h.finalizeReconnect()
		return
	}
}

// attemptReconnect performs one atomic disconnect/connect/update cycle
// under the gate.
func (h *Handle) attemptReconnect() error {
	h.gate.Lock()
	defer h.gate.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.CallTimeout)
	defer cancel()

	// Disconnect errors are expected on a dead session; discard them.
	h.client.Disconnect(ctx) //nolint:errcheck

	if err := h.client.Connect(ctx); err != nil {
		return err
	}
	if err := h.client.Update(ctx); err != nil {
		return err
	}

	h.refreshAttributes()
	return nil
}

// finalizeReconnect completes a successful reconnection: connected
// state, exactly one forced refresh to every subscriber, and a
// topology re-derivation signal (a returning speaker may need to be
// treated as newly ungrouped).
func (h *Handle) finalizeReconnect() {
	h.reconnectAttempts.Store(0)
	h.reconnectsTotal.Add(1)

	h.setState(StateConnected, 0)
	h.logInfo("reconnection successful", "total_reconnects", h.reconnectsTotal.Load())

	h.NotifyAll()
	h.signalTopologyChange()
}

// backoffDelay computes the sleep before the next attempt:
// base * 2^min(attempt, capExponent), capped at the maximum interval.
// Non-decreasing in attempt.
func (h *Handle) backoffDelay(attempt int) time.Duration {
	exp := attempt
	if exp > h.opts.ReconnectCapExponent {
		exp = h.opts.ReconnectCapExponent
	}

	delay := h.opts.ReconnectBase << uint(exp)
	if delay > h.opts.ReconnectMax || delay <= 0 {
		delay = h.opts.ReconnectMax
	}
	return delay
}

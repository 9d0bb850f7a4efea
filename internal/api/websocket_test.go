package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/logging"
)

func newTestHub() *Hub {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logger)
}

// newTestClient builds a client without a network connection; hub
// bookkeeping and message handling never touch conn.
func newTestClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	return client
}

func decodeFrame(t *testing.T, data []byte) WSMessage {
	t.Helper()
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	return msg
}

func TestHub_BroadcastFiltersBySubscription(t *testing.T) {
	hub := newTestHub()

	stateClient := newTestClient(hub, ChannelSpeakerState)
	topologyClient := newTestClient(hub, ChannelGroupTopology)
	idleClient := newTestClient(hub)
	hub.Register(stateClient)
	hub.Register(topologyClient)
	hub.Register(idleClient)

	hub.Broadcast(ChannelSpeakerState, map[string]any{"speaker_id": "living-room"})

	select {
	case data := <-stateClient.send:
		msg := decodeFrame(t, data)
		if msg.Type != WSTypeEvent {
			t.Errorf("Type = %q, want %q", msg.Type, WSTypeEvent)
		}
		if msg.EventType != ChannelSpeakerState {
			t.Errorf("EventType = %q, want %q", msg.EventType, ChannelSpeakerState)
		}
		if msg.Timestamp == "" {
			t.Error("Timestamp is empty")
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	if len(topologyClient.send) != 0 {
		t.Error("client subscribed to another channel received the frame")
	}
	if len(idleClient.send) != 0 {
		t.Error("client with no subscriptions received the frame")
	}
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, ChannelSpeakerState)
	hub.Register(client)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want 1", got)
	}

	hub.Unregister(client)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() after unregister = %d, want 0", got)
	}

	// Double unregister must not panic on a second channel close.
	hub.Unregister(client)

	hub.Broadcast(ChannelSpeakerState, map[string]any{"speaker_id": "kitchen"})
	if client.trySend([]byte("late")) {
		t.Error("trySend succeeded on a closed client")
	}
}

// Broadcasts racing client shutdown must neither panic nor deadlock.
func TestHub_BroadcastConcurrentWithUnregister(t *testing.T) {
	hub := newTestHub()

	clients := make([]*WSClient, 20)
	for i := range clients {
		clients[i] = newTestClient(hub, ChannelSpeakerState)
		hub.Register(clients[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.Broadcast(ChannelSpeakerState, map[string]any{"n": i})
		}
	}()
	go func() {
		defer wg.Done()
		for _, client := range clients {
			hub.Unregister(client)
		}
	}()
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestHub_RunClosesClientsOnCancel(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, ChannelGroupTopology)
	hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
	if _, open := <-client.send; open {
		t.Error("send channel still open after shutdown")
	}
}

func TestClient_SubscribeRoundtrip(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	hub.Register(client)

	client.handleMessage([]byte(`{"type":"subscribe","id":"req-1","payload":{"channels":["speaker.state","group.topology"]}}`))

	msg := decodeFrame(t, <-client.send)
	if msg.Type != WSTypeResponse {
		t.Fatalf("Type = %q, want %q", msg.Type, WSTypeResponse)
	}
	if msg.ID != "req-1" {
		t.Errorf("ID = %q, want req-1", msg.ID)
	}
	if !client.isSubscribed(ChannelSpeakerState) || !client.isSubscribed(ChannelGroupTopology) {
		t.Error("subscriptions not recorded")
	}

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"req-2","payload":{"channels":["speaker.state"]}}`))
	msg = decodeFrame(t, <-client.send)
	if msg.Type != WSTypeResponse {
		t.Fatalf("unsubscribe response Type = %q, want %q", msg.Type, WSTypeResponse)
	}
	if client.isSubscribed(ChannelSpeakerState) {
		t.Error("speaker.state still subscribed after unsubscribe")
	}
	if !client.isSubscribed(ChannelGroupTopology) {
		t.Error("group.topology dropped by an unrelated unsubscribe")
	}
}

// A subscribe request naming an unknown channel is rejected whole; no
// channel in the list takes effect.
func TestClient_SubscribeUnknownChannelRejected(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	hub.Register(client)

	client.handleMessage([]byte(`{"type":"subscribe","id":"req-3","payload":{"channels":["speaker.state","speaker.stat"]}}`))

	msg := decodeFrame(t, <-client.send)
	if msg.Type != WSTypeError {
		t.Fatalf("Type = %q, want %q", msg.Type, WSTypeError)
	}
	if client.isSubscribed(ChannelSpeakerState) {
		t.Error("valid channel applied despite rejected request")
	}
}

func TestClient_HandleMessageErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"malformed json", `{"type":`},
		{"unknown type", `{"type":"restart","id":"req-4"}`},
		{"subscribe without payload", `{"type":"subscribe","id":"req-5"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub()
			client := newTestClient(hub)
			hub.Register(client)

			client.handleMessage([]byte(tt.frame))

			msg := decodeFrame(t, <-client.send)
			if msg.Type != WSTypeError {
				t.Errorf("Type = %q, want %q", msg.Type, WSTypeError)
			}
		})
	}
}

func TestClient_PingAnswersPong(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	hub.Register(client)

	client.handleMessage([]byte(`{"type":"ping","id":"req-6"}`))

	msg := decodeFrame(t, <-client.send)
	if msg.Type != WSTypePong {
		t.Errorf("Type = %q, want %q", msg.Type, WSTypePong)
	}
	if msg.ID != "req-6" {
		t.Errorf("ID = %q, want req-6", msg.ID)
	}
}

func TestClient_TrySendDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub()
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{ChannelSpeakerState: {}},
	}

	if !client.trySend([]byte("first")) {
		t.Fatal("first trySend failed on empty buffer")
	}
	if client.trySend([]byte("second")) {
		t.Error("trySend succeeded on a full buffer")
	}
	if got := len(client.send); got != 1 {
		t.Errorf("buffered frames = %d, want 1", got)
	}
}

package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
)

// Unit tests for the MQTT client wrapper.
//
// These tests exercise option building, topic construction, input
// validation, and state tracking without a broker. End-to-end tests
// against a live Mosquitto instance live in integration_test.go and
// run with: go test -tags=integration ./internal/infrastructure/mqtt/...

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "soundmesh-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// newDisconnectedClient builds a Client that has never connected.
// Validation paths run before any broker interaction, so they can be
// exercised without a paho session.
func newDisconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}
}

// =============================================================================
// Option Building
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "soundmesh-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "soundmesh-test")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want %q", got, "ssl")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want configured")
	}
}

func TestBuildClientOptions_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "soundmesh"
	cfg.Auth.Password = "secret"
	opts := buildClientOptions(cfg)

	if opts.Username != "soundmesh" {
		t.Errorf("Username = %q, want %q", opts.Username, "soundmesh")
	}
	if opts.Password != "secret" {
		t.Errorf("Password = %q, want %q", opts.Password, "secret")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	if opts.WillTopic != "soundmesh/system/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "soundmesh/system/status")
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if opts.WillQos != 1 {
		t.Errorf("WillQos = %d, want 1", opts.WillQos)
	}

	payload := string(opts.WillPayload)
	if !strings.Contains(payload, `"status":"offline"`) {
		t.Errorf("WillPayload missing offline status: %s", payload)
	}
	if !strings.Contains(payload, `"client_id":"soundmesh-test"`) {
		t.Errorf("WillPayload missing client_id: %s", payload)
	}
	if !strings.Contains(payload, `"reason":"unexpected_disconnect"`) {
		t.Errorf("WillPayload missing reason: %s", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("soundmesh-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload = %s, missing online status", online)
	}

	offline := buildOfflinePayload("soundmesh-test")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload = %s, missing offline status", offline)
	}
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s, missing graceful reason", offline)
	}
}

// =============================================================================
// Topic Builders
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "SpeakerState",
			got:  topics.SpeakerState("living-room"),
			want: "soundmesh/speaker/living-room/state",
		},
		{
			name: "SpeakerConnection",
			got:  topics.SpeakerConnection("living-room"),
			want: "soundmesh/speaker/living-room/connection",
		},
		{
			name: "SpeakerCommand",
			got:  topics.SpeakerCommand("kitchen"),
			want: "soundmesh/speaker/kitchen/command",
		},
		{
			name: "GroupTopology",
			got:  topics.GroupTopology(),
			want: "soundmesh/group/topology",
		},
		{
			name: "GroupEvent",
			got:  topics.GroupEvent("commit_failed"),
			want: "soundmesh/group/event/commit_failed",
		},
		{
			name: "SystemStatus",
			got:  topics.SystemStatus(),
			want: "soundmesh/system/status",
		},
		{
			name: "AllSpeakerStates",
			got:  topics.AllSpeakerStates(),
			want: "soundmesh/speaker/+/state",
		},
		{
			name: "AllSpeakerConnections",
			got:  topics.AllSpeakerConnections(),
			want: "soundmesh/speaker/+/connection",
		},
		{
			name: "AllSpeakerCommands",
			got:  topics.AllSpeakerCommands(),
			want: "soundmesh/speaker/+/command",
		},
		{
			name: "AllGroupEvents",
			got:  topics.AllGroupEvents(),
			want: "soundmesh/group/event/+",
		},
		{
			name: "AllTopics",
			got:  topics.AllTopics(),
			want: "soundmesh/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// =============================================================================
// Publish Validation
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	client := newDisconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("x"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "soundmesh/speaker/living-room/state",
			payload: []byte("x"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "soundmesh/speaker/living-room/state",
			payload: make([]byte, maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "not connected",
			topic:   "soundmesh/speaker/living-room/state",
			payload: []byte("x"),
			qos:     1,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Subscribe Validation
// =============================================================================

func TestSubscribe_Validation(t *testing.T) {
	client := newDisconnectedClient()
	handler := func(topic string, payload []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			qos:     1,
			handler: handler,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "soundmesh/speaker/+/state",
			qos:     5,
			handler: handler,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "nil handler",
			topic:   "soundmesh/speaker/+/state",
			qos:     1,
			handler: nil,
			wantErr: ErrSubscribeFailed,
		},
		{
			name:    "not connected",
			topic:   "soundmesh/speaker/+/state",
			qos:     1,
			handler: handler,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Failed subscriptions must not be tracked.
	if count := client.SubscriptionCount(); count != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", count)
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	client := newDisconnectedClient()

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want %v", err, ErrInvalidTopic)
	}
	if err := client.Unsubscribe("soundmesh/speaker/+/state"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() on disconnected client error = %v, want %v", err, ErrNotConnected)
	}
}

// =============================================================================
// State Tracking
// =============================================================================

func TestSubscriptionTracking_NewClient(t *testing.T) {
	client := newDisconnectedClient()

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d on new client, want 0", client.SubscriptionCount())
	}
	if client.HasSubscription("soundmesh/speaker/+/state") {
		t.Error("HasSubscription() = true on new client, want false")
	}
}

func TestIsConnected_NewClient(t *testing.T) {
	client := newDisconnectedClient()

	if client.IsConnected() {
		t.Error("IsConnected() = true on disconnected client, want false")
	}
}

func TestClose_NeverConnected(t *testing.T) {
	client := newDisconnectedClient()

	if err := client.Close(); err != nil {
		t.Errorf("Close() on never-connected client error = %v, want nil", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := newDisconnectedClient()

	// Disconnected client reports unhealthy.
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want %v", err, ErrNotConnected)
	}

	// Cancelled context short-circuits.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled context error = %v, want %v", err, context.Canceled)
	}
}

func TestSetLogger(t *testing.T) {
	client := newDisconnectedClient()

	logger := &captureLogger{}
	client.SetLogger(logger)
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() != nil after SetLogger(nil)")
	}
}

func TestCallbacks_SetAndClear(t *testing.T) {
	client := newDisconnectedClient()

	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(err error) {})
	client.SetOnConnect(nil)
	client.SetOnDisconnect(nil)

	// handleDisconnect with cleared callback must not panic.
	client.handleDisconnect(errors.New("connection lost"))

	if client.IsConnected() {
		t.Error("IsConnected() = true after handleDisconnect()")
	}
}

func TestHandleDisconnect_InvokesCallback(t *testing.T) {
	client := newDisconnectedClient()

	var mu sync.Mutex
	var gotErr error
	client.SetOnDisconnect(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})

	wantErr := errors.New("broker went away")
	client.handleDisconnect(wantErr)

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil || gotErr.Error() != wantErr.Error() {
		t.Errorf("disconnect callback error = %v, want %v", gotErr, wantErr)
	}
}

// captureLogger implements Logger for unit tests.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
service:
  id: "test-service"
speakers:
  - id: "speaker-living"
    name: "Living Room"
    host: "192.168.1.50"
    port: 55001
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-service" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-service")
	}

	if len(cfg.Speakers) != 1 || cfg.Speakers[0].ID != "speaker-living" {
		t.Errorf("Speakers = %+v, want one entry with ID speaker-living", cfg.Speakers)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Defaults should survive a partial file
	if cfg.Connection.CheckInterval != defaultCheckInterval {
		t.Errorf("Connection.CheckInterval = %d, want default %d", cfg.Connection.CheckInterval, defaultCheckInterval)
	}
	if cfg.Grouping.SettleDelay != defaultSettleDelayMs {
		t.Errorf("Grouping.SettleDelay = %d, want default %d", cfg.Grouping.SettleDelay, defaultSettleDelayMs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	// validJWTSecret is a secret that meets the 32-character minimum requirement
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing service ID",
			mutate:  func(c *Config) { c.Service.ID = "" },
			wantErr: true,
		},
		{
			name: "speaker without ID",
			mutate: func(c *Config) {
				c.Speakers = []SpeakerConfig{{Host: "192.168.1.50"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate speaker IDs",
			mutate: func(c *Config) {
				c.Speakers = []SpeakerConfig{
					{ID: "sp-1", Host: "192.168.1.50"},
					{ID: "sp-1", Host: "192.168.1.51"},
				}
			},
			wantErr: true,
		},
		{
			name: "non-simulated speaker without host",
			mutate: func(c *Config) {
				c.Speakers = []SpeakerConfig{{ID: "sp-1"}}
			},
			wantErr: true,
		},
		{
			name: "simulated speaker without host is fine",
			mutate: func(c *Config) {
				c.Speakers = []SpeakerConfig{{ID: "sp-1", Simulated: true}}
			},
			wantErr: false,
		},
		{
			name:    "zero check interval",
			mutate:  func(c *Config) { c.Connection.CheckInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero reconnect base delay",
			mutate:  func(c *Config) { c.Connection.Reconnect.BaseDelay = 0 },
			wantErr: true,
		},
		{
			name:    "negative cap exponent",
			mutate:  func(c *Config) { c.Connection.Reconnect.CapExponent = -1 },
			wantErr: true,
		},
		{
			name:    "zero settle delay",
			mutate:  func(c *Config) { c.Grouping.SettleDelay = 0 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Connection: ConnectionConfig{
			CheckInterval:     60,
			LastSeenThreshold: 300,
			CallTimeout:       5,
			Reconnect: ReconnectConfig{
				BaseDelay: 10,
				MaxDelay:  900,
			},
		},
		Grouping: GroupingConfig{
			SettleDelay:     1500,
			PostCommitDelay: 2000,
			CommitTimeout:   15,
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetCheckInterval().Seconds(); got != 60 {
		t.Errorf("GetCheckInterval() = %v, want 60", got)
	}
	if got := cfg.GetLastSeenThreshold().Seconds(); got != 300 {
		t.Errorf("GetLastSeenThreshold() = %v, want 300", got)
	}
	if got := cfg.GetCallTimeout().Seconds(); got != 5 {
		t.Errorf("GetCallTimeout() = %v, want 5", got)
	}
	if got := cfg.GetReconnectBaseDelay().Seconds(); got != 10 {
		t.Errorf("GetReconnectBaseDelay() = %v, want 10", got)
	}
	if got := cfg.GetReconnectMaxDelay().Seconds(); got != 900 {
		t.Errorf("GetReconnectMaxDelay() = %v, want 900", got)
	}
	if got := cfg.GetSettleDelay().Milliseconds(); got != 1500 {
		t.Errorf("GetSettleDelay() = %v, want 1500", got)
	}
	if got := cfg.GetPostCommitDelay().Milliseconds(); got != 2000 {
		t.Errorf("GetPostCommitDelay() = %v, want 2000", got)
	}
	if got := cfg.GetCommitTimeout().Seconds(); got != 15 {
		t.Errorf("GetCommitTimeout() = %v, want 15", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("SOUNDMESH_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SOUNDMESH_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SOUNDMESH_MQTT_USERNAME", "testuser")
	t.Setenv("SOUNDMESH_MQTT_PASSWORD", "testpass")
	t.Setenv("SOUNDMESH_API_HOST", "192.168.1.1")
	t.Setenv("SOUNDMESH_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SOUNDMESH_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}

	if cfg.Connection.Reconnect.CapExponent != defaultCapExponent {
		t.Errorf("defaultConfig Reconnect.CapExponent = %d, want %d",
			cfg.Connection.Reconnect.CapExponent, defaultCapExponent)
	}
}

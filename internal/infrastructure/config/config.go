package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SoundMesh Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Speakers   []SpeakerConfig  `yaml:"speakers"`
	Connection ConnectionConfig `yaml:"connection"`
	Grouping   GroupingConfig   `yaml:"grouping"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServiceConfig contains deployment-specific information.
type ServiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SpeakerConfig describes a single speaker to manage.
type SpeakerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Simulated switches the speaker to the in-process simulated client.
	// Used for development setups without physical hardware.
	Simulated bool `yaml:"simulated"`
}

// ConnectionConfig contains health-check and reconnection settings.
// All durations are expressed in seconds in the YAML file.
type ConnectionConfig struct {
	// CheckInterval is how often the periodic connection check runs.
	CheckInterval int `yaml:"check_interval"`

	// LastSeenThreshold is how stale a speaker's last event may be before
	// the check actively probes it. Must exceed the speakers' own push
	// keepalive interval or every check turns into a probe.
	LastSeenThreshold int `yaml:"last_seen_threshold"`

	// CallTimeout is the per-call timeout for speaker API requests.
	CallTimeout int `yaml:"call_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains exponential backoff settings for the
// per-speaker reconnection loop.
type ReconnectConfig struct {
	// BaseDelay is the delay after the first failed attempt (seconds).
	BaseDelay int `yaml:"base_delay"`

	// CapExponent bounds the exponent: delay = base * 2^min(attempt, cap_exponent).
	CapExponent int `yaml:"cap_exponent"`

	// MaxDelay is an absolute ceiling on the computed delay (seconds).
	MaxDelay int `yaml:"max_delay"`
}

// GroupingConfig contains settings for the group coordinator.
type GroupingConfig struct {
	// SettleDelay is the debounce window between the first grouping request
	// and the physical group call (milliseconds).
	SettleDelay int `yaml:"settle_delay"`

	// PostCommitDelay is how long to wait after a group call for the
	// speakers' own push events to settle (milliseconds).
	PostCommitDelay int `yaml:"post_commit_delay"`

	// CommitTimeout is the timeout for the physical group call (seconds).
	CommitTimeout int `yaml:"commit_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SOUNDMESH_SECTION_KEY
// For example: SOUNDMESH_DATABASE_PATH, SOUNDMESH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default intervals (seconds unless noted).
const (
	defaultCheckInterval     = 60
	defaultLastSeenThreshold = 300
	defaultCallTimeout       = 5
	defaultReconnectBase     = 10
	defaultCapExponent       = 6
	defaultMaxDelay          = 900
	defaultSettleDelayMs     = 1000
	defaultPostCommitMs      = 2000
	defaultCommitTimeout     = 15
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:       "soundmesh-001",
			Name:     "SoundMesh",
			Timezone: "UTC",
		},
		Connection: ConnectionConfig{
			CheckInterval:     defaultCheckInterval,
			LastSeenThreshold: defaultLastSeenThreshold,
			CallTimeout:       defaultCallTimeout,
			Reconnect: ReconnectConfig{
				BaseDelay:   defaultReconnectBase,
				CapExponent: defaultCapExponent,
				MaxDelay:    defaultMaxDelay,
			},
		},
		Grouping: GroupingConfig{
			SettleDelay:     defaultSettleDelayMs,
			PostCommitDelay: defaultPostCommitMs,
			CommitTimeout:   defaultCommitTimeout,
		},
		Database: DatabaseConfig{
			Path:        "./data/soundmesh.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "soundmesh-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SOUNDMESH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SOUNDMESH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SOUNDMESH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SOUNDMESH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SOUNDMESH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SOUNDMESH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SOUNDMESH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("SOUNDMESH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Speaker validation
	seen := make(map[string]bool, len(c.Speakers))
	for i, sp := range c.Speakers {
		if sp.ID == "" {
			errs = append(errs, fmt.Sprintf("speakers[%d].id is required", i))
			continue
		}
		if seen[sp.ID] {
			errs = append(errs, fmt.Sprintf("speakers[%d].id %q is duplicated", i, sp.ID))
		}
		seen[sp.ID] = true
		if sp.Host == "" && !sp.Simulated {
			errs = append(errs, fmt.Sprintf("speakers[%d].host is required for non-simulated speakers", i))
		}
	}

	// Connection validation
	if c.Connection.CheckInterval <= 0 {
		errs = append(errs, "connection.check_interval must be positive")
	}
	if c.Connection.Reconnect.BaseDelay <= 0 {
		errs = append(errs, "connection.reconnect.base_delay must be positive")
	}
	if c.Connection.Reconnect.CapExponent < 0 {
		errs = append(errs, "connection.reconnect.cap_exponent must not be negative")
	}

	// Grouping validation
	if c.Grouping.SettleDelay <= 0 {
		errs = append(errs, "grouping.settle_delay must be positive")
	}
	if c.Grouping.CommitTimeout <= 0 {
		errs = append(errs, "grouping.commit_timeout must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED.
	// An empty or weak secret would let anyone forge tokens and drive
	// every speaker in the house.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SOUNDMESH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCheckInterval returns the connection check interval as a Duration.
func (c *Config) GetCheckInterval() time.Duration {
	return time.Duration(c.Connection.CheckInterval) * time.Second
}

// GetLastSeenThreshold returns the last-seen staleness threshold as a Duration.
func (c *Config) GetLastSeenThreshold() time.Duration {
	return time.Duration(c.Connection.LastSeenThreshold) * time.Second
}

// GetCallTimeout returns the per-call speaker API timeout as a Duration.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Connection.CallTimeout) * time.Second
}

// GetReconnectBaseDelay returns the reconnect base delay as a Duration.
func (c *Config) GetReconnectBaseDelay() time.Duration {
	return time.Duration(c.Connection.Reconnect.BaseDelay) * time.Second
}

// GetReconnectMaxDelay returns the reconnect delay ceiling as a Duration.
func (c *Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.Connection.Reconnect.MaxDelay) * time.Second
}

// GetSettleDelay returns the grouping settle delay as a Duration.
func (c *Config) GetSettleDelay() time.Duration {
	return time.Duration(c.Grouping.SettleDelay) * time.Millisecond
}

// GetPostCommitDelay returns the post-commit settle delay as a Duration.
func (c *Config) GetPostCommitDelay() time.Duration {
	return time.Duration(c.Grouping.PostCommitDelay) * time.Millisecond
}

// GetCommitTimeout returns the group commit timeout as a Duration.
func (c *Config) GetCommitTimeout() time.Duration {
	return time.Duration(c.Grouping.CommitTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

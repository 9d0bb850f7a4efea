// SoundMesh Core - Networked Speaker Coordinator
//
// This is the main entry point for the SoundMesh Core application.
// SoundMesh manages a fleet of networked audio speakers:
//   - Per-speaker connection supervision with exponential-backoff recovery
//   - Debounced multiroom group coordination
//   - REST/WebSocket API, MQTT event bus, and InfluxDB telemetry
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/soundmesh-core/migrations"

	"github.com/nerrad567/soundmesh-core/internal/api"
	"github.com/nerrad567/soundmesh-core/internal/grouping"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/database"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/logging"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/soundmesh-core/internal/speaker"
	"github.com/nerrad567/soundmesh-core/internal/speaker/sim"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SoundMesh Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx, migrations.Files); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Speaker event history
	history := speaker.NewSQLiteEventRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Group coordinator
	coordinator := grouping.NewCoordinator(grouping.OptionsFromConfig(cfg))
	coordinator.SetLogger(log)
	coordinator.SetEventRepository(history)
	defer func() {
		log.Info("closing group coordinator")
		if closeErr := coordinator.Close(); closeErr != nil {
			log.Error("error closing coordinator", "error", closeErr)
		}
	}()

	// Build the speaker fleet and handles
	handles, directory, err := buildFleet(cfg, coordinator, history, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("building speaker fleet: %w", err)
	}
	defer func() {
		log.Info("closing speaker handles")
		for _, h := range handles {
			if closeErr := h.Close(); closeErr != nil {
				log.Error("error closing speaker handle", "speaker_id", h.ID(), "error", closeErr)
			}
		}
	}()
	log.Info("speaker fleet initialised", "speakers", len(handles))

	// Publish topology and grouping outcomes to the bus
	wireTopologyTelemetry(coordinator, mqttClient, influxClient, log)

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Speakers:    directory,
		Coordinator: coordinator,
		History:     history,
		MQTT:        mqttClient,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Start connection supervision last so early state transitions reach
	// a fully wired bus.
	for _, h := range handles {
		if startErr := h.Start(); startErr != nil {
			log.Error("failed to start speaker handle", "speaker_id", h.ID(), "error", startErr)
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Speaker handles
	// 3. Coordinator
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Database

	log.Info("SoundMesh Core stopped")
	return nil
}

// buildFleet creates the simulated transport, one handle per configured
// speaker, and wires every handle into the coordinator, the MQTT bus,
// InfluxDB telemetry, and the event history.
func buildFleet(
	cfg *config.Config,
	coordinator *grouping.Coordinator,
	history speaker.EventRepository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) ([]*speaker.Handle, *api.Directory, error) {
	fleet := sim.NewFleet()
	opts := speaker.OptionsFromConfig(cfg)
	directory := api.NewDirectory()
	handles := make([]*speaker.Handle, 0, len(cfg.Speakers))

	for _, sc := range cfg.Speakers {
		if sc.ID == "" || sc.Host == "" {
			return nil, nil, fmt.Errorf("speaker entry missing id or host")
		}
		if !sc.Simulated {
			log.Warn("native speaker transport not configured, using simulated client",
				"speaker_id", sc.ID,
			)
		}

		address := fmt.Sprintf("%s:%d", sc.Host, sc.Port)
		client := fleet.Add(sc.ID, address, sc.Name)

		h := speaker.New(sc.ID, address, client, opts)
		h.SetLogger(log)
		h.SetOnTopologyChange(coordinator.NotifyTopologyChanged)
		wireSpeakerTelemetry(h, history, mqttClient, influxClient, log)

		coordinator.Register(sc.ID, h)
		directory.Add(h)
		handles = append(handles, h)
	}

	return handles, directory, nil
}

// wireSpeakerTelemetry fans one handle's transitions and push events
// out to MQTT, InfluxDB, and the persistent event history.
func wireSpeakerTelemetry(
	h *speaker.Handle,
	history speaker.EventRepository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) {
	topics := mqtt.Topics{}
	speakerID := h.ID()

	h.SetOnStateChange(func(id string, state speaker.ConnectionState, attempt int) {
		if mqttClient != nil {
			payload, err := json.Marshal(map[string]any{
				"speaker_id": id,
				"state":      state,
				"attempt":    attempt,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			})
			if err == nil {
				if pubErr := mqttClient.PublishRetained(topics.SpeakerConnection(id), payload); pubErr != nil {
					log.Warn("failed to publish connection state", "speaker_id", id, "error", pubErr)
				}
			}
		}

		if influxClient != nil {
			influxClient.WriteConnectionEvent(id, string(state), attempt)
		}

		if eventType := historyEventFor(state); eventType != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := history.RecordEvent(ctx, id, eventType, fmt.Sprintf("attempt=%d", attempt)); err != nil {
				log.Warn("failed to record connection event", "speaker_id", id, "error", err)
			}
		}
	})

	// Attribute snapshots on every push event or forced refresh.
	h.Subscribe(func(delta speaker.Delta, forced bool) {
		attrs := h.Attributes()

		if mqttClient != nil {
			payload, err := json.Marshal(map[string]any{
				"speaker_id": speakerID,
				"forced":     forced,
				"delta":      delta,
				"attributes": attrs,
			})
			if err == nil {
				if pubErr := mqttClient.PublishRetained(topics.SpeakerState(speakerID), payload); pubErr != nil {
					log.Warn("failed to publish speaker state", "speaker_id", speakerID, "error", pubErr)
				}
			}
		}

		if influxClient != nil {
			influxClient.WriteSpeakerMetric(speakerID, "volume", float64(attrs.Volume))
		}
	})
}

// wireTopologyTelemetry publishes group topology changes and commit
// failures to the bus.
func wireTopologyTelemetry(
	coordinator *grouping.Coordinator,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) {
	topics := mqtt.Topics{}

	coordinator.SubscribeTopology(func() {
		if mqttClient == nil {
			return
		}

		groups := make(map[string][]string)
		for _, id := range coordinator.MemberIDs() {
			members := coordinator.ResolveMembers(id)
			if len(members) == 0 {
				continue
			}
			groups[members[0]] = members
		}

		payload, err := json.Marshal(map[string]any{
			"groups":    groups,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return
		}
		if pubErr := mqttClient.PublishRetained(topics.GroupTopology(), payload); pubErr != nil {
			log.Warn("failed to publish group topology", "error", pubErr)
		}
	})

	coordinator.SetOnCommitError(func(masterID string, err error) {
		log.Error("group commit failed", "master_id", masterID, "error", err)

		if influxClient != nil {
			influxClient.WriteGroupingEvent(masterID, "failed", 0, 0)
		}

		if mqttClient != nil {
			payload, marshalErr := json.Marshal(map[string]any{
				"master_id": masterID,
				"error":     err.Error(),
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			if marshalErr == nil {
				//nolint:errcheck // Best-effort failure event
				mqttClient.Publish(topics.GroupEvent("commit_failed"), payload, 1, false)
			}
		}
	})
}

// historyEventFor maps a connection state to its history event type.
// Checking is transient and not recorded.
func historyEventFor(state speaker.ConnectionState) string {
	switch state {
	case speaker.StateConnected:
		return speaker.EventConnected
	case speaker.StateDisconnected:
		return speaker.EventDisconnected
	case speaker.StateReconnecting:
		return speaker.EventReconnecting
	default:
		return ""
	}
}

// getConfigPath returns the configuration file path.
// Uses SOUNDMESH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SOUNDMESH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// Package api provides the HTTP REST API and WebSocket server for SoundMesh Core.
//
// It exposes the speaker fleet to user interfaces and integrations:
// attribute snapshots, connection health, volume/mute/transport
// commands, group membership queries and join/leave requests, and
// real-time push over WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/soundmesh-core/internal/grouping"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/logging"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Speakers    *Directory
	Coordinator *grouping.Coordinator
	History     speaker.EventRepository // optional: events endpoint returns 503 without it
	MQTT        *mqtt.Client            // optional: system status reports broker link state
	Version     string
}

// Server is the HTTP API server for SoundMesh Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	speakers    *Directory
	coordinator *grouping.Coordinator
	history     speaker.EventRepository
	mqtt        *mqtt.Client
	version     string
	server      *http.Server
	hub         *Hub
	startedAt   time.Time
	cancel      context.CancelFunc // cancels background goroutines on Close()
	topologySub int                // coordinator subscription id, released on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, speakers, coordinator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Speakers == nil {
		return nil, fmt.Errorf("speaker directory is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("group coordinator is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		speakers:    deps.Speakers,
		coordinator: deps.Coordinator,
		history:     deps.History,
		mqtt:        deps.MQTT,
		version:     deps.Version,
	}, nil
}

// Hub returns the WebSocket hub. Nil until Start() is called.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, wires speaker and topology updates into
// the hub for real-time broadcast, and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.wireBroadcasts()
	s.startedAt = time.Now().UTC()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// wireBroadcasts connects the in-process event sources to the WebSocket
// hub: each speaker's push events fan out on the "speaker.state"
// channel and every topology change broadcasts the full resolved
// membership map on "group.topology".
func (s *Server) wireBroadcasts() {
	for _, id := range s.speakers.IDs() {
		sp, ok := s.speakers.Get(id)
		if !ok {
			continue
		}
		speakerID := id
		sp.Subscribe(func(delta speaker.Delta, forced bool) {
			s.hub.Broadcast(ChannelSpeakerState, map[string]any{
				"speaker_id": speakerID,
				"forced":     forced,
				"delta":      delta,
				"attributes": sp.Attributes(),
			})
		})
	}

	s.topologySub = s.coordinator.SubscribeTopology(func() {
		s.hub.Broadcast(ChannelGroupTopology, s.topologySnapshot())
	})
}

// topologySnapshot resolves the current group membership for every
// registered speaker.
func (s *Server) topologySnapshot() map[string]any {
	groups := make(map[string][]string)
	for _, id := range s.coordinator.MemberIDs() {
		members := s.coordinator.ResolveMembers(id)
		if len(members) == 0 {
			continue
		}
		groups[members[0]] = members
	}
	return map[string]any{"groups": groups}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop background goroutines (hub) and topology broadcasts.
	if s.cancel != nil {
		s.cancel()
	}
	s.coordinator.UnsubscribeTopology(s.topologySub)

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/identity"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/mcdev12/studysync/go/internal/room/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Runner is a background component that lives as long as the service.
type Runner interface {
	Start(ctx context.Context) error
}

// Service is the study room gateway: websocket connections, the room
// registry and the controller between them.
type Service struct {
	connectionManager *ConnectionManager
	registry          *room.Registry
	controller        *Controller
	wsHandler         *WebSocketHandler
	runners           []Runner
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	RegistryConfig   room.Config
	HistoryLimit     int
	JWTSecret        string
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RegistryConfig:   room.DefaultConfig(),
		HistoryLimit:     defaultHistoryLimit,
	}
}

// NewService wires the gateway. writer receives every write; its store
// serves synchronous reads. activity may be nil.
func NewService(config Config, clock clockwork.Clock, writer *store.Writer, activity room.ActivityPublisher) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, clock)
	registry := room.NewRegistry(config.RegistryConfig, clock, cm, writer, activity)
	controller := NewController(registry, writer.Store(), writer, cm, clock, config.HistoryLimit)
	resolver := identity.NewResolver(config.JWTSecret)

	return &Service{
		connectionManager: cm,
		registry:          registry,
		controller:        controller,
		wsHandler:         NewWebSocketHandler(cm, resolver, controller),
	}
}

// AddRunner attaches a background component started with the service.
func (s *Service) AddRunner(r Runner) {
	s.runners = append(s.runners, r)
}

// Start runs the registry and every runner until ctx is done or one fails.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Int("runners", len(s.runners)).Msg("starting study room gateway service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.registry.Run(gctx)
	})
	for _, r := range s.runners {
		r := r
		g.Go(func() error {
			return r.Start(gctx)
		})
	}

	err := g.Wait()
	log.Info().Msg("study room gateway service stopped")
	return err
}

// RegisterRoutes registers the websocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("study room gateway routes registered")
}

// Registry exposes the live room registry for read-only views.
func (s *Service) Registry() *room.Registry {
	return s.registry
}

// Connections exposes the connection manager for fan-out by other components.
func (s *Service) Connections() *ConnectionManager {
	return s.connectionManager
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.Stats()
	stats["service"] = "study_room_gateway"
	stats["status"] = "running"
	return stats
}

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/cuetimer/go/internal/events"
	"github.com/mcdev12/cuetimer/go/internal/rooms"
)

// Service is the timer gateway: WebSocket rooms, heartbeat, sweeper and the
// inspection RPC behind one HTTP handler.
type Service struct {
	registry          *rooms.Registry
	members           *Membership
	broadcaster       *Broadcaster
	hub               *Hub
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	roomService       *RoomService
	allowedOrigins    []string
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig  ConnectionConfig
	RegistryConfig    rooms.Config
	HeartbeatInterval time.Duration
	AllowedOrigins    []string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:  DefaultConnectionConfig(),
		RegistryConfig:    rooms.DefaultConfig(),
		HeartbeatInterval: DefaultHeartbeatInterval,
		AllowedOrigins:    []string{"*"},
	}
}

// NewService wires a gateway. sink receives room events and may be nil.
func NewService(config Config, clock clockwork.Clock, sink events.Sink) *Service {
	registry := rooms.NewRegistry(clock, config.RegistryConfig)
	members := NewMembership()
	broadcaster := NewBroadcaster(registry, members, clock, sink, config.HeartbeatInterval)
	hub := NewHub(registry, members, broadcaster, clock)
	connectionManager := NewConnectionManager(config.ConnectionConfig, hub)

	return &Service{
		registry:          registry,
		members:           members,
		broadcaster:       broadcaster,
		hub:               hub,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, members),
		roomService:       NewRoomService(hub, registry, members),
		allowedOrigins:    config.AllowedOrigins,
	}
}

// Start runs the heartbeat and the room sweeper until ctx is cancelled, then
// closes every connection.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting timer gateway service")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.broadcaster.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.registry.Run(ctx, s.members.InUse, s.hub.Evicted)
	}()

	// Wait for context cancellation
	<-ctx.Done()
	wg.Wait()

	log.Info().Msg("timer gateway service shutting down")
	return s.Stop()
}

// Stop drops every open connection
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	log.Info().Int("rooms", s.registry.Len()).Msg("timer gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and RPC routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)

	path, handler := s.roomService.Handler()
	mux.Handle(path, handler)

	log.Info().Str("rpc_path", path).Msg("timer gateway routes registered")
}

// Handler wraps mux with CORS and HTTP/2 cleartext support
func (s *Service) Handler(mux *http.ServeMux) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Stats returns membership statistics
func (s *Service) Stats() Stats {
	return s.members.Stats()
}

// SnapshotEncodes returns how many snapshots have been serialised since start
func (s *Service) SnapshotEncodes() uint64 {
	return s.broadcaster.Encodes()
}

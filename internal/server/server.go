package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// Server owns the room registry and the connection hub and serves the
// relay's HTTP surface.
type Server struct {
	cfg        Config
	logger     zerolog.Logger
	registry   *room.Registry
	hub        *Hub
	origins    *originPolicy
	postLimits *limiterSet
	upgrader   websocket.Upgrader
	router     *mux.Router
}

// New creates a Server from cfg. The configuration is sanitized first, so a
// zero Config is usable.
func New(cfg Config, logger zerolog.Logger) *Server {
	cfg = cfg.Sanitize()

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		registry:   room.NewRegistry(logger, cfg.RoomOptions()...),
		hub:        NewHub(logger),
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		postLimits: newLimiterSet(cfg.RateLimit),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.router = s.routes()
	return s
}

// Registry returns the server's room registry.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Hub returns the connection hub used for graceful shutdown.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.origins.cors(s.router)
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davidbz/hearth/internal/config"
	"github.com/davidbz/hearth/internal/http/middleware"
	"github.com/davidbz/hearth/internal/observability"
)

// Server represents the HTTP server.
type Server struct {
	config      *config.ServerConfig
	handler     *Handler
	middlewares middleware.Middleware
	srv         *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.ServerConfig,
	handler *Handler,
	middlewares middleware.Middleware,
) *Server {
	return &Server{
		config:      cfg,
		handler:     handler,
		middlewares: middlewares,
		srv:         nil,
	}
}

// Handler returns the fully wired handler: all routes wrapped in the
// middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("POST /llm/chat", s.handler.HandleChat)
	mux.HandleFunc("GET /llm/conversations", s.handler.HandleConversations)
	mux.HandleFunc("GET /llm/conversation/{id}/messages", s.handler.HandleMessages)
	mux.HandleFunc("POST /llm/conversation/{id}/clear", s.handler.HandleClear)
	mux.HandleFunc("DELETE /llm/conversation/{id}", s.handler.HandleArchive)
	mux.HandleFunc("GET /llm/configs", s.handler.HandleConfigs)
	mux.HandleFunc("POST /llm/configs", s.handler.HandleCreateConfig)
	mux.HandleFunc("POST /llm/configs/{id}/test", s.handler.HandleTestConfig)
	mux.HandleFunc("GET /health", s.handler.HandleHealth)

	return s.middlewares(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Create server with timeouts. The write timeout has to cover the
	// slowest LLM completion plus encoding.
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	ctx := context.Background()
	observability.FromContext(ctx).Info("starting HTTP server", observability.Int("port", s.config.Port))

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.FromContext(ctx).Info("shutting down HTTP server")

	if s.srv == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// Package server provides the HTTP API for Shinbun.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/keyword"
	"github.com/archivelab/shinbun/internal/retrieval"
	"github.com/archivelab/shinbun/internal/storage"
	"github.com/archivelab/shinbun/internal/vector"
)

// Server is the HTTP server for the Shinbun API.
type Server struct {
	engine *retrieval.Engine
	index  vector.Index
	store  storage.Store
	titles keyword.Index
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. titles may be nil
// when the keyword index is disabled.
func NewServer(
	engine *retrieval.Engine,
	index vector.Index,
	store storage.Store,
	titles keyword.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine: engine,
		index:  index,
		store:  store,
		titles: titles,
		config: cfg,
		logger: logger,
	}
}

// Validate checks that the loaded index and metadata store agree before the
// server accepts traffic.
func (s *Server) Validate(ctx context.Context) error {
	rows, err := s.store.CountChunks(ctx)
	if err != nil {
		return fmt.Errorf("count metadata rows: %w", err)
	}
	if int64(s.index.Size()) != rows {
		return fmt.Errorf("index has %d vectors but store has %d rows; rebuild the index", s.index.Size(), rows)
	}
	return nil
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ask", s.handleAsk)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/articles", s.handleArticles)
	r.Get("/health", s.handleHealth)
	return r
}

// Start validates the loaded state, then serves until the listener stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Validate(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server",
		zap.String("addr", addr),
		zap.Int("vectors", s.index.Size()),
		zap.String("mode", string(s.index.Mode())))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

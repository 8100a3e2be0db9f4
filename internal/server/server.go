// Package server provides the HTTP API for Chie.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/config"
	"github.com/hyperjump/chie/internal/ingest"
	"github.com/hyperjump/chie/internal/retrieval"
	"github.com/hyperjump/chie/internal/storage"
	"github.com/hyperjump/chie/internal/vectorstore"
)

// Server is the HTTP server for the Chie API.
type Server struct {
	storage storage.Storage
	engine  *retrieval.Engine
	coord   *ingest.Coordinator
	router  *vectorstore.Router
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server

	migrationsMu sync.Mutex
	migrations   map[string]*kbMigration
}

// NewServer creates a server with the given dependencies.
func NewServer(
	store storage.Storage,
	engine *retrieval.Engine,
	coord *ingest.Coordinator,
	router *vectorstore.Router,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		storage:    store,
		engine:     engine,
		coord:      coord,
		router:     router,
		config:     cfg,
		logger:     logger,
		migrations: make(map[string]*kbMigration),
	}
}

// Routes builds the chi router. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/knowledge-bases", s.handleCreateKnowledgeBase)
		r.Get("/knowledge-bases", s.handleListKnowledgeBases)
		r.Get("/knowledge-bases/{id}", s.handleGetKnowledgeBase)
		r.Delete("/knowledge-bases/{id}", s.handleDeleteKnowledgeBase)

		r.Post("/knowledge-bases/{id}/documents", s.handleSubmitDocument)
		r.Get("/knowledge-bases/{id}/documents", s.handleListDocuments)
		r.Post("/knowledge-bases/{id}/retrieve", s.handleRetrieve)
		r.Post("/knowledge-bases/{id}/migrate", s.handleStartMigration)

		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/documents/{id}/reprocess", s.handleReprocessDocument)
		r.Post("/documents/{id}/cancel", s.handleCancelDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Get("/migrations/{id}", s.handleGetMigration)
		r.Post("/migrations/{id}/finalize", s.handleFinalizeMigration)

		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Package server provides the HTTP API for Fusen.
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

	"github.com/hyperjump/fusen/internal/config"
	"github.com/hyperjump/fusen/internal/session"
	"github.com/hyperjump/fusen/internal/storage"
)

// Server is the HTTP server for the Fusen API. It owns one session per open
// document; all mutations for a document go through its session.
type Server struct {
	store  storage.Store
	config *config.Config
	logger *zap.Logger
	server *http.Server

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer creates a server with the given dependencies.
func NewServer(store storage.Store, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		store:    store,
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}
}

// Router builds the chi router. Exposed separately so tests can drive the
// API without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/documents", s.handleOpenDocument)
	r.Route("/api/v1/documents/{docID}", func(r chi.Router) {
		r.Get("/pages/{page}/annotations", s.handleListPage)
		r.Post("/ink", s.handleAddInk)
		r.Delete("/ink/{id}", s.handleDeleteInk)
		r.Post("/highlights", s.handleAddHighlight)
		r.Delete("/highlights/{id}", s.handleDeleteHighlight)
		r.Post("/notes", s.handleAddNote)
		r.Patch("/notes/{id}", s.handleUpdateNote)
		r.Delete("/notes/{id}", s.handleDeleteNote)
		r.Post("/undo", s.handleUndo)
		r.Get("/probes", s.handleProbes)
		r.Get("/status", s.handleStatus)
		r.Get("/bundle", s.handleExportBundle)
		r.Post("/bundle", s.handleImportBundle)
		r.Post("/reanchor", s.handleReanchor)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

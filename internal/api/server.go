// Package api exposes ingestion, search and crawl operations over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dgallion1/ragingest/internal/caption"
	"github.com/dgallion1/ragingest/internal/config"
	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	serviceName = "ragingest"
	version     = "1.0.0"
)

// Server is the HTTP API server.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        store.Store
	embedder     embed.Embedder
	crawler      *crawl.Crawler
	claude       *caption.ClaudeClient
	log          *slog.Logger
	cfg          config.Config
}

// Deps are the collaborators a Server routes requests to. Embedder, Crawler
// and Claude may be nil.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	Embedder     embed.Embedder
	Crawler      *crawl.Crawler
	Claude       *caption.ClaudeClient
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		embedder:     deps.Embedder,
		crawler:      deps.Crawler,
		claude:       deps.Claude,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)
		r.Get("/health/ready", s.handleReady)

		// Authenticated endpoints.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

			r.Post("/upload/file", s.handleUpload)

			r.Post("/documents/process", s.handleProcess)
			r.Get("/documents/task/{taskID}", s.handleTaskStatus)
			r.Delete("/documents/task/{taskID}", s.handleTaskRevoke)
			r.Post("/documents/search", s.handleSearch)
			r.Get("/documents/chunks", s.handleChunks)
			r.Get("/documents/list", s.handleListDocuments)
			r.Delete("/documents/{documentID}", s.handleDeleteDocument)

			r.Post("/confluence/process", s.handleConfluenceProcess)
			r.Post("/confluence/tasks", s.handleConfluenceTask)

			r.Get("/stats/llm", s.handleLLMStats)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": serviceName,
		"version": version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("readiness check failed", "error", err)
		jsonError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

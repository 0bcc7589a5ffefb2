package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/perchlabs/synapse/internal/engine"
	"github.com/perchlabs/synapse/internal/store"
)

// requestTimeout bounds every foreground request; a timed-out write
// cannot partially apply because each row mutation is a single
// statement.
const requestTimeout = 30 * time.Second

// Server is the synapse HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	log     zerolog.Logger
	version string
	started time.Time
}

// New creates a Server with the given store, engine, and version string.
func New(db *store.DB, eng *engine.Engine, log zerolog.Logger, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		log:     log,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/nodes", s.handleCreateNode)
		r.Get("/nodes/search", s.handleSearchNodes)
		r.Get("/nodes/recent", s.handleRecentNodes)
		r.Get("/nodes/{nodeID}", s.handleGetNode)
		r.Put("/nodes/{nodeID}", s.handleUpdateNode)
		r.Delete("/nodes/{nodeID}", s.handleDeleteNode)
		r.Get("/nodes/{nodeID}/connected", s.handleConnectedNodes)

		r.Post("/edges", s.handleUpsertEdge)
		r.Get("/edges/{edgeID}", s.handleGetEdge)
		r.Delete("/edges/{edgeID}", s.handleDeleteEdge)

		r.Post("/coactivate", s.handleCoactivate)
		r.Post("/traverse", s.handleTraverse)
		r.Post("/decay/run", s.handleDecayRun)
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GraphStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation
// errors 400, unknown ids 404, everything else 500 (after the store's
// own retries were exhausted).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case store.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

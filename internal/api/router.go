package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"realtime-dashboard/internal/config"
	"realtime-dashboard/internal/pricing"
	"realtime-dashboard/internal/realtime"
	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/store"
)

// Server holds all dependencies for the HTTP server.
type Server struct {
	config    *config.Config
	session   *session.Controller
	relay     *realtime.Relay
	pricing   *pricing.Book
	snapshots *store.Store
}

// NewServer creates a new server with all dependencies.
func NewServer(cfg *config.Config, ctrl *session.Controller, relay *realtime.Relay, book *pricing.Book, snapshots *store.Store) *Server {
	return &Server{
		config:    cfg,
		session:   ctrl,
		relay:     relay,
		pricing:   book,
		snapshots: snapshots,
	}
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(RecovererMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: srv.config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", srv.handleHealth)

	// Session lifecycle and live state
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/options", srv.handleSessionOptions)
		r.Post("/start", srv.handleStartSession)
		r.Post("/stop", srv.handleStopSession)
		r.Post("/reset", srv.handleResetTotals)
		r.Delete("/events", srv.handleClearEvents)
		r.Get("/state", srv.handleSessionState)
		r.Get("/stream", srv.handleSessionStream)
		r.Get("/audio", srv.handleAudioSocket)
	})

	r.Get("/api/pricing", srv.handleGetPricing)

	// Saved sessions
	r.Route("/api/snapshots", func(r chi.Router) {
		r.Get("/", srv.handleListSnapshots)
		r.Post("/", srv.handleSaveSnapshot)
		r.Get("/{id}", srv.handleGetSnapshot)
		r.Delete("/{id}", srv.handleDeleteSnapshot)
		r.Post("/{id}/load", srv.handleLoadSnapshot)
	})

	if srv.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(srv.config.StaticDir)))
	}

	return r
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/streamrelay/internal/capture"
	"github.com/bryanchriswhite/streamrelay/internal/metrics"
	"github.com/bryanchriswhite/streamrelay/internal/output"
	"github.com/bryanchriswhite/streamrelay/internal/overlay"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Options holds the collaborators of a Server
type Options struct {
	Resolver *source.Resolver
	Captures *capture.Manager
	Overlays overlay.Store
	// Hub receives overlay change events; a new hub is created when nil
	Hub         *overlay.Hub
	Metrics     *metrics.Metrics
	JPEGQuality int
	Style       *overlay.Style
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	resolver *source.Resolver
	captures *capture.Manager
	overlays overlay.Store
	hub      *overlay.Hub
	metrics  *metrics.Metrics
	quality  int
	style    overlay.Style
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. Overlay changes made through the
// server are published on the hub.
func NewServer(opts Options) *Server {
	hub := opts.Hub
	if hub == nil {
		hub = overlay.NewHub()
	}
	style := overlay.DefaultStyle()
	if opts.Style != nil {
		style = *opts.Style
	}
	quality := opts.JPEGQuality
	if quality == 0 {
		quality = output.DefaultQuality
	}

	s := &Server{
		router:   mux.NewRouter(),
		resolver: opts.Resolver,
		captures: opts.Captures,
		overlays: overlay.WithEvents(opts.Overlays, hub),
		hub:      hub,
		metrics:  opts.Metrics,
		quality:  quality,
		style:    style,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is open on every route as well
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	s.router.HandleFunc("/hi", s.handleHi).Methods("GET")

	// Relay
	s.router.HandleFunc("/video_feed", s.handleVideoFeed).Methods("GET")

	// Overlays
	s.router.HandleFunc("/overlays", s.handleListOverlays).Methods("GET")
	s.router.HandleFunc("/overlays", s.handleCreateOverlay).Methods("POST")
	s.router.HandleFunc("/overlays/events", s.handleOverlayEvents).Methods("GET")
	s.router.HandleFunc("/overlays/{id}", s.handleUpdateOverlay).Methods("PUT")
	s.router.HandleFunc("/overlays/{id}", s.handleDeleteOverlay).Methods("DELETE")

	// Operations
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Hub returns the hub overlay changes are published on
func (s *Server) Hub() *overlay.Hub {
	return s.hub
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHi(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello, World!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
		"decoder": s.captures.Backend(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

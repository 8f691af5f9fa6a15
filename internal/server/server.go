// Package server provides the HTTP server for pose capture: session control,
// stored enrollments, live events and the camera preview.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/server/api"
	"github.com/ayusman/posecapture/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	// Controller enables the session, events and stream endpoints.
	Controller *app.Controller
	// Defaults fill in fields omitted from a session start request.
	Defaults app.SessionConfig
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	events *EventHub
	start  time.Time

	httpMu sync.Mutex
	http   *http.Server
}

// New creates a new Server with the given configuration. When a controller is
// configured, the server's EventHub is registered as one of its observers.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Controller != nil {
		ctrl := s.config.Controller

		sessions := api.NewSessionHandler(ctrl, s.config.Defaults)
		s.mux.Handle("/api/session", sessions)
		s.mux.Handle("/api/session/", sessions)

		s.events = NewEventHub(func() any { return ctrl.Status() })
		ctrl.AddObserver(s.events)
		s.mux.Handle("/api/events", s.events)

		s.mux.Handle("/api/stream", NewStreamHandler(ctrl))
	}

	if s.config.Store != nil {
		enrollments := api.NewEnrollmentHandler(s.config.Store)
		s.mux.Handle("/api/enrollments", enrollments)
		s.mux.Handle("/api/enrollments/", enrollments)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// Events returns the WebSocket event hub, nil without a controller.
func (s *Server) Events() *EventHub {
	return s.events
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Session string `json:"session,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Controller != nil {
		resp.Session = s.config.Controller.Status().State
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until it stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	s.http = srv
	s.httpMu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.http
	s.httpMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Package server provides the HTTP server for the kinesis control engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/kinesis/internal/app"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/server/api"
	"github.com/ayusman/kinesis/internal/store"
)

// StateSource reports the live pipeline state.
type StateSource interface {
	Snapshot() app.Snapshot
}

// Config holds the server configuration. Routes are only registered for
// the collaborators that are set.
type Config struct {
	StaticDir string
	Store     *store.Store
	State     StateSource
	Hub       *FeedbackHub
	Frames    *FrameBuffer
	// DefaultLaw is reported by /api/settings until a law is saved.
	DefaultLaw control.Law
	// OnEnabled is called when /api/settings toggles the pipeline.
	OnEnabled func(bool)
	// OnChange is called after roles or the control law are edited.
	OnChange func()
}

// Server is the HTTP front end.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
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

	if s.config.Store != nil {
		roles := api.NewRoleHandler(s.config.Store)
		roles.OnChange(s.config.OnChange)
		s.mux.Handle("/api/roles", roles)
		s.mux.Handle("/api/roles/", roles)

		settings := api.NewSettingsHandler(s.config.Store, s.config.DefaultLaw, s.config.OnEnabled)
		settings.OnChange(s.config.OnChange)
		s.mux.Handle("/api/settings", settings)
	}

	if s.config.State != nil {
		s.mux.HandleFunc("/api/state", s.handleState)
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/feedback", s.config.Hub)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleState handles GET /api/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.config.State.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		// Cancels long-lived streams on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

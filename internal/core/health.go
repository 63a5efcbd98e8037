package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// HealthStatus is the liveness payload
type HealthStatus struct {
	Status        string `json:"status"` // "alive"
	UptimeSeconds int64  `json:"uptime_seconds"`
	Active        bool   `json:"active"`
}

// Health returns the liveness payload
func (s *Service) Health() HealthStatus {
	return HealthStatus{
		Status:        "alive",
		UptimeSeconds: int64(s.Uptime().Seconds()),
		Active:        s.Status().Active,
	}
}

// LivenessHandler handles GET /health
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

// StatusHandler handles GET /status
func (s *Service) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// StartHandler handles POST /capture/start. The request returns once the
// model is loaded or loading failed.
func (s *Service) StartHandler(w http.ResponseWriter, r *http.Request) {
	err := s.StartCapture(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.Status())
	case errors.Is(err, ErrActive), errors.Is(err, ErrStarting):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

// StopHandler handles POST /capture/stop
func (s *Service) StopHandler(w http.ResponseWriter, r *http.Request) {
	err := s.StopCapture()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.Status())
	case errors.Is(err, ErrStarting):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// Handler returns the HTTP routes of the service
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.LivenessHandler)
	mux.HandleFunc("GET /status", s.StatusHandler)
	mux.HandleFunc("POST /capture/start", s.StartHandler)
	mux.HandleFunc("POST /capture/stop", s.StopHandler)
	return mux
}

// HealthServer returns the HTTP server for port. The caller runs
// ListenAndServe and Shutdown.
func (s *Service) HealthServer(port int) *http.Server {
	slog.Info("health server configured",
		"port", port,
		"endpoints", []string{"/health", "/status", "/capture/start", "/capture/stop"},
	)

	return &http.Server{
		Addr:        ":" + strconv.Itoa(port),
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		// Start waits for the model to load.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("core: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

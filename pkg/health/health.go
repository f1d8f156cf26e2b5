// Package health serves the liveness and readiness endpoints on the local
// gateway address.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/camgate/pkg/logger"
)

// CameraStatus is one camera's slice of the readiness report.
type CameraStatus struct {
	Camera string `json:"camera"`
	Bot    string `json:"bot"`
	State  string `json:"state"`
}

// StatusFunc supplies the current per-camera states. Called on every
// readiness request; must be safe for concurrent use.
type StatusFunc func() []CameraStatus

// Server answers /health (process liveness) and /ready (sessions running).
type Server struct {
	addr    string
	status  StatusFunc
	started time.Time
	ready   atomic.Bool
	srv     *http.Server
}

func NewServer(addr string, status StatusFunc) *Server {
	s := &Server{addr: addr, status: status, started: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	s.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// SetReady flips the readiness gate once all sessions are up, and back off
// again when shutdown begins.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Server) Start() {
	go func() {
		logger.InfoCF("health", "Status endpoint listening", map[string]any{"addr": s.addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("health", "Status endpoint failed", map[string]any{"error": err.Error()})
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	var cameras []CameraStatus
	if s.status != nil {
		cameras = s.status()
	}
	code := http.StatusOK
	state := "ready"
	if !s.ready.Load() {
		code = http.StatusServiceUnavailable
		state = "starting"
	}
	writeJSON(w, code, map[string]any{
		"status":  state,
		"cameras": cameras,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

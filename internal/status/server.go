// Package status exposes a tiny HTTP surface with liveness and runtime
// counters.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Source produces a JSON-serializable stats snapshot.
type Source func() any

// Server serves /healthz and /status.
type Server struct {
	addr    string
	started time.Time

	mu      sync.RWMutex
	sources map[string]Source
}

func NewServer(addr string) *Server {
	return &Server{
		addr:    addr,
		started: time.Now(),
		sources: make(map[string]Source),
	}
}

// Register adds a named stats source. Safe to call before or during Run.
func (s *Server) Register(name string, source Source) {
	s.mu.Lock()
	s.sources[name] = source
	s.mu.Unlock()
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: s.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info().Str("addr", s.addr).Msg("status: serving")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshot := make(map[string]any, len(s.sources)+1)
	for name, source := range s.sources {
		snapshot[name] = source()
	}
	s.mu.RUnlock()
	snapshot["uptime_seconds"] = int64(time.Since(s.started).Seconds())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Debug().Err(err).Msg("status: encode failed")
	}
}

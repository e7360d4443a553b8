package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the engine's HTTP surface: health check, Prometheus metrics,
// and the feature-snapshot/event SSE stream, mirroring the teacher's
// api/server.go wiring.
type Server struct {
	httpServer *http.Server
	Broker     *Broker
}

// SnapshotProvider returns a JSON-encodable value per symbol for the
// plain-JSON polling endpoint /snapshots (some dashboard clients can't use
// SSE); cmd/icebergd serves each engine's state there.
type SnapshotProvider func() map[string]any

// NewServer builds the mux and wraps it in an *http.Server bound to addr,
// fanning /stream through the given broker so callers can Publish to the
// same instance the server exposes.
func NewServer(addr string, broker *Broker, snapshots SnapshotProvider) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/stream", broker)
	mux.HandleFunc("/snapshots", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshots())
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		Broker:     broker,
	}
}

// Start runs ListenAndServe in a goroutine and returns its error if it fails
// within the first 100ms (e.g. the address cannot be bound); a later failure
// is not reported.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully stops the HTTP server within the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

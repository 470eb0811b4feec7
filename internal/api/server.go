// Package api exposes the crawl's status and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
)

// StateSource provides the current per-unit progress; *checkpoint.Store
// satisfies it.
type StateSource interface {
	Snapshot() map[string]checkpoint.UnitState
}

// Server serves /healthz, /status and /metrics.
type Server struct {
	httpSrv *http.Server
	logger  *zap.Logger
}

// New builds the server on addr.
func New(addr string, states StateSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", handleHealth)
	r.Get("/status", handleStatus(states, logger))
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("api_listen", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// statusResponse is the /status payload.
type statusResponse struct {
	Units     map[string]checkpoint.UnitState `json:"units"`
	DoneCount int                             `json:"done_count"`
	Total     int                             `json:"total"`
}

func handleStatus(states StateSource, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := states.Snapshot()
		resp := statusResponse{Units: snap, Total: len(snap)}
		for _, st := range snap {
			if st.Done {
				resp.DoneCount++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("status_encode_fail", zap.Error(err))
		}
	}
}

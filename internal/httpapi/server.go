package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shortontech/consentry/internal/metrics"
)

func NewMux(e Env, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc("/observe", e.Observe)
	mux.HandleFunc("/state", e.State)
	mux.HandleFunc("/settings", e.Settings)
	mux.HandleFunc("/clear", e.Clear)
	mux.HandleFunc("/analyze", e.Analyze)
	mux.HandleFunc("/hmac/public-key", e.HMACPublicKey)

	return RequestLogger(MetricsMiddleware(m)(cors(mux)))
}

// Server wraps the listener with the timeouts an ingest endpoint needs.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

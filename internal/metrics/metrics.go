package metrics

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all the Prometheus metrics for consentry
type Metrics struct {
	// Counters
	Observations    *prometheus.CounterVec
	Violations      *prometheus.CounterVec
	OracleRequests  *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	EvictedPages    prometheus.Counter

	// Gauges
	PagesTracked prometheus.Gauge

	// Histograms
	SweepDuration prometheus.Histogram
	HTTPDuration  *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// NewMetrics creates all consentry metrics and registers them with the
// default registry. Call once per process.
func NewMetrics() *Metrics {
	m := newMetrics()
	m.register(prometheus.DefaultRegisterer)
	return m
}

// NewMetricsInto builds metrics registered against the given registerer.
// Used by tests to avoid double registration.
func NewMetricsInto(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	m.register(reg)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		Observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consentry_observations_total",
				Help: "Total observations applied by type",
			},
			[]string{"type"},
		),

		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consentry_violations_total",
				Help: "Total violation records appended by kind",
			},
			[]string{"kind"},
		),

		OracleRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consentry_oracle_requests_total",
				Help: "Advisory oracle consultations by result (hit, miss, error, rate_limited)",
			},
			[]string{"result"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consentry_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consentry_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		EvictedPages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "consentry_evicted_pages_total",
				Help: "Pages hard-deleted by the retention sweep",
			},
		),

		PagesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "consentry_pages_tracked",
				Help: "Current number of tracked page entries",
			},
		),

		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "consentry_sweep_duration_seconds",
				Help:    "Duration of a retention sweep",
				Buckets: prometheus.DefBuckets,
			},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consentry_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.Observations,
		m.Violations,
		m.OracleRequests,
		m.SinkErrors,
		m.HTTPRequests,
		m.EvictedPages,
		m.PagesTracked,
		m.SweepDuration,
		m.HTTPDuration,
	)
}

// Convenience methods; all safe on a nil receiver so wiring stays optional.

func (m *Metrics) IncObservation(obsType string) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(obsType).Inc()
}

func (m *Metrics) IncViolation(kind string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncOracle(result string) {
	if m == nil {
		return
	}
	m.OracleRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSinkError(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncHTTPRequest(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) AddEvictedPages(n int) {
	if m == nil {
		return
	}
	m.EvictedPages.Add(float64(n))
}

func (m *Metrics) SetPagesTracked(n int) {
	if m == nil {
		return
	}
	m.PagesTracked.Set(float64(n))
}

func (m *Metrics) ObserveSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(d.Seconds())
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{server: srv, config: config}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Info().Msg("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			log.Info().Str("addr", s.config.Addr).Msg("metrics: HTTPS server listening")
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			log.Info().Str("addr", s.config.Addr).Msg("metrics: HTTP server listening")
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics: server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

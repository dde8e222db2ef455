package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shortontech/consentry/internal/engine"
	"github.com/shortontech/consentry/internal/httpapi"
	"github.com/shortontech/consentry/internal/metrics"
	"github.com/shortontech/consentry/internal/oracle"
	"github.com/shortontech/consentry/internal/sink"
	"github.com/shortontech/consentry/internal/store"
	"github.com/shortontech/consentry/pkg/config"
)

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// initializeSinks starts the configured sinks; a sink that fails to start is
// skipped, not fatal.
func initializeSinks(ctx context.Context, cfg config.Config) []sink.Sink {
	var sinks []sink.Sink
	for _, output := range cfg.Outputs {
		var s sink.Sink
		switch strings.TrimSpace(strings.ToLower(output)) {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv()
		case "pg":
			if cfg.StoreDSN == "" {
				log.Warn().Msg("pg sink requested without STORE_DSN, skipping")
				continue
			}
			s = sink.NewPGSink(cfg.StoreDSN)
		default:
			log.Warn().Str("output", output).Msg("unknown output, skipping")
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Error().Err(err).Str("sink", s.Name()).Msg("sink failed to start")
			continue
		}
		sinks = append(sinks, s)
	}
	return sinks
}

func openStore(cfg config.Config) store.KV {
	if cfg.StoreDSN == "" {
		log.Info().Msg("no STORE_DSN, state is in-memory only")
		return store.NewMemStore()
	}
	kv, err := store.NewPGStore(cfg.StoreDSN)
	if err != nil {
		log.Error().Err(err).Msg("postgres store unavailable, falling back to memory")
		return store.NewMemStore()
	}
	return kv
}

func main() {
	testMode := flag.Bool("test", false, "replay a scripted observation sequence and exit")
	flag.Parse()

	cfg := config.Load()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := openStore(cfg)
	defer kv.Close()

	metricsCfg := metrics.LoadConfig()
	var m *metrics.Metrics
	var metricsSrv *metrics.Server
	if metricsCfg.Enabled {
		m = metrics.NewMetrics()
		metricsSrv = metrics.NewServer(metricsCfg)
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	sinks := initializeSinks(ctx, cfg)
	emit := func(r engine.Record) {
		for _, s := range sinks {
			if err := s.Enqueue(r); err != nil {
				m.IncSinkError(s.Name(), "enqueue")
				log.Error().Err(err).Str("sink", s.Name()).Msg("sink enqueue failed")
			}
		}
	}

	ledger := engine.New(engine.Config{
		KV:      kv,
		Log:     log.Logger,
		Metrics: m,
		Emit:    emit,
	})
	if err := ledger.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load persisted state")
	}

	var analyzer httpapi.Analyzer
	if cfg.OracleEnabled && cfg.OracleURL != "" {
		orc := oracle.New(
			oracle.Config{
				URL:           cfg.OracleURL,
				APIKey:        cfg.OracleAPIKey,
				Model:         cfg.OracleModel,
				AnalysisDelay: cfg.AnalysisDelay,
			},
			oracle.Options{
				Ledger:  ledger,
				KV:      kv,
				Log:     log.Logger,
				Metrics: m,
			},
		)
		if err := orc.Load(); err != nil {
			log.Error().Err(err).Msg("failed to load oracle state")
		}
		ledger.SetDispatcher(orc)
		analyzer = orc
		log.Info().Str("model", cfg.OracleModel).Msg("oracle enabled")
	}

	if *testMode {
		runTestMode(ledger)
		for _, s := range sinks {
			_ = s.Close()
		}
		return
	}

	var hmacAuth *httpapi.HMACAuth
	if cfg.HMACSecret != "" {
		hmacAuth = httpapi.NewHMACAuth(cfg.HMACSecret, os.Getenv("HMAC_PUBLIC_KEY"), cfg.HMACRequire)
	}

	env := httpapi.Env{
		Cfg:      cfg,
		Ledger:   ledger,
		Analyzer: analyzer,
		HMACAuth: hmacAuth,
	}
	srv := httpapi.NewServer(cfg.ServerAddr, httpapi.NewMux(env, m))

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Retention sweep on a fixed cadence, plus once at startup to prune
	// whatever accumulated while the process was down.
	go func() {
		ledger.Sweep(time.Now().UnixMilli())
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				ledger.Sweep(t.UnixMilli())
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Str("sink", s.Name()).Msg("sink close failed")
		}
	}
}

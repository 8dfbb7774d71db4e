package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"inventory-forecast/internal/api"
	"inventory-forecast/internal/auth"
	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/features"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/metrics"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/retrain"
	"inventory-forecast/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	level := c.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logging.Setup(level); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	audit, err := logging.NewAuditLogger(c.LogFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.LogFile).Msg("failed to open audit log")
	}
	defer audit.Close()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	holder, err := initializeModel(c, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("model setup failed")
	}
	predictor := ml.NewPredictor(holder, mw)

	validator, err := auth.NewValidator(c.SecretKey, c.JWTAlgorithm)
	if err != nil {
		log.Fatal().Err(err).Msg("token validator setup failed")
	}

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	queue := initializeQueue(ctx, c)

	events := api.NewEventHub(256)
	events.Start()
	defer events.Stop()

	deps := api.Deps{
		Holder:    holder,
		Predictor: predictor,
		Validator: validator,
		Audit:     audit,
		Store:     store,
		Metrics:   mw,
		Events:    events,
	}
	// a nil *Queue must not become a non-nil Enqueuer
	if queue != nil {
		deps.Queue = queue
	}

	server, err := api.NewServer(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("api server setup failed")
	}

	var wg sync.WaitGroup
	startMetricsServer(ctx, &wg, c, cancel)
	startAPIServer(ctx, &wg, server.HTTPServer(c.Port), cancel)

	waitForShutdown(ctx, cancel, &wg)
}

// initializeModel builds the artifact store and tries an eager load. A
// missing model is not fatal; /health reports it and requests get 503.
func initializeModel(c cfg.Settings, mw *metrics.MetricsWrapper) (*ml.ModelHolder, error) {
	aliases, err := features.LoadAliasTableOrDefault(c.AliasFile)
	if err != nil {
		return nil, err
	}

	artifacts := ml.NewArtifactStore(c.ModelDir, c.ModelPath, c.EncoderPath, c.MetadataPath, aliases)
	holder := ml.NewModelHolder(artifacts, mw)

	if bundle, err := holder.Get(); err != nil {
		log.Warn().Err(err).Str("model_path", artifacts.ModelPath()).
			Msg("model not available at startup, will retry on first request")
	} else {
		log.Info().Str("version", bundle.Version()).Msg("model ready")
	}
	return holder, nil
}

// initializeStorage opens the audit store if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// initializeQueue connects to Redis if REDIS_ADDR is configured. Without it
// retrain requests are only logged.
func initializeQueue(ctx context.Context, c cfg.Settings) *retrain.Queue {
	if !c.RetrainQueueEnabled() {
		log.Info().Msg("REDIS_ADDR not set, retrain requests will only be logged")
		return nil
	}
	client, err := retrain.Connect(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", c.RedisAddr).Msg("retrain queue unavailable, requests will only be logged")
		return nil
	}
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	log.Info().Str("addr", c.RedisAddr).Str("queue", c.RetrainQueue).Msg("retrain queue connected")
	return retrain.NewQueue(client, c.RetrainQueue)
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, cancel context.CancelFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serve(ctx, wg, "metrics", server, cancel)
}

func startAPIServer(ctx context.Context, wg *sync.WaitGroup, server *http.Server, cancel context.CancelFunc) {
	serve(ctx, wg, "api", server, cancel)
}

// serve runs server until ctx is done. A listen failure cancels ctx so the
// whole process shuts down.
func serve(ctx context.Context, wg *sync.WaitGroup, name string, server *http.Server, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("server", name).Msg("failed to shutdown server")
			}
		}()

		log.Info().Str("server", name).Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("server", name).Msg("server failed")
			cancel()
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all servers stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

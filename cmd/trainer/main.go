package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/database"
	"inventory-forecast/internal/dataset"
	"inventory-forecast/internal/features"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/metrics"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/retrain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
		source      = flag.String("source", "db", "Dataset source: db or csv")
		csvPath     = flag.String("csv", "", "CSV dataset path (default DATASET_CSV)")
		worker      = flag.Bool("worker", false, "Consume retrain jobs from the Redis queue instead of training once")
		poll        = flag.Duration("poll", 5*time.Second, "Queue poll timeout in worker mode")
		notify      = flag.Bool("notify", false, "Ask the service to reload the model after saving")
		metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address in worker mode (empty disables)")
	)
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src, closeSrc, err := datasetSource(ctx, c, *source, *csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset source setup failed")
	}
	defer closeSrc()

	aliases, err := features.LoadAliasTableOrDefault(c.AliasFile)
	if err != nil {
		log.Fatal().Err(err).Msg("alias table load failed")
	}
	trainCfg := ml.DefaultTrainingConfig()
	trainCfg.Aliases = aliases

	pipeline := &retrain.Pipeline{
		Source: src,
		Store:  ml.NewArtifactStore(c.ModelDir, c.ModelPath, c.EncoderPath, c.MetadataPath, aliases),
		Config: trainCfg,
	}
	if *notify {
		if c.ServiceToken == "" {
			log.Warn().Msg("-notify set but SERVICE_TOKEN is empty, skipping reload notification")
		} else {
			pipeline.Notifier = retrain.NewReloadClient(c.ServiceURL, c.ServiceToken, c.RESTTimeout)
		}
	}

	if *worker {
		if err := runWorker(ctx, c, pipeline, *poll, *metricsAddr); err != nil {
			log.Fatal().Err(err).Msg("retrain worker failed")
		}
		return
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(result.Summary()); err != nil {
		log.Fatal().Err(err).Msg("failed to write summary")
	}
}

// datasetSource picks the database table or the CSV file.
func datasetSource(ctx context.Context, c cfg.Settings, kind, csvPath string) (dataset.Source, func(), error) {
	switch kind {
	case "csv":
		if csvPath == "" {
			csvPath = c.DatasetCSV
		}
		return dataset.CSVSource{Path: csvPath}, func() {}, nil
	case "db":
		db, err := database.Open(ctx, c.DB)
		if err != nil {
			return nil, nil, err
		}
		return dataset.SQLSource{DB: db, Table: c.DatasetTable}, closeDB(db), nil
	default:
		return nil, nil, errors.New("unknown dataset source " + kind + " (want db or csv)")
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}

func runWorker(ctx context.Context, c cfg.Settings, pipeline *retrain.Pipeline, poll time.Duration, metricsAddr string) error {
	if !c.RetrainQueueEnabled() {
		return errors.New("worker mode needs REDIS_ADDR")
	}
	client, err := retrain.Connect(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return err
	}
	defer client.Close()

	mw := metrics.NewWrapper(metrics.New())
	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	queue := retrain.NewQueue(client, c.RetrainQueue)
	log.Info().Str("queue", queue.Key()).Msg("waiting for retrain jobs")
	return retrain.NewWorker(queue, pipeline, mw, poll).Run(ctx)
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
}

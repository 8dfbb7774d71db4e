package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"inventory-forecast/internal/alerting"
	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/database"
	"inventory-forecast/internal/dataset"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/metrics"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type options struct {
	baseline    string
	current     string
	currentCSV  string
	window      time.Duration
	interval    time.Duration
	metricsAddr string
	jsonOut     bool
}

func main() {
	var opts options
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	flag.StringVar(&opts.baseline, "baseline", "", "Baseline CSV from the previous export (default DATASET_CSV)")
	flag.StringVar(&opts.current, "current", "db", "Current data: db, csv or store")
	flag.StringVar(&opts.currentCSV, "current-csv", "", "Current CSV when -current=csv")
	flag.DurationVar(&opts.window, "window", 24*time.Hour, "Served-vector window when -current=store")
	flag.DurationVar(&opts.interval, "interval", 0, "Repeat the check on this interval (0 runs once)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics on this address (empty disables)")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the full drift report as JSON")
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
	if opts.baseline == "" {
		opts.baseline = c.DatasetCSV
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := os.Stat(opts.baseline); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", opts.baseline).Msg("baseline dataset not found, nothing to compare")
		fmt.Println("No hay dataset anterior para comparar.")
		return
	}

	mw := metrics.NewWrapper(metrics.New())
	if opts.metricsAddr != "" {
		startMetricsServer(ctx, opts.metricsAddr)
	}

	publisher := initializePublisher(ctx, c)

	detectorCfg := ml.DefaultDriftDetectionConfig()
	detectorCfg.PValueThreshold = c.DriftPValue
	detectorCfg.AlertRatio = c.DriftRatio
	mon := &monitor{
		settings:  c,
		opts:      opts,
		detector:  ml.NewDriftDetector(detectorCfg),
		publisher: publisher,
		metrics:   mw,
	}

	if opts.interval <= 0 {
		if err := mon.check(ctx); err != nil {
			log.Fatal().Err(err).Msg("drift check failed")
		}
		return
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		if err := mon.check(ctx); err != nil {
			log.Error().Err(err).Msg("drift check failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("drift monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

func initializePublisher(ctx context.Context, c cfg.Settings) alerting.Publisher {
	if !c.SNSEnabled() {
		return alerting.LogPublisher{}
	}
	p, err := alerting.NewSNSPublisher(ctx, c.SNSRegion, c.SNSTopicARN)
	if err != nil {
		log.Warn().Err(err).Msg("SNS publisher unavailable, drift alerts will only be logged")
		return alerting.LogPublisher{}
	}
	return p
}

type monitor struct {
	settings  cfg.Settings
	opts      options
	detector  *ml.DriftDetector
	publisher alerting.Publisher
	metrics   *metrics.MetricsWrapper
}

func (m *monitor) check(ctx context.Context) error {
	baseline, err := dataset.LoadCSV(m.opts.baseline)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}

	columns, current, err := m.currentSamples(ctx)
	if err != nil {
		return err
	}

	baseSamples := make(map[string][]float64)
	for _, col := range baseline.NumericColumns() {
		baseSamples[col] = baseline.Float(col)
	}

	report := m.detector.Compare(columns, baseSamples, current)

	ks := make(map[string]float64, len(report.Features))
	for _, f := range report.Features {
		ks[f.Feature] = f.KSStatistic
		log.Debug().
			Str("feature", f.Feature).
			Float64("ks", f.KSStatistic).
			Float64("p_value", f.PValue).
			Float64("psi", f.PSIScore).
			Bool("drifted", f.Drifted).
			Msg("feature compared")
	}
	m.metrics.DriftObserve(report.Ratio, ks)

	fmt.Printf("Variables con drift: %d/%d (%.1f%%)\n", report.Drifted, report.Total, report.Ratio*100)
	if m.opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if len(report.Skipped) > 0 {
		log.Info().Strs("columns", report.Skipped).Msg("columns skipped for lack of samples")
	}

	if alert := m.detector.Alert(report); alert != nil {
		if err := m.publisher.Publish(ctx, alert); err != nil {
			return fmt.Errorf("publish alert: %w", err)
		}
	}
	return nil
}

// currentSamples returns the ordered numeric columns of the current data and
// their values.
func (m *monitor) currentSamples(ctx context.Context) ([]string, map[string][]float64, error) {
	switch m.opts.current {
	case "store":
		return m.storeSamples()
	case "csv":
		path := m.opts.currentCSV
		if path == "" {
			return nil, nil, errors.New("-current=csv needs -current-csv")
		}
		ds, err := dataset.LoadCSV(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load current: %w", err)
		}
		columns, samples := datasetSamples(ds)
		return columns, samples, nil
	case "db":
		db, err := database.Open(ctx, m.settings.DB)
		if err != nil {
			return nil, nil, err
		}
		defer db.Close()
		ds, err := dataset.LoadTable(ctx, db, m.settings.DatasetTable)
		if err != nil {
			return nil, nil, fmt.Errorf("load current: %w", err)
		}
		columns, samples := datasetSamples(ds)
		return columns, samples, nil
	default:
		return nil, nil, fmt.Errorf("unknown current source %q (want db, csv or store)", m.opts.current)
	}
}

func datasetSamples(ds *dataset.Dataset) ([]string, map[string][]float64) {
	columns := ds.NumericColumns()
	samples := make(map[string][]float64, len(columns))
	for _, col := range columns {
		samples[col] = ds.Float(col)
	}
	return columns, samples
}

// storeSamples reads the vectors served in the last window from a read-only
// copy of the audit store.
func (m *monitor) storeSamples() ([]string, map[string][]float64, error) {
	if m.settings.DataPath == "" {
		return nil, nil, errors.New("-current=store needs DATA_PATH")
	}
	store, err := storage.OpenReadOnly(m.settings.DataPath)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	end := time.Now()
	samples, n, err := store.FeatureSamples(end.Add(-m.opts.window), end)
	if err != nil {
		return nil, nil, fmt.Errorf("read served vectors: %w", err)
	}
	log.Info().Int("predictions", n).Dur("window", m.opts.window).Msg("served vectors loaded")

	columns := make([]string, 0, len(samples))
	for col := range samples {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns, samples, nil
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

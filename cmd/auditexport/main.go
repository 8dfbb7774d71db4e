package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"inventory-forecast/internal/common"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/storage"

	"github.com/rs/zerolog/log"
)

func main() {
	var (
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		dataPath = flag.String("data", os.Getenv(common.EnvDataPath), "Audit store directory (default DATA_PATH)")
		output   = flag.String("output", "predictions.ndjson", "Output NDJSON path")
		days     = flag.Int("days", 30, "Number of days to export (0 for all)")
		version  = flag.String("model-version", "", "Only export predictions of this model version")
		events   = flag.Bool("events", false, "Export model events instead of predictions")
	)
	flag.Parse()

	if err := logging.Setup(*logLevel); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	if *dataPath == "" {
		log.Fatal().Msg("no audit store configured, pass -data or set DATA_PATH")
	}

	store, err := storage.OpenReadOnly(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit store")
	}
	defer store.Close()

	end := time.Now()
	start := time.Unix(0, 0)
	if *days > 0 {
		start = end.AddDate(0, 0, -*days)
	}

	file, err := os.Create(*output)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create output file")
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	encoder := json.NewEncoder(w)

	var n int
	if *events {
		n, err = exportEvents(store, encoder, start, end)
	} else {
		n, err = exportPredictions(store, encoder, start, end, *version)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("export failed")
	}
	if err := w.Flush(); err != nil {
		log.Fatal().Err(err).Msg("failed to write output")
	}

	log.Info().Int("records", n).Str("output", *output).Msg("audit export finished")
	if n == 0 {
		log.Warn().Msg("no records found matching criteria")
	}
}

func exportPredictions(store *storage.Store, encoder *json.Encoder, start, end time.Time, version string) (int, error) {
	n := 0
	byLabel := make(map[string]int)
	err := store.ForEachPrediction(start, end, func(rec storage.PredictionRecord) error {
		if version != "" && rec.ModelVersion != version {
			return nil
		}
		if err := encoder.Encode(rec); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
		n++
		byLabel[rec.Prediction]++
		return nil
	})
	if err != nil {
		return n, err
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		log.Info().Str("prediction", l).Int("count", byLabel[l]).Msg("records by prediction")
	}
	return n, nil
}

func exportEvents(store *storage.Store, encoder *json.Encoder, start, end time.Time) (int, error) {
	evs, err := store.GetEventsInRange(start, end)
	if err != nil {
		return 0, err
	}
	for _, ev := range evs {
		if err := encoder.Encode(ev); err != nil {
			return 0, fmt.Errorf("write event %s: %w", ev.ID, err)
		}
	}
	return len(evs), nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/common"
	"inventory-forecast/internal/database"
	"inventory-forecast/internal/dataset"
	"inventory-forecast/internal/features"
	"inventory-forecast/internal/logging"

	"github.com/rs/zerolog/log"
)

// requiredColumns must be present in every exported row.
var requiredColumns = []string{
	features.Consumo7d,
	features.Consumo30d,
	features.Promedio12m,
	features.StockActual,
	common.StockMinimoColumn,
}

func main() {
	var (
		logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
		table    = flag.String("table", "", "Source table (default DATASET_TABLE)")
		output   = flag.String("output", "", "Output CSV path (default DATASET_CSV)")
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
	if *table == "" {
		*table = c.DatasetTable
	}
	if *output == "" {
		*output = c.DatasetCSV
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(ctx, c.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	ds, err := dataset.LoadTable(ctx, db, *table)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset query failed")
	}

	printLabelDistribution(ds)

	clean, err := dropIncomplete(ds)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset cleanup failed")
	}

	if err := dataset.SaveCSV(*output, clean); err != nil {
		log.Fatal().Err(err).Msg("CSV export failed")
	}

	log.Info().
		Str("output", *output).
		Int("rows", clean.Len()).
		Int("dropped", ds.Len()-clean.Len()).
		Msg("dataset exported")
	fmt.Printf("Dataset exportado: %s (%d filas)\n", *output, clean.Len())
}

func printLabelDistribution(ds *dataset.Dataset) {
	target, ok := ds.FirstColumn(common.TargetColumn, common.FallbackTargetColumn)
	if !ok {
		log.Warn().Msg("dataset has no label column")
		return
	}
	fmt.Printf("Distribución de %s:\n", target)
	for _, lc := range ds.LabelCounts(target) {
		fmt.Printf("  %-12s %d\n", lc.Label, lc.Count)
	}
}

// dropIncomplete removes rows missing any required column. Required columns
// absent from the table are reported and not used as a filter.
func dropIncomplete(ds *dataset.Dataset) (*dataset.Dataset, error) {
	present := make([]string, 0, len(requiredColumns))
	for _, col := range requiredColumns {
		if ds.HasColumn(col) {
			present = append(present, col)
		} else {
			log.Warn().Str("column", col).Msg("required column missing from table")
		}
	}
	return ds.DropMissing(present...)
}

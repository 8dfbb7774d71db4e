package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"inventory-forecast/internal/cfg"
	"inventory-forecast/internal/database"
	"inventory-forecast/internal/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	var (
		logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
		dir      = flag.String("dir", "", "Directory holding the SQL script (default: the executable's directory)")
		script   = flag.String("script", database.DefaultScript, "SQL script to run")
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

	baseDir := *dir
	if baseDir == "" {
		exe, err := os.Executable()
		if err != nil {
			log.Fatal().Err(err).Msg("cannot locate executable, pass -dir")
		}
		baseDir = filepath.Dir(exe)
	}

	path, err := database.ResolveScriptPath(baseDir, *script)
	if err != nil {
		log.Fatal().Err(err).Msg("SQL script not found")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(ctx, c.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	start := time.Now()
	if err := database.RunScript(ctx, db, path); err != nil {
		log.Fatal().Err(err).Str("script", path).Msg("ETL failed")
	}
	log.Info().Str("script", path).Dur("elapsed", time.Since(start)).Msg("ETL finished")
}

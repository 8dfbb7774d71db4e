package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultScript is the feature ETL script run by cmd/etl.
const DefaultScript = "features_diarias.sql"

// Execer is the part of *sql.DB the ETL runner needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ResolveScriptPath joins name onto baseDir unless name is absolute, and
// checks that the file exists.
func ResolveScriptPath(baseDir, name string) (string, error) {
	if name == "" {
		name = DefaultScript
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("ETL script %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("ETL script %s is a directory", path)
	}
	return path, nil
}

// RunScript executes the whole file in a single Exec. The MySQL DSN built by
// Config enables multiStatements for this.
func RunScript(ctx context.Context, db Execer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ETL script: %w", err)
	}
	script := strings.TrimSpace(string(data))
	if script == "" {
		return fmt.Errorf("ETL script %s is empty", path)
	}

	start := time.Now()
	res, err := db.ExecContext(ctx, script)
	if err != nil {
		return fmt.Errorf("execute %s: %w", filepath.Base(path), err)
	}

	ev := log.Info().Str("script", path).Dur("elapsed", time.Since(start))
	if n, err := res.RowsAffected(); err == nil {
		ev = ev.Int64("rows_affected", n)
	}
	ev.Msg("ETL script executed")
	return nil
}

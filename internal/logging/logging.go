// Package logging configures the global zerolog logger and provides the
// append-only audit log of served recommendations and model operations.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup parses level and points the global logger at a console writer on
// stderr. An empty level means info.
func Setup(level string) error {
	if level == "" {
		level = zerolog.LevelInfoValue
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

// Audit event kinds
const (
	EventRecommendation = "recommendation"
	EventRetrain        = "retrain_request"
	EventReload         = "model_reload"
)

// RecommendationEntry is one served recommendation.
type RecommendationEntry struct {
	RequestID    string
	User         string
	ModelVersion string
	Prediction   string
	Confidence   float64
	Defaulted    []string
	Unmapped     []string
}

// AuditLogger appends one JSON object per event. It is safe for concurrent use.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger opens (or creates) path in append mode.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	al := NewAuditLoggerWriter(f)
	al.closer = f
	return al, nil
}

// NewAuditLoggerWriter writes audit lines to w. Close does not close w.
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Str("log", "audit").Logger(),
	}
}

// Recommendation records a served recommendation.
func (a *AuditLogger) Recommendation(e RecommendationEntry) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info().
		Str("event", EventRecommendation).
		Str("request_id", e.RequestID).
		Str("user", e.User).
		Str("model_version", e.ModelVersion).
		Str("prediction", e.Prediction).
		Float64("confidence", e.Confidence).
		Strs("defaulted", e.Defaulted).
		Strs("unmapped", e.Unmapped).
		Msg("Recomendacion generada")
}

// RetrainRequested records a retrain request and whether it reached the queue.
func (a *AuditLogger) RetrainRequested(user, jobID string, queued bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info().
		Str("event", EventRetrain).
		Str("user", user).
		Str("job_id", jobID).
		Bool("queued", queued).
		Msg("Solicitud de reentrenamiento")
}

// ModelReloaded records a reload attempt. A nil err means success.
func (a *AuditLogger) ModelReloaded(user, version string, err error) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := a.logger.Info()
	if err != nil {
		ev = a.logger.Error().Err(err)
	}
	ev.Str("event", EventReload).
		Str("user", user).
		Str("model_version", version).
		Bool("success", err == nil).
		Msg("Recarga de modelo")
}

// Close closes the underlying file, if the logger owns one.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.closer.Close()
	a.closer = nil
	return err
}

package ml

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// BundleLoader produces a fresh, validated bundle.
type BundleLoader interface {
	Load() (*ModelBundle, error)
}

// HealthStatus is the holder's view of serving readiness.
type HealthStatus struct {
	Healthy       bool      `json:"healthy"`
	ModelLoaded   bool      `json:"model_loaded"`
	ModelVersion  string    `json:"model_version,omitempty"`
	LoadedAt      time.Time `json:"loaded_at"`
	Reloads       int64     `json:"reloads"`
	LastError     string    `json:"last_error,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// ModelHolder owns the active bundle. Readers get a consistent bundle through
// an atomic pointer; reloads build a new bundle first and swap it in whole.
type ModelHolder struct {
	current atomic.Pointer[ModelBundle]
	loader  BundleLoader
	metrics MetricsInterface

	loadMu    sync.Mutex
	reloads   atomic.Int64
	lastError atomic.Value // string
	started   time.Time
}

func NewModelHolder(loader BundleLoader, metrics MetricsInterface) *ModelHolder {
	h := &ModelHolder{loader: loader, metrics: metrics, started: time.Now()}
	h.lastError.Store("")
	return h
}

// Current returns the active bundle or nil.
func (h *ModelHolder) Current() *ModelBundle {
	return h.current.Load()
}

// Get returns the active bundle, loading it on first use.
func (h *ModelHolder) Get() (*ModelBundle, error) {
	if b := h.current.Load(); b != nil {
		return b, nil
	}

	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if b := h.current.Load(); b != nil {
		return b, nil
	}
	b, err := h.load()
	if err != nil {
		return nil, err
	}
	h.current.Store(b)
	return b, nil
}

// Reload loads a new bundle and swaps it in. On failure the previous bundle
// keeps serving.
func (h *ModelHolder) Reload() (*ModelBundle, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	b, err := h.load()
	if h.metrics != nil {
		h.metrics.MLModelReloadsInc(err == nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("model reload failed, keeping previous model")
		return nil, err
	}

	prev := h.current.Swap(b)
	h.reloads.Add(1)

	ev := log.Info().Str("version", b.Version())
	if prev != nil {
		ev = ev.Str("previous_version", prev.Version())
	}
	ev.Msg("model reloaded")

	return b, nil
}

// Swap installs b directly. Used by in-process training and tests.
func (h *ModelHolder) Swap(b *ModelBundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	h.current.Store(b)
	return nil
}

func (h *ModelHolder) load() (*ModelBundle, error) {
	if h.loader == nil {
		err := fmt.Errorf("%w: no loader configured", ErrModelNotLoaded)
		h.lastError.Store(err.Error())
		return nil, err
	}
	b, err := h.loader.Load()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
		h.lastError.Store(err.Error())
		return nil, err
	}
	h.lastError.Store("")
	return b, nil
}

// Health reports whether a bundle is active.
func (h *ModelHolder) Health() HealthStatus {
	b := h.current.Load()
	status := HealthStatus{
		Healthy:       b != nil,
		ModelLoaded:   b != nil,
		Reloads:       h.reloads.Load(),
		LastError:     h.lastError.Load().(string),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	if b != nil {
		status.ModelVersion = b.Version()
		status.LoadedAt = b.LoadedAt
	}
	return status
}

// LoaderFunc adapts a function to BundleLoader.
type LoaderFunc func() (*ModelBundle, error)

func (f LoaderFunc) Load() (*ModelBundle, error) { return f() }

// Package api serves recommendations over HTTP behind bearer-token auth.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"inventory-forecast/internal/auth"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/retrain"
	"inventory-forecast/internal/storage"
)

const maxBodyBytes = 1 << 20

// HTTPMetrics is what the server reports besides the predictor's own metrics.
type HTTPMetrics interface {
	HTTPRequestInc(route string, code int)
	RetrainRequestInc(outcome string)
}

// Deps are the collaborators of Server. Queue, Audit, Store, Metrics and
// Events may be nil.
type Deps struct {
	Holder    *ml.ModelHolder
	Predictor *ml.Predictor
	Validator *auth.Validator
	Queue     retrain.Enqueuer
	Audit     *logging.AuditLogger
	Store     *storage.Store
	Metrics   HTTPMetrics
	Events    *EventHub
}

type Server struct {
	deps           Deps
	recommendation *bodyValidator
	retrain        *bodyValidator
	router         *mux.Router
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Holder == nil || deps.Predictor == nil || deps.Validator == nil {
		return nil, fmt.Errorf("api server needs a model holder, a predictor and a token validator")
	}
	recSchema, err := newBodyValidator(recommendationSchema)
	if err != nil {
		return nil, err
	}
	retrainSchemaV, err := newBodyValidator(retrainSchema)
	if err != nil {
		return nil, err
	}

	s := &Server{deps: deps, recommendation: recSchema, retrain: retrainSchemaV}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.deps.Validator.Middleware)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations", s.handleRecommendation).Methods(http.MethodPost)
	v1.HandleFunc("/retrain", s.handleRetrain).Methods(http.MethodPost)
	v1.HandleFunc("/model/reload", s.handleReload).Methods(http.MethodPost)
	v1.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	if s.deps.Events != nil {
		v1.HandleFunc("/events", s.deps.Events.ServeWS).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer wraps the handler with the service timeouts.
func (s *Server) HTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// instrument counts requests by route template and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.HTTPRequestInc(route, sw.status)
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeDetail writes an error body of the form {"detail": ...}.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

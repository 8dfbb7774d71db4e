// Package metrics provides Prometheus metrics for the forecast service.
// It covers recommendation serving, model lifecycle, retraining, drift
// monitoring and HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	MLPredictions       prometheus.Counter     // Total number of recommendations served
	MLPredictionsBy     *prometheus.CounterVec // Recommendations by predicted label
	MLFailures          prometheus.Counter     // Recommendations that failed
	MLLatency           prometheus.Histogram   // End-to-end recommendation latency
	MLPredictionScores  prometheus.Histogram   // Distribution of confidence values
	MLDefaultedFeatures prometheus.Counter     // Features filled with the zero default
	MLUnmappedInputs    prometheus.Counter     // Raw input keys no feature consumed

	// Model lifecycle
	MLModelAge      prometheus.Gauge       // Seconds since the active model was trained
	MLModelReloads  *prometheus.CounterVec // Reload attempts by result
	RetrainRequests *prometheus.CounterVec // Retrain requests by outcome
	RetrainDuration prometheus.Histogram   // Duration of retraining runs

	// Drift
	DriftRatio    prometheus.Gauge     // Share of columns that drifted in the last check
	DriftFeatures *prometheus.GaugeVec // Per-column KS statistic of the last check

	// HTTP
	HTTPRequests *prometheus.CounterVec // Requests by route and status code

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_predictions_total",
			Help: "Total number of recommendations served",
		}),
		MLPredictionsBy: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_predictions_by_label_total",
			Help: "Recommendations served, by predicted label",
		}, []string{"label"}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_prediction_failures_total",
			Help: "Total number of failed recommendations",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_prediction_latency_seconds",
			Help:    "Recommendation latency in seconds (end-to-end)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_prediction_confidence",
			Help:    "Distribution of recommendation confidence",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		MLDefaultedFeatures: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_defaulted_features_total",
			Help: "Features that could not be resolved and were set to zero",
		}),
		MLUnmappedInputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_unmapped_inputs_total",
			Help: "Input keys that did not map to any feature",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecast_model_age_seconds",
			Help: "Age of the active model in seconds",
		}),
		MLModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_model_reloads_total",
			Help: "Model reload attempts, by result",
		}, []string{"result"}),
		RetrainRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_retrain_requests_total",
			Help: "Retrain requests, by outcome",
		}, []string{"outcome"}),
		RetrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_retrain_duration_seconds",
			Help:    "Duration of retraining runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		DriftRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecast_drift_ratio",
			Help: "Share of monitored columns with significant drift",
		}),
		DriftFeatures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecast_drift_ks_statistic",
			Help: "Kolmogorov-Smirnov statistic per column from the last drift check",
		}, []string{"feature"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_http_requests_total",
			Help: "HTTP requests, by route and status code",
		}, []string{"route", "code"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// GetErrorRate returns failures over served recommendations, or 0 before any traffic.
func (m *Metrics) GetErrorRate(gatherer prometheus.Gatherer) float64 {
	var total, failures float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "forecast_predictions_total":
			for _, m := range mf.Metric {
				total = m.GetCounter().GetValue()
			}
		case "forecast_prediction_failures_total":
			for _, m := range mf.Metric {
				failures = m.GetCounter().GetValue()
			}
		}
	}

	if total+failures == 0 {
		return 0
	}
	return failures / (total + failures)
}

package metrics

import "strconv"

// MetricsWrapper adapts Metrics to the narrow interfaces the ml, retrain and
// api packages depend on, so those packages never import prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc(label string) {
	w.m.MLPredictions.Inc()
	w.m.MLPredictionsBy.WithLabelValues(label).Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

func (w *MetricsWrapper) MLDefaultedFeaturesAdd(n int) {
	if n > 0 {
		w.m.MLDefaultedFeatures.Add(float64(n))
	}
}

func (w *MetricsWrapper) MLUnmappedInputsAdd(n int) {
	if n > 0 {
		w.m.MLUnmappedInputs.Add(float64(n))
	}
}

func (w *MetricsWrapper) MLModelReloadsInc(success bool) {
	result := "success"
	if !success {
		result = "failure"
		w.m.ErrorsTotal.Inc()
	}
	w.m.MLModelReloads.WithLabelValues(result).Inc()
}

// RetrainRequestInc counts a retrain request; outcome is queued, logged or failed.
func (w *MetricsWrapper) RetrainRequestInc(outcome string) {
	w.m.RetrainRequests.WithLabelValues(outcome).Inc()
}

func (w *MetricsWrapper) RetrainDurationObserve(seconds float64) {
	w.m.RetrainDuration.Observe(seconds)
}

// DriftObserve records the overall ratio and each column's KS statistic.
func (w *MetricsWrapper) DriftObserve(ratio float64, ks map[string]float64) {
	w.m.DriftRatio.Set(ratio)
	for name, d := range ks {
		w.m.DriftFeatures.WithLabelValues(name).Set(d)
	}
}

func (w *MetricsWrapper) HTTPRequestInc(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	predictions      int
	labels           map[string]int
	failures         int
	latencySum       float64
	modelAge         float64
	predictionScores []float64
	defaulted        int
	unmapped         int
	reloadsOK        int
	reloadsFailed    int
}

func (m *MockMetrics) MLPredictionsInc(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
	if m.labels == nil {
		m.labels = map[string]int{}
	}
	m.labels[label]++
}

func (m *MockMetrics) MLFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) MLModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) MLPredictionScoresObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictionScores = append(m.predictionScores, v)
}

func (m *MockMetrics) MLDefaultedFeaturesAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaulted += n
}

func (m *MockMetrics) MLUnmappedInputsAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapped += n
}

func (m *MockMetrics) MLModelReloadsInc(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.reloadsOK++
	} else {
		m.reloadsFailed++
	}
}

// Counts returns predictions, failures and successful reloads.
func (m *MockMetrics) Counts() (predictions, failures, reloads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions, m.failures, m.reloadsOK
}

package storage

import (
	"time"
)

// FeatureSamples collects the reconciled feature values served in a time
// range, one slice per feature. Drift monitoring compares these against the
// training baseline.
func (s *Store) FeatureSamples(start, end time.Time) (map[string][]float64, int, error) {
	samples := make(map[string][]float64)
	n := 0
	err := s.ForEachPrediction(start, end, func(rec PredictionRecord) error {
		n++
		for name, v := range rec.Features {
			samples[name] = append(samples[name], v)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return samples, n, nil
}

// LabelCounts tallies served predictions by label in a time range.
func (s *Store) LabelCounts(start, end time.Time) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.ForEachPrediction(start, end, func(rec PredictionRecord) error {
		counts[rec.Prediction]++
		return nil
	})
	return counts, err
}

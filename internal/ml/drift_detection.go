package ml

import (
	"fmt"
	"math"
	"sort"
	"time"

	"inventory-forecast/internal/common"

	"gonum.org/v1/gonum/stat"
)

// DriftDetectionConfig configures drift detection
type DriftDetectionConfig struct {
	PValueThreshold float64 `yaml:"pvalue_threshold"`
	AlertRatio      float64 `yaml:"alert_ratio"`
	MinSamples      int     `yaml:"min_samples"`
	PSIBins         int     `yaml:"psi_bins"`
}

func DefaultDriftDetectionConfig() DriftDetectionConfig {
	return DriftDetectionConfig{
		PValueThreshold: common.DefaultDriftPValue,
		AlertRatio:      common.DefaultDriftRatio,
		MinSamples:      2,
		PSIBins:         10,
	}
}

// FeatureDrift is the comparison of one column between baseline and current data.
type FeatureDrift struct {
	Feature      string  `json:"feature"`
	KSStatistic  float64 `json:"ks_statistic"`
	PValue       float64 `json:"p_value"`
	PSIScore     float64 `json:"psi_score"`
	BaselineMean float64 `json:"baseline_mean"`
	CurrentMean  float64 `json:"current_mean"`
	BaselineN    int     `json:"baseline_n"`
	CurrentN     int     `json:"current_n"`
	Drifted      bool    `json:"drifted"`
}

// DriftReport is the result of a full comparison.
type DriftReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Features  []FeatureDrift `json:"features"`
	Skipped   []string       `json:"skipped,omitempty"`
	Drifted   int            `json:"drifted"`
	Total     int            `json:"total"`
	Ratio     float64        `json:"ratio"`
}

// DriftAlert represents a drift detection alert
type DriftAlert struct {
	Timestamp      time.Time `json:"timestamp"`
	Features       []string  `json:"features"`
	Ratio          float64   `json:"ratio"`
	Threshold      float64   `json:"threshold"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
}

// DriftDetector compares column distributions with a two-sample KS test.
type DriftDetector struct {
	config DriftDetectionConfig
}

func NewDriftDetector(config DriftDetectionConfig) *DriftDetector {
	def := DefaultDriftDetectionConfig()
	if config.PValueThreshold <= 0 {
		config.PValueThreshold = def.PValueThreshold
	}
	if config.AlertRatio <= 0 {
		config.AlertRatio = def.AlertRatio
	}
	if config.MinSamples < 2 {
		config.MinSamples = def.MinSamples
	}
	if config.PSIBins <= 0 {
		config.PSIBins = def.PSIBins
	}
	return &DriftDetector{config: config}
}

func (dd *DriftDetector) Config() DriftDetectionConfig { return dd.config }

// Compare tests every column of current that also has baseline samples.
// Columns are visited in the order given.
func (dd *DriftDetector) Compare(columns []string, baseline, current map[string][]float64) DriftReport {
	report := DriftReport{Timestamp: time.Now()}

	for _, col := range columns {
		b, okB := baseline[col]
		c, okC := current[col]
		if !okB || !okC {
			continue
		}
		b, c = finite(b), finite(c)
		if len(b) < dd.config.MinSamples || len(c) < dd.config.MinSamples {
			report.Skipped = append(report.Skipped, col)
			continue
		}

		d, p := KolmogorovSmirnov(b, c)
		fd := FeatureDrift{
			Feature:      col,
			KSStatistic:  d,
			PValue:       p,
			PSIScore:     PopulationStabilityIndex(b, c, dd.config.PSIBins),
			BaselineMean: stat.Mean(b, nil),
			CurrentMean:  stat.Mean(c, nil),
			BaselineN:    len(b),
			CurrentN:     len(c),
			Drifted:      p < dd.config.PValueThreshold,
		}
		if fd.Drifted {
			report.Drifted++
		}
		report.Features = append(report.Features, fd)
	}

	report.Total = len(report.Features)
	if report.Total > 0 {
		report.Ratio = float64(report.Drifted) / float64(report.Total)
	}
	return report
}

// Alert returns an alert when the drifted ratio exceeds the configured ratio.
func (dd *DriftDetector) Alert(report DriftReport) *DriftAlert {
	threshold := dd.config.AlertRatio
	if report.Total == 0 || report.Ratio <= threshold {
		return nil
	}

	severity := "medium"
	if report.Ratio > threshold*2 {
		severity = "high"
	}
	if report.Ratio > threshold*3 {
		severity = "critical"
	}

	var drifted []string
	for _, f := range report.Features {
		if f.Drifted {
			drifted = append(drifted, f.Feature)
		}
	}

	return &DriftAlert{
		Timestamp:      report.Timestamp,
		Features:       drifted,
		Ratio:          report.Ratio,
		Threshold:      threshold,
		Severity:       severity,
		Description:    fmt.Sprintf("Variables con drift: %d/%d (%.1f%%)", report.Drifted, report.Total, report.Ratio*100),
		Recommendation: recommendation(severity),
	}
}

func recommendation(severity string) string {
	switch severity {
	case "critical":
		return "CRITICAL: most inputs shifted. Retrain the model before trusting new recommendations."
	case "high":
		return "HIGH: significant input drift. Schedule retraining within 24-48 hours."
	default:
		return "MEDIUM: moderate input drift. Monitor closely and retrain if the trend continues."
	}
}

// KolmogorovSmirnov returns the two-sample KS statistic and its asymptotic p-value.
func KolmogorovSmirnov(a, b []float64) (float64, float64) {
	x := sortedCopy(a)
	y := sortedCopy(b)
	d := stat.KolmogorovSmirnov(x, nil, y, nil)

	n, m := float64(len(x)), float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	return d, ksProb((en + 0.12 + 0.11/en) * d)
}

// ksProb is the Kolmogorov distribution tail Q_KS(lambda).
func ksProb(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	const eps1, eps2 = 1e-6, 1e-16
	a2 := -2 * lambda * lambda
	fac, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return clamp01(sum)
		}
		fac = -fac
		prev = math.Abs(term)
	}
	return 1
}

// PopulationStabilityIndex bins both samples over their joint range.
func PopulationStabilityIndex(baseline, current []float64, bins int) float64 {
	if len(baseline) == 0 || len(current) == 0 || bins <= 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range [][]float64{baseline, current} {
		for _, v := range s {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi == lo {
		return 0
	}

	width := (hi - lo) / float64(bins)
	count := func(s []float64) []float64 {
		out := make([]float64, bins)
		for _, v := range s {
			bin := int((v - lo) / width)
			if bin >= bins {
				bin = bins - 1
			}
			out[bin]++
		}
		for i := range out {
			out[i] /= float64(len(s))
		}
		return out
	}

	bp, cp := count(baseline), count(current)
	psi := 0.0
	for i := 0; i < bins; i++ {
		if bp[i] > 0 && cp[i] > 0 {
			psi += (cp[i] - bp[i]) * math.Log(cp[i]/bp[i])
		}
	}
	return math.Abs(psi)
}

func sortedCopy(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	sort.Float64s(out)
	return out
}

func finite(v []float64) []float64 {
	out := v[:0:0]
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

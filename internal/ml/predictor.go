package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"inventory-forecast/internal/features"
)

var (
	// ErrModelNotLoaded is returned when a prediction is attempted without a model or encoder.
	ErrModelNotLoaded = errors.New("model or encoder not loaded")
	// ErrUnknownClass means the model produced a class index the encoder does not know.
	// The encoder and model are trained together, so this is an integrity violation.
	ErrUnknownClass = errors.New("predicted class unknown to label encoder")
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc(label string)
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
	MLDefaultedFeaturesAdd(int)
	MLUnmappedInputsAdd(int)
	MLModelReloadsInc(success bool)
}

// Classifier is anything that yields a class distribution for one row.
type Classifier interface {
	PredictProba(x []float64) ([]float64, error)
	NumClasses() int
}

// PredictionResult is the decoded output of a single prediction.
type PredictionResult struct {
	Label         string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Predict classifies vector and decodes the arg-max class through encoder.
// Confidence is the top probability rounded to 2 decimals; each class
// probability is rounded to 3.
func Predict(vector features.ReconciledVector, model Classifier, encoder *LabelEncoder) (PredictionResult, error) {
	if isNilClassifier(model) || encoder == nil || encoder.Len() == 0 {
		return PredictionResult{}, ErrModelNotLoaded
	}

	probs, err := model.PredictProba(vector)
	if err != nil {
		return PredictionResult{}, fmt.Errorf("predict proba: %w", err)
	}
	if len(probs) == 0 {
		return PredictionResult{}, fmt.Errorf("%w: empty probability vector", ErrUnknownClass)
	}
	if len(probs) != encoder.Len() {
		return PredictionResult{}, fmt.Errorf("%w: model has %d classes, encoder has %d",
			ErrUnknownClass, len(probs), encoder.Len())
	}

	best := argmax(probs)
	label, err := encoder.Decode(best)
	if err != nil {
		return PredictionResult{}, err
	}

	classes := encoder.Classes()
	out := PredictionResult{
		Label:         label,
		Confidence:    round(probs[best], 2),
		Probabilities: make(map[string]float64, len(classes)),
	}
	for i, c := range classes {
		out.Probabilities[c] = round(probs[i], 3)
	}
	return out, nil
}

func isNilClassifier(c Classifier) bool {
	if c == nil {
		return true
	}
	if t, ok := c.(*DecisionTree); ok && t == nil {
		return true
	}
	return false
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Recommendation is a prediction plus the context the service layer reports.
type Recommendation struct {
	PredictionResult
	ModelVersion string             `json:"model_version"`
	Features     map[string]float64 `json:"features"`
	Report       features.Report    `json:"report"`
}

// Predictor serves predictions from whatever bundle the holder currently has.
type Predictor struct {
	holder  *ModelHolder
	metrics MetricsInterface
}

func NewPredictor(holder *ModelHolder, metrics MetricsInterface) *Predictor {
	return &Predictor{holder: holder, metrics: metrics}
}

// Recommend reconciles raw against the active schema and predicts. The model
// is loaded on first use if startup did not load it.
func (p *Predictor) Recommend(ctx context.Context, raw features.RawInput) (Recommendation, error) {
	if p == nil || p.holder == nil {
		return Recommendation{}, ErrModelNotLoaded
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	if err := ctx.Err(); err != nil {
		return Recommendation{}, err
	}

	bundle, err := p.holder.Get()
	if err != nil {
		p.fail()
		return Recommendation{}, err
	}

	vec, report := features.ReconcileWithReport(raw, bundle.Spec, bundle.Aliases)
	result, err := Predict(vec, bundle.Model, bundle.Encoder)
	if err != nil {
		p.fail()
		return Recommendation{}, err
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsInc(result.Label)
		p.metrics.MLPredictionScoresObserve(result.Confidence)
		p.metrics.MLDefaultedFeaturesAdd(len(report.Defaulted))
		p.metrics.MLUnmappedInputsAdd(len(report.Unmapped))
		if !bundle.Metadata.TrainedAt.IsZero() {
			p.metrics.MLModelAgeSet(time.Since(bundle.Metadata.TrainedAt).Seconds())
		}
	}

	named := make(map[string]float64, len(vec))
	for i, name := range bundle.Spec.Names() {
		named[name] = vec[i]
	}

	return Recommendation{
		PredictionResult: result,
		ModelVersion:     bundle.Version(),
		Features:         named,
		Report:           report,
	}, nil
}

func (p *Predictor) fail() {
	if p.metrics != nil {
		p.metrics.MLFailuresInc()
	}
}

package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"inventory-forecast/internal/common"
	"inventory-forecast/internal/dataset"
	"inventory-forecast/internal/features"

	"github.com/rs/zerolog/log"
)

// TrainingConfig controls a training run.
type TrainingConfig struct {
	Spec     features.FeatureSpec
	Aliases  *features.AliasTable
	Params   TreeParams
	TestSize float64
	Seed     int64
	// Now stamps the version label; defaults to time.Now.
	Now func() time.Time
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Spec:     features.DefaultSpec(),
		Aliases:  features.DefaultAliasTable(),
		Params:   DefaultTreeParams(),
		TestSize: common.DefaultTestSize,
		Seed:     common.DefaultSeed,
	}
}

// TrainingResult is the fitted bundle and its held-out evaluation.
type TrainingResult struct {
	Bundle       *ModelBundle
	Evaluation   Evaluation
	TargetColumn string
}

// Summary is the JSON line the trainer prints after a run.
type Summary struct {
	Version     string  `json:"version"`
	Accuracy    float64 `json:"accuracy"`
	F1          float64 `json:"f1"`
	DatasetSize int     `json:"dataset_size"`
}

func (r *TrainingResult) Summary() Summary {
	return Summary{
		Version:     r.Bundle.Version(),
		Accuracy:    r.Evaluation.Accuracy,
		F1:          r.Evaluation.WeightedF1,
		DatasetSize: r.Bundle.Metadata.DatasetSize,
	}
}

// VersionLabel formats the version stamped on a newly trained model.
func VersionLabel(t time.Time) string {
	return "cart_v" + t.Format("20060102_150405")
}

// Train builds feature rows through the reconciler, splits them stratified,
// fits a tree and evaluates it on the held-out part.
func Train(ds *dataset.Dataset, cfg TrainingConfig) (*TrainingResult, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if cfg.Spec.Len() == 0 {
		cfg.Spec = features.DefaultSpec()
	}
	if cfg.Aliases == nil {
		cfg.Aliases = features.DefaultAliasTable()
	}
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		cfg.TestSize = common.DefaultTestSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	target, ok := ds.FirstColumn(common.TargetColumn, common.FallbackTargetColumn)
	if !ok {
		return nil, fmt.Errorf("dataset has no %q or %q column", common.TargetColumn, common.FallbackTargetColumn)
	}

	var X [][]float64
	var labels []string
	for _, row := range ds.Rows {
		label := dataset.Label(row[target])
		if label == "" {
			continue
		}
		input := make(features.RawInput, len(row))
		for k, v := range row {
			if k != target {
				input[k] = v
			}
		}
		X = append(X, features.Reconcile(input, cfg.Spec, cfg.Aliases))
		labels = append(labels, label)
	}

	if len(labels) < 4 {
		return nil, fmt.Errorf("need at least 4 labelled rows, got %d", len(labels))
	}
	encoder := FitLabelEncoder(labels)
	if encoder.Len() < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", encoder.Len())
	}
	y, err := encoder.EncodeAll(labels)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx := StratifiedSplit(y, cfg.TestSize, cfg.Seed)

	tree := NewDecisionTree(cfg.Params)
	if err := tree.Fit(pick(X, trainIdx), pickInt(y, trainIdx), encoder.Len()); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	yTest := pickInt(y, testIdx)
	yPred := make([]int, len(testIdx))
	for i, idx := range testIdx {
		p, err := tree.Predict(X[idx])
		if err != nil {
			return nil, err
		}
		yPred[i] = p
	}
	ev, err := Evaluate(yTest, yPred, encoder.Classes())
	if err != nil {
		return nil, err
	}

	names := cfg.Spec.Names()
	importances := make(map[string]float64, len(names))
	for i, name := range names {
		importances[name] = tree.Importances[i]
	}

	now := cfg.Now()
	md := ModelMetadata{
		Version:            VersionLabel(now),
		TrainedAt:          now,
		Features:           names,
		Classes:            encoder.Classes(),
		Accuracy:           ev.Accuracy,
		F1Score:            ev.WeightedF1,
		DatasetSize:        len(labels),
		TrainingRows:       len(trainIdx),
		TestRows:           len(testIdx),
		Params:             tree.Params,
		TreeDepth:          tree.Depth(),
		TreeLeaves:         tree.Leaves(),
		FeatureImportances: importances,
	}

	bundle := &ModelBundle{
		Spec:     cfg.Spec,
		Aliases:  cfg.Aliases,
		Model:    tree,
		Encoder:  encoder,
		Metadata: md,
		LoadedAt: now,
	}

	log.Info().
		Str("version", md.Version).
		Str("target", target).
		Int("train_rows", md.TrainingRows).
		Int("test_rows", md.TestRows).
		Float64("accuracy", ev.Accuracy).
		Float64("f1", ev.WeightedF1).
		Int("depth", md.TreeDepth).
		Msg("model trained")

	return &TrainingResult{Bundle: bundle, Evaluation: ev, TargetColumn: target}, nil
}

// StratifiedSplit shuffles each class with seed and holds out about testSize
// of it. Every class keeps at least one training row, and the test set is
// never empty when there are at least two rows.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int) {
	byClass := map[int][]int{}
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(float64(len(idx)) * testSize))
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}

	if len(test) == 0 && len(train) > 1 {
		// take one row from the largest class
		largest := classes[0]
		for _, c := range classes {
			if len(byClass[c]) > len(byClass[largest]) {
				largest = c
			}
		}
		moved := byClass[largest][0]
		test = append(test, moved)
		for i, v := range train {
			if v == moved {
				train = append(train[:i], train[i+1:]...)
				break
			}
		}
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func pick(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

func pickInt(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

package retrain

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"inventory-forecast/internal/dataset"
	"inventory-forecast/internal/ml"
)

// Runner performs one training run.
type Runner interface {
	Run(ctx context.Context) (*ml.TrainingResult, error)
}

// Pipeline loads the dataset, trains, writes the artifacts and optionally
// asks the service to reload them.
type Pipeline struct {
	Source   dataset.Source
	Store    *ml.ArtifactStore
	Config   ml.TrainingConfig
	Notifier Notifier
}

func (p *Pipeline) Run(ctx context.Context) (*ml.TrainingResult, error) {
	if p.Source == nil || p.Store == nil {
		return nil, fmt.Errorf("pipeline needs a dataset source and an artifact store")
	}

	start := time.Now()
	ds, err := p.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	log.Info().Int("rows", ds.Len()).Int("columns", len(ds.Columns)).Msg("Dataset loaded")

	result, err := ml.Train(ds, p.Config)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	if err := p.Store.Save(result.Bundle); err != nil {
		return nil, fmt.Errorf("save artifacts: %w", err)
	}

	log.Info().
		Str("version", result.Bundle.Version()).
		Str("target", result.TargetColumn).
		Float64("accuracy", result.Evaluation.Accuracy).
		Float64("f1", result.Evaluation.WeightedF1).
		Dur("elapsed", time.Since(start)).
		Str("model_path", p.Store.ModelPath()).
		Msg("Model trained and saved")

	// A failed notification leaves the new artifacts for the next reload.
	if p.Notifier != nil {
		version, err := p.Notifier.NotifyReload(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Service reload notification failed")
		} else {
			log.Info().Str("model_version", version).Msg("Service reloaded the model")
		}
	}

	return result, nil
}

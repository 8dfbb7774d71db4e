package retrain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcomes reported to RetrainRequestInc.
const (
	OutcomeQueued    = "queued"
	OutcomeLogged    = "logged"
	OutcomeRejected  = "rejected"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics is the subset of the metrics wrapper the worker reports to.
type Metrics interface {
	RetrainRequestInc(outcome string)
	RetrainDurationObserve(seconds float64)
}

// Dequeuer hands out pending jobs.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
}

// Worker drains the queue, running the pipeline once per job.
type Worker struct {
	queue   Dequeuer
	runner  Runner
	metrics Metrics
	poll    time.Duration
	backoff time.Duration
}

func NewWorker(queue Dequeuer, runner Runner, metrics Metrics, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{queue: queue, runner: runner, metrics: metrics, poll: poll, backoff: time.Second}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Dur("poll", w.poll).Msg("Retrain worker started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Retrain worker stopped")
			return nil
		}

		job, err := w.queue.Dequeue(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Failed to read retrain queue")
			select {
			case <-ctx.Done():
			case <-time.After(w.backoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	logger := log.With().Str("job_id", job.ID).Str("requested_by", job.RequestedBy).Logger()
	logger.Info().Time("requested_at", job.RequestedAt).Msg("Retrain job started")

	start := time.Now()
	result, err := w.runner.Run(ctx)
	elapsed := time.Since(start)
	if w.metrics != nil {
		w.metrics.RetrainDurationObserve(elapsed.Seconds())
	}

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("Retrain job failed")
		if w.metrics != nil {
			w.metrics.RetrainRequestInc(OutcomeFailed)
		}
		return
	}

	if w.metrics != nil {
		w.metrics.RetrainRequestInc(OutcomeSucceeded)
	}
	summary := result.Summary()
	logger.Info().
		Str("version", summary.Version).
		Float64("accuracy", summary.Accuracy).
		Float64("f1", summary.F1).
		Int("dataset_size", summary.DatasetSize).
		Dur("elapsed", elapsed).
		Msg("Retrain job finished")
}

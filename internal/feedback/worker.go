// Package feedback applies recorded outcomes to pattern prediction accuracy
// through the job queue.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/foresight/internal/storage"
)

// JobTypePatternOutcome is the job type carrying one pattern outcome.
const JobTypePatternOutcome = "pattern_outcome"

// DefaultLearningRate is how far one outcome moves a pattern's accuracy.
const DefaultLearningRate = 0.1

// OutcomePayload is the payload of a pattern_outcome job.
type OutcomePayload struct {
	PatternID string `json:"pattern_id"`
	Success   bool   `json:"success"`
}

// NewOutcomeJob builds the job that records an outcome for patternID.
func NewOutcomeJob(patternID string, success bool) (storage.Job, error) {
	payload, err := json.Marshal(OutcomePayload{PatternID: patternID, Success: success})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding outcome payload: %w", err)
	}
	return storage.Job{Type: JobTypePatternOutcome, PayloadJSON: string(payload)}, nil
}

// JobStore abstracts the job queue and the accuracy update.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	RecordPatternOutcome(ctx context.Context, id string, success bool, rate float64) (storage.Pattern, error)
}

// Worker processes pattern_outcome jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	rate   float64
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. A rate outside (0,1] defaults to 0.1 and a
// pollInterval <= 0 defaults to 500ms.
func NewWorker(store JobStore, rate float64, pollInterval time.Duration) *Worker {
	if rate <= 0 || rate > 1 {
		rate = DefaultLearningRate
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		rate:   rate,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("feedback worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single pattern_outcome job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypePatternOutcome})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("outcome job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload OutcomePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.PatternID == "" {
		return errors.New("payload has no pattern_id")
	}

	p, err := w.store.RecordPatternOutcome(ctx, payload.PatternID, payload.Success, w.rate)
	if errors.Is(err, storage.ErrNotFound) {
		// Patterns are never deleted, so a retry cannot succeed.
		w.logger.Warn("outcome for unknown pattern dropped", "job_id", job.ID, "pattern_id", payload.PatternID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", payload.PatternID, err)
	}

	w.logger.Debug("pattern accuracy updated",
		"pattern_id", p.ID,
		"success", payload.Success,
		"accuracy", p.PredictionAccuracy,
	)
	return nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
)

// StageFunc performs the work of one stage
type StageFunc func(ctx context.Context) error

// StepRunner executes one stage of a job and keeps its JobStep record current.
// Completed steps are never run again.
type StepRunner struct {
	jobs  *store.JobStore
	stats *store.StatsStore
	owner string
	Now   func() time.Time
	log   *logrus.Entry
}

func NewStepRunner(jobs *store.JobStore, stats *store.StatsStore, owner string) *StepRunner {
	return &StepRunner{
		jobs:  jobs,
		stats: stats,
		owner: owner,
		Now:   time.Now,
		log:   logger.WithModule("step_runner"),
	}
}

// RunStep runs fn for the (jobID, stage) step unless that step is already
// completed. It reports whether fn was invoked. An error from fn marks the
// step failed and is returned unchanged.
func (r *StepRunner) RunStep(ctx context.Context, jobID string, contentType model.ContentType, stage model.StageType, fn StageFunc) (bool, error) {
	step, err := r.jobs.GetStep(ctx, jobID, stage)
	if err != nil {
		return false, err
	}
	log := r.log.WithFields(logrus.Fields{"job_id": jobID, "stage": stage})

	if step.Status == model.StepStatusCompleted {
		log.Debug("Step already completed, skipping")
		return false, nil
	}

	started := r.Now()
	step.Status = model.StepStatusRunning
	step.StartedAt = &started
	step.FinishedAt = nil
	step.DurationMs = 0
	step.Message = ""
	step.Attempts++
	if err := r.jobs.SaveStep(ctx, step, r.owner); err != nil {
		return false, fmt.Errorf("failed to mark step running: %w", err)
	}

	runErr := fn(ctx)

	finished := r.Now()
	elapsed := finished.Sub(started)
	step.FinishedAt = &finished
	step.DurationMs = elapsed.Milliseconds()

	if runErr != nil {
		step.Status = model.StepStatusFailed
		step.Message = runErr.Error()
		// The stage context may already be cancelled; the lease guard still applies.
		if err := r.jobs.SaveStep(context.WithoutCancel(ctx), step, r.owner); err != nil {
			log.WithError(err).Warn("Failed to record step failure")
		}
		return true, runErr
	}

	step.Status = model.StepStatusCompleted
	if err := r.jobs.SaveStep(ctx, step, r.owner); err != nil {
		return true, fmt.Errorf("failed to mark step completed: %w", err)
	}

	avg, err := r.stats.Record(ctx, contentType, stage, elapsed)
	if err != nil {
		log.WithError(err).Warn("Failed to record stage duration")
	}
	log.WithFields(logrus.Fields{"duration_ms": step.DurationMs, "avg_ms": avg}).Info("Step completed")
	return true, nil
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/reelforge/api/internal/lease"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
)

// TaskTypeVideoProcess asks any worker process to pick a job up
const TaskTypeVideoProcess = "video:process"

// NewVideoProcessTask builds the cross-process kick for jobID
func NewVideoProcessTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.VideoTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVideoProcess, data), nil
}

// Processor advances one job to a terminal state
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Scheduler drains the queue one job at a time. What is pending lives in the
// job store, so the queue can always be rebuilt by Recover.
type Scheduler struct {
	queue            *Queue
	jobs             *store.JobStore
	leases           *lease.Manager
	processor        Processor
	recoveryInterval time.Duration
	log              *logrus.Entry
}

func New(jobs *store.JobStore, leases *lease.Manager, processor Processor, recoveryInterval time.Duration) *Scheduler {
	return &Scheduler{
		queue:            NewQueue(),
		jobs:             jobs,
		leases:           leases,
		processor:        processor,
		recoveryInterval: recoveryInterval,
		log:              logger.WithModule("scheduler"),
	}
}

// Enqueue adds jobID to the local queue; duplicates are ignored
func (s *Scheduler) Enqueue(jobID string) bool {
	added := s.queue.Push(jobID)
	if added {
		s.log.WithField("job_id", jobID).Debug("Job enqueued")
	}
	return added
}

// Pending is the number of jobs waiting in the local queue
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Recover clears expired leases on every non-terminal job and re-enqueues
// it. Stale index entries are dropped. Returns the number of jobs enqueued.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	ids, err := s.jobs.ListActiveJobIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		log := s.log.WithField("job_id", id)

		job, err := s.jobs.GetJob(ctx, id)
		if errors.Is(err, store.ErrJobNotFound) {
			if err := s.jobs.Deactivate(ctx, id); err != nil {
				log.WithError(err).Warn("Failed to drop missing job from active set")
			}
			continue
		}
		if err != nil {
			return enqueued, err
		}
		if job.Status.IsTerminal() {
			if err := s.jobs.Deactivate(ctx, id); err != nil {
				log.WithError(err).Warn("Failed to drop terminal job from active set")
			}
			continue
		}

		cleared, err := s.leases.ClearExpired(ctx, id)
		if err != nil {
			log.WithError(err).Warn("Failed to clear expired lease")
		} else if cleared {
			log.WithField("previous_owner", job.LockedBy).Info("Cleared expired lease")
		}

		if s.Enqueue(id) {
			enqueued++
		}
	}

	if enqueued > 0 {
		s.log.WithField("count", enqueued).Info("Recovered jobs")
	}
	return enqueued, nil
}

// Run recovers pending jobs, then processes the queue sequentially until ctx
// is done. With a positive recovery interval, recovery repeats periodically.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		s.log.WithError(err).Error("Startup recovery failed")
	}

	if s.recoveryInterval > 0 {
		go s.recoverEvery(ctx, s.recoveryInterval)
	}

	s.log.Info("Scheduler started")
	for {
		id, err := s.queue.Pop(ctx)
		if err != nil {
			s.log.Info("Scheduler stopped")
			return nil
		}
		if err := s.processor.ProcessJob(ctx, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).WithField("job_id", id).Error("Job processing error")
		}
	}
}

func (s *Scheduler) recoverEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("Periodic recovery failed")
			}
		}
	}
}

// ProcessTask handles video:process tasks by feeding the local queue
func (s *Scheduler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.VideoTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}
	s.Enqueue(payload.JobID)
	return nil
}

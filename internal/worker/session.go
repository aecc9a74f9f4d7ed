package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/store"
)

// jobSession is the leased, in-memory view of one job while it is processed.
// Every mutation goes through mu and is persisted immediately, so concurrent
// scene goroutines never lose each other's writes.
type jobSession struct {
	mu       sync.Mutex
	job      *model.Job
	owner    string
	jobs     *store.JobStore
	notifier Notifier
	now      func() time.Time

	stage     model.Stage
	estimates map[model.StageType]time.Duration
}

func newJobSession(ctx context.Context, job *model.Job, owner string, jobs *store.JobStore, stats *store.StatsStore, notifier Notifier, now func() time.Time) *jobSession {
	estimates := make(map[model.StageType]time.Duration, len(model.Pipeline))
	for _, stage := range model.Pipeline {
		estimates[stage.Type] = stats.Estimate(ctx, job.Settings.ContentType, stage)
	}
	return &jobSession{
		job:       job,
		owner:     owner,
		jobs:      jobs,
		notifier:  notifier,
		now:       now,
		estimates: estimates,
	}
}

// snapshot returns a copy safe to read without the lock
func (s *jobSession) snapshot() *model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

// refresh replaces the in-memory job with the stored record. Progress never
// moves backwards across the reload.
func (s *jobSession) refresh(ctx context.Context) error {
	fresh, err := s.jobs.GetJob(ctx, s.job.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fresh.ProgressPercent < s.job.ProgressPercent {
		fresh.ProgressPercent = s.job.ProgressPercent
	}
	s.job = fresh
	return nil
}

// update applies fn and persists the job under the lease.
func (s *jobSession) update(ctx context.Context, fn func(job *model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.job)
	return s.saveLocked(ctx)
}

// start moves a freshly leased job out of queued.
func (s *jobSession) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != model.JobStatusQueued {
		return nil
	}
	now := s.now()
	s.job.Status = model.JobStatusRunning
	s.job.StartedAt = &now
	s.job.CurrentStep = "Starting..."
	s.setETALocked(0)
	return s.saveLocked(ctx)
}

// beginStage switches the status label and progress to the start of stage.
func (s *jobSession) beginStage(ctx context.Context, stage model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
	s.job.Status = stage.Status
	s.job.CurrentStep = stage.Label
	s.advanceLocked(stage.ProgressStart, 0)
	return s.saveBroadcastLocked(ctx)
}

// progress reports a fraction (0..1) of the current stage as done.
func (s *jobSession) progress(ctx context.Context, fraction float64, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fraction = math.Min(math.Max(fraction, 0), 1)
	span := float64(s.stage.ProgressEnd - s.stage.ProgressStart)
	if step != "" {
		s.job.CurrentStep = step
	}
	s.advanceLocked(s.stage.ProgressStart+int(span*fraction), fraction)
	return s.saveBroadcastLocked(ctx)
}

// endStage moves progress to the end of the current stage.
func (s *jobSession) endStage(ctx context.Context) error {
	return s.progress(ctx, 1, "")
}

func (s *jobSession) complete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.job.Status = model.JobStatusCompleted
	s.job.ProgressPercent = 100
	s.job.CurrentStep = "Completed"
	s.job.CompletedAt = &now
	s.job.LastProgressAt = &now
	zero := 0
	s.job.ETASeconds = &zero
	if err := s.saveLocked(ctx); err != nil {
		return err
	}
	s.notifier.BroadcastComplete(s.job.ID, model.VideoResult{
		VideoURL:        s.job.VideoURL,
		ThumbnailURL:    s.job.ThumbnailURL,
		DurationSeconds: s.job.DurationSeconds,
		Caption:         s.job.Caption,
		Hashtags:        s.job.Hashtags,
	})
	return nil
}

func (s *jobSession) fail(ctx context.Context, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.job.Status = model.JobStatusFailed
	s.job.ErrorMessage = message
	s.job.CompletedAt = &now
	s.job.ETASeconds = nil
	if err := s.saveLocked(ctx); err != nil {
		return err
	}
	s.notifier.BroadcastError(s.job.ID, code, message)
	return nil
}

// advanceLocked never lowers progress.
func (s *jobSession) advanceLocked(percent int, stageFraction float64) {
	if percent > s.job.ProgressPercent {
		s.job.ProgressPercent = min(percent, 99)
	}
	now := s.now()
	s.job.LastProgressAt = &now
	s.setETALocked(stageFraction)
}

// setETALocked sums the remaining share of the current stage and the
// estimates of every later stage.
func (s *jobSession) setETALocked(stageFraction float64) {
	var remaining time.Duration
	seen := s.stage.Type == ""
	for _, stage := range model.Pipeline {
		switch {
		case stage.Type == s.stage.Type:
			seen = true
			remaining += time.Duration(float64(s.estimates[stage.Type]) * (1 - stageFraction))
		case seen:
			remaining += s.estimates[stage.Type]
		}
	}
	eta := int(math.Ceil(remaining.Seconds()))
	s.job.ETASeconds = &eta
}

func (s *jobSession) saveLocked(ctx context.Context) error {
	return s.jobs.SaveJob(ctx, s.job, s.owner)
}

func (s *jobSession) saveBroadcastLocked(ctx context.Context) error {
	if err := s.saveLocked(ctx); err != nil {
		return err
	}
	s.notifier.BroadcastProgress(s.job.ID, s.job.ProgressPercent, s.job.Status, s.job.CurrentStep, s.job.ETASeconds)
	return nil
}

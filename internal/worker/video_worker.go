package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/lease"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/render"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned by a stage once a cancellation request is observed
var ErrCancelled = errors.New("cancelled by user")

// Error codes sent to live subscribers
const (
	ErrCodeCancelled   = "CANCELLED"
	ErrCodeVideoFailed = "VIDEO_FAILED"
)

// Notifier receives job events for live subscribers
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string, etaSeconds *int)
	BroadcastComplete(jobID string, result model.VideoResult)
	BroadcastError(jobID string, code, message string)
}

// VideoRenderer composes the scene list into the final uploaded video
type VideoRenderer interface {
	Render(ctx context.Context, in *render.Input) (*render.Result, error)
}

// Generators are the external content services the pipeline calls
type Generators struct {
	Script  client.ScriptGenerator
	Image   client.ImageGenerator
	Speech  client.SpeechGenerator
	Caption client.CaptionGenerator
}

// Options tune the worker
type Options struct {
	LeaseTTL                time.Duration
	RenewInterval           time.Duration
	SceneConcurrency        int
	ImagePlaceholderOnError bool
	ProbeAttempts           uint
	ProbeInterval           time.Duration
	RenderTimeout           time.Duration
	TempRoot                string
}

// Deps bundles the collaborators of a VideoWorker
type Deps struct {
	Jobs     *store.JobStore
	Assets   *store.AssetStore
	Stats    *store.StatsStore
	Leases   *lease.Manager
	Caller   *client.Caller
	Storage  client.StorageClient
	Renderer VideoRenderer
	Prober   render.Prober
	Notifier Notifier
}

// VideoWorker drives one job at a time through the fixed stage pipeline
type VideoWorker struct {
	Deps
	gens  Generators
	opts  Options
	owner string
	steps *StepRunner
	Now   func() time.Time
	log   *logrus.Entry
}

func NewVideoWorker(deps Deps, gens Generators, opts Options, owner string) *VideoWorker {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 120 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.LeaseTTL {
		opts.RenewInterval = opts.LeaseTTL / 4
	}
	if opts.SceneConcurrency <= 0 {
		opts.SceneConcurrency = 1
	}
	if opts.ProbeAttempts == 0 {
		opts.ProbeAttempts = 3
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 500 * time.Millisecond
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 30 * time.Minute
	}
	w := &VideoWorker{
		Deps:  deps,
		gens:  gens,
		opts:  opts,
		owner: owner,
		steps: NewStepRunner(deps.Jobs, deps.Stats, owner),
		Now:   time.Now,
		log:   logger.WithModule("video_worker").WithField("owner", owner),
	}
	w.Prober = &render.RetryingProber{Prober: deps.Prober, Attempts: opts.ProbeAttempts, Interval: opts.ProbeInterval}
	return w
}

// Owner is the lease identity of this worker
func (w *VideoWorker) Owner() string {
	return w.owner
}

// ProcessJob runs jobID to a terminal state unless another owner holds it.
// Losing the lease mid-run abandons the job silently; shutdown leaves it
// non-terminal for recovery.
func (w *VideoWorker) ProcessJob(ctx context.Context, jobID string) error {
	log := w.log.WithField("job_id", jobID)

	acquired, err := w.Leases.Acquire(ctx, jobID, w.owner, w.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		log.Debug("Job is leased by another worker")
		return nil
	}
	defer w.Leases.Release(ctx, jobID, w.owner)

	leaseCtx, stop := w.Leases.KeepAlive(ctx, jobID, w.owner, w.opts.LeaseTTL, w.opts.RenewInterval)
	defer stop()

	job, err := w.Jobs.GetJob(leaseCtx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.Debug("Job already terminal")
		return nil
	}

	sess := newJobSession(leaseCtx, job, w.owner, w.Jobs, w.Stats, w.Notifier, w.now)
	log.Info("Processing job")

	err = sess.start(leaseCtx)
	if err == nil {
		err = w.runPipeline(leaseCtx, sess)
	}
	if err == nil {
		err = sess.complete(leaseCtx)
	}

	switch {
	case err == nil:
		log.Info("Job completed")
		return nil
	case errors.Is(context.Cause(leaseCtx), store.ErrLeaseLost) || errors.Is(err, store.ErrLeaseLost):
		log.Warn("Lease lost, another worker owns the job now")
		return nil
	case ctx.Err() != nil:
		log.Info("Shutting down, job left for recovery")
		return ctx.Err()
	}

	code, message := ErrCodeVideoFailed, err.Error()
	if errors.Is(err, ErrCancelled) {
		code, message = ErrCodeCancelled, ErrCancelled.Error()
	}
	log.WithError(err).Warn("Job failed")
	if saveErr := sess.fail(context.WithoutCancel(leaseCtx), code, message); saveErr != nil {
		log.WithError(saveErr).Error("Failed to mark job failed")
	}
	return nil
}

func (w *VideoWorker) runPipeline(ctx context.Context, sess *jobSession) error {
	jobID := sess.job.ID
	contentType := sess.job.Settings.ContentType

	for _, stage := range model.Pipeline {
		if err := w.checkCancelled(ctx, jobID); err != nil {
			return err
		}
		if err := sess.refresh(ctx); err != nil {
			return err
		}

		run := w.stageFunc(stage.Type, sess)
		_, err := w.steps.RunStep(ctx, jobID, contentType, stage.Type, func(ctx context.Context) error {
			if err := sess.beginStage(ctx, stage); err != nil {
				return err
			}
			if err := run(ctx); err != nil {
				return err
			}
			return sess.endStage(ctx)
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return fmt.Errorf("%s: %w", stage.Type, err)
		}
	}
	return nil
}

func (w *VideoWorker) stageFunc(stage model.StageType, sess *jobSession) StageFunc {
	switch stage {
	case model.StageScript:
		return func(ctx context.Context) error { return w.runScript(ctx, sess) }
	case model.StageAssetsVisual:
		return func(ctx context.Context) error { return w.runVisualAssets(ctx, sess) }
	case model.StageAssetsAudio:
		return func(ctx context.Context) error { return w.runAudioAssets(ctx, sess) }
	case model.StageRender:
		return func(ctx context.Context) error { return w.runRender(ctx, sess) }
	case model.StageCaption:
		return func(ctx context.Context) error { return w.runCaption(ctx, sess) }
	}
	return func(context.Context) error { return fmt.Errorf("unknown stage %q", stage) }
}

func (w *VideoWorker) checkCancelled(ctx context.Context, jobID string) error {
	cancelled, err := w.Jobs.IsCancelRequested(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read cancellation flag: %w", err)
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (w *VideoWorker) now() time.Time {
	return w.Now()
}

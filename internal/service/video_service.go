package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/reelforge/api/internal/config"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/scheduler"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
)

// Enqueuer notifies workers that a job is ready
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// AsynqEnqueuer sends video:process tasks through asynq
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	task, err := scheduler.NewVideoProcessTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue("video"),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// VideoService is the job API: create, inspect, list, cancel, regenerate
type VideoService struct {
	jobs     *store.JobStore
	assets   *store.AssetStore
	stats    *store.StatsStore
	enqueuer Enqueuer
	render   config.RenderConfig
	log      *logrus.Entry
}

func NewVideoService(jobs *store.JobStore, assets *store.AssetStore, stats *store.StatsStore, enqueuer Enqueuer, render config.RenderConfig) *VideoService {
	return &VideoService{
		jobs:     jobs,
		assets:   assets,
		stats:    stats,
		enqueuer: enqueuer,
		render:   render,
		log:      logger.WithModule("video_service"),
	}
}

// Create queues a new job for userID
func (s *VideoService) Create(ctx context.Context, userID string, req *model.VideoCreateRequest) (*model.VideoCreateResponse, error) {
	return s.submit(ctx, &model.Job{
		ID:       uuid.New().String(),
		UserID:   userID,
		Settings: s.settingsFrom(req),
	})
}

// Get returns the job with its steps in pipeline order and its assets
func (s *VideoService) Get(ctx context.Context, userID, jobID string) (*model.VideoDetailResponse, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	steps, err := s.jobs.GetSteps(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	assets, err := s.assets.ListForJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}
	return &model.VideoDetailResponse{Job: job, Steps: steps, Assets: assets}, nil
}

// List returns the caller's jobs, newest first
func (s *VideoService) List(ctx context.Context, userID string, query *model.VideoListQuery) (*model.VideoListResponse, error) {
	filter := model.JobFilter{
		Status:      query.Status,
		ContentType: query.ContentType,
		UserID:      userID,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	jobs, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return &model.VideoListResponse{Jobs: jobs, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Cancel flags the job for cancellation. The worker observes the flag at its next checkpoint.
func (s *VideoService) Cancel(ctx context.Context, userID, jobID string) (*model.VideoCancelResponse, error) {
	if _, err := s.ownedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	job, err := s.jobs.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.WithField("job_id", jobID).Info("Cancellation requested")
	return &model.VideoCancelResponse{
		Success:         true,
		JobID:           jobID,
		Status:          job.Status,
		CancelRequested: job.CancelRequested,
	}, nil
}

// Regenerate queues a new job with the source job's settings
func (s *VideoService) Regenerate(ctx context.Context, userID, jobID string) (*model.VideoCreateResponse, error) {
	source, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, &model.Job{
		ID:              uuid.New().String(),
		UserID:          userID,
		Settings:        source.Settings,
		RegeneratedFrom: source.ID,
	})
}

// CheckAccess returns ErrJobNotFound unless userID may watch the job
func (s *VideoService) CheckAccess(ctx context.Context, userID, jobID string) error {
	_, err := s.ownedJob(ctx, userID, jobID)
	return err
}

// EstimateSeconds sums the learned stage durations for a content type
func (s *VideoService) EstimateSeconds(ctx context.Context, contentType model.ContentType) int {
	var total time.Duration
	for _, stage := range model.Pipeline {
		total += s.stats.Estimate(ctx, contentType, stage)
	}
	return int(total.Round(time.Second) / time.Second)
}

// ActiveJobs counts jobs that have not reached a terminal state
func (s *VideoService) ActiveJobs(ctx context.Context) (int, error) {
	ids, err := s.jobs.ListActiveJobIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *VideoService) submit(ctx context.Context, job *model.Job) (*model.VideoCreateResponse, error) {
	eta := s.EstimateSeconds(ctx, job.Settings.ContentType)
	job.ETASeconds = &eta

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	log := logger.WithJob("video_service", job.ID)
	// The job is already in the active set, so recovery picks it up if the kick is lost.
	if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
		log.WithError(err).Warn("Failed to enqueue job, leaving it to recovery")
	}
	log.WithFields(logrus.Fields{
		"content_type":     job.Settings.ContentType,
		"regenerated_from": job.RegeneratedFrom,
	}).Info("Job queued")

	return &model.VideoCreateResponse{
		JobID:      job.ID,
		Status:     job.Status,
		ETASeconds: job.ETASeconds,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// ownedJob hides other users' jobs behind ErrJobNotFound
func (s *VideoService) ownedJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != "" && userID != "" && job.UserID != userID {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func (s *VideoService) settingsFrom(req *model.VideoCreateRequest) model.Settings {
	settings := model.Settings{
		ContentType:       req.ContentType,
		Topic:             req.Topic,
		TargetDurationSec: req.TargetDurationSec,
		SceneCount:        req.SceneCount,
		Voice:             req.Voice,
		VisualStyle:       req.VisualStyle,
		Language:          req.Language,
		Width:             s.render.Width,
		Height:            s.render.Height,
		FPS:               s.render.FPS,
		Subtitles:         model.SubtitleStyle{Enabled: true},
	}
	if settings.Language == "" {
		settings.Language = "en"
	}
	if sub := req.Subtitles; sub != nil {
		settings.Subtitles = model.SubtitleStyle{
			Enabled:      sub.Enabled,
			FontName:     sub.FontName,
			FontSize:     sub.FontSize,
			PrimaryColor: sub.PrimaryColor,
			OutlineColor: sub.OutlineColor,
			Position:     model.SubtitlePosition(sub.Position),
		}
	}
	return settings
}

// IsNotFound reports whether err means the job does not exist for the caller
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrJobNotFound)
}

// IsConflict reports whether err means the job is already finished
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrJobTerminal)
}

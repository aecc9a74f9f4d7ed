package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reelforge/api/internal/model"
)

// guardedSet writes KEYS[1] only while ARGV[1] holds an unexpired lease in KEYS[2].
// ARGV: owner, now (unix ms), payload, job id, terminal flag.
var guardedSet = redis.NewScript(`
local owner = redis.call('HGET', KEYS[2], 'owner')
local expires = tonumber(redis.call('HGET', KEYS[2], 'expires_at') or '0')
if owner ~= ARGV[1] or expires <= tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
if ARGV[5] == '1' then
  redis.call('SREM', KEYS[3], ARGV[4])
end
return 1
`)

// guardedHSet is guardedSet for one field of a step hash.
// ARGV: owner, now (unix ms), field, payload.
var guardedHSet = redis.NewScript(`
local owner = redis.call('HGET', KEYS[2], 'owner')
local expires = tonumber(redis.call('HGET', KEYS[2], 'expires_at') or '0')
if owner ~= ARGV[1] or expires <= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[3], ARGV[4])
return 1
`)

// flagCancel sets KEYS[2] only while the job in KEYS[1] is stored with a non-terminal status.
// Returns -1 for a missing job, 0 for a finished one, 1 once flagged.
var flagCancel = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return -1
end
local status = cjson.decode(data)['status']
if status == 'completed' or status == 'failed' then
  return 0
end
redis.call('SET', KEYS[2], '1')
return 1
`)

// JobStore persists job records and their step records in Redis
type JobStore struct {
	redis redis.UniversalClient
	Now   func() time.Time
}

func NewJobStore(redisClient redis.UniversalClient) *JobStore {
	return &JobStore{redis: redisClient, Now: time.Now}
}

// CreateJob writes a queued job together with all of its pipeline steps in one transaction.
func (s *JobStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := s.Now()
	job.Status = model.JobStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	data, err := marshalJob(job)
	if err != nil {
		return err
	}

	steps := make([]interface{}, 0, len(model.Pipeline)*2)
	for _, stage := range model.Pipeline {
		step := &model.JobStep{JobID: job.ID, Stage: stage.Type, Status: model.StepStatusQueued}
		b, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("failed to marshal step: %w", err)
		}
		steps = append(steps, string(stage.Type), b)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, 0)
		pipe.HSet(ctx, stepsKey(job.ID), steps...)
		pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		pipe.SAdd(ctx, activeSetKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob reads a fresh job record with its lease and cancellation state merged in.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var (
		jobCmd    *redis.StringCmd
		leaseCmd  *redis.MapStringStringCmd
		cancelCmd *redis.IntCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		jobCmd = pipe.Get(ctx, jobKey(jobID))
		leaseCmd = pipe.HGetAll(ctx, LeaseKey(jobID))
		cancelCmd = pipe.Exists(ctx, cancelKey(jobID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := jobCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	if lease := leaseCmd.Val(); lease["owner"] != "" {
		job.LockedBy = lease["owner"]
		job.LockedAt = msTime(lease["locked_at"])
		job.LeaseExpiresAt = msTime(lease["expires_at"])
	}
	job.CancelRequested = cancelCmd.Val() > 0

	return &job, nil
}

// SaveJob writes the job only while owner holds a live lease. Returns ErrLeaseLost otherwise.
func (s *JobStore) SaveJob(ctx context.Context, job *model.Job, owner string) error {
	job.UpdatedAt = s.Now()
	data, err := marshalJob(job)
	if err != nil {
		return err
	}

	terminal := "0"
	if job.Status.IsTerminal() {
		terminal = "1"
	}

	ok, err := guardedSet.Run(ctx, s.redis,
		[]string{jobKey(job.ID), LeaseKey(job.ID), activeSetKey},
		owner, s.Now().UnixMilli(), data, job.ID, terminal,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RequestCancel sets the cancellation flag. It never touches status or lease.
func (s *JobStore) RequestCancel(ctx context.Context, jobID string) (*model.Job, error) {
	res, err := flagCancel.Run(ctx, s.redis, []string{jobKey(jobID), cancelKey(jobID)}).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to flag cancellation: %w", err)
	}
	if res < 0 {
		return nil, ErrJobNotFound
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return job, ErrJobTerminal
	}
	return job, nil
}

// IsCancelRequested polls the cancellation flag
func (s *JobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	n, err := s.redis.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListJobs returns jobs newest first, filtered in memory over the creation index.
func (s *JobStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	jobs := make([]*model.Job, 0, filter.Limit)
	skipped := 0
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ContentType != "" && job.Settings.ContentType != filter.ContentType {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) == filter.Limit {
			break
		}
	}
	return jobs, nil
}

// ListActiveJobIDs returns the IDs of jobs not yet known to be terminal
func (s *JobStore) ListActiveJobIDs(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Deactivate drops a job from the active set. Recovery calls it for stale entries.
func (s *JobStore) Deactivate(ctx context.Context, jobID string) error {
	return s.redis.SRem(ctx, activeSetKey, jobID).Err()
}

// GetSteps returns the job's steps in pipeline order
func (s *JobStore) GetSteps(ctx context.Context, jobID string) ([]*model.JobStep, error) {
	raw, err := s.redis.HGetAll(ctx, stepsKey(jobID)).Result()
	if err != nil {
		return nil, err
	}

	steps := make([]*model.JobStep, 0, len(model.Pipeline))
	for _, stage := range model.Pipeline {
		data, ok := raw[string(stage.Type)]
		if !ok {
			continue
		}
		var step model.JobStep
		if err := json.Unmarshal([]byte(data), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s: %w", stage.Type, err)
		}
		steps = append(steps, &step)
	}
	return steps, nil
}

// GetStep returns a single step record
func (s *JobStore) GetStep(ctx context.Context, jobID string, stage model.StageType) (*model.JobStep, error) {
	data, err := s.redis.HGet(ctx, stepsKey(jobID), string(stage)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("step %s of job %s: %w", stage, jobID, ErrJobNotFound)
		}
		return nil, err
	}
	var step model.JobStep
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// SaveStep writes one step record under the same lease guard as SaveJob.
func (s *JobStore) SaveStep(ctx context.Context, step *model.JobStep, owner string) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	ok, err := guardedHSet.Run(ctx, s.redis,
		[]string{stepsKey(step.JobID), LeaseKey(step.JobID)},
		owner, s.Now().UnixMilli(), string(step.Stage), data,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

// marshalJob strips the fields that live in their own keys.
func marshalJob(job *model.Job) ([]byte, error) {
	stored := *job
	stored.LockedBy = ""
	stored.LockedAt = nil
	stored.LeaseExpiresAt = nil
	stored.CancelRequested = false

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

func msTime(v string) *time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

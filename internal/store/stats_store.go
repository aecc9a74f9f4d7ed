package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reelforge/api/internal/model"
)

// recordDuration folds one sample into the rolling average:
// newAvg = (oldAvg*count + d) / (count+1)
var recordDuration = redis.NewScript(`
local avg = tonumber(redis.call('HGET', KEYS[1], 'avg_ms') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local d = tonumber(ARGV[1])
local updated = (avg * count + d) / (count + 1)
redis.call('HSET', KEYS[1], 'avg_ms', tostring(updated), 'count', tostring(count + 1))
return tostring(updated)
`)

// StatsStore keeps per (content type, stage) duration averages for ETA
type StatsStore struct {
	redis redis.UniversalClient
}

func NewStatsStore(redisClient redis.UniversalClient) *StatsStore {
	return &StatsStore{redis: redisClient}
}

// Record adds a completed stage duration and returns the new average
func (s *StatsStore) Record(ctx context.Context, contentType model.ContentType, stage model.StageType, d time.Duration) (float64, error) {
	res, err := recordDuration.Run(ctx, s.redis, []string{statsKey(contentType, stage)}, d.Milliseconds()).Text()
	if err != nil {
		return 0, fmt.Errorf("failed to record stage duration: %w", err)
	}
	return strconv.ParseFloat(res, 64)
}

// Get returns the current stats, zero valued when no sample exists
func (s *StatsStore) Get(ctx context.Context, contentType model.ContentType, stage model.StageType) (model.StageStats, error) {
	raw, err := s.redis.HGetAll(ctx, statsKey(contentType, stage)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.StageStats{}, err
	}

	var stats model.StageStats
	if v, ok := raw["avg_ms"]; ok {
		stats.AvgDurationMs, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := raw["count"]; ok {
		stats.SampleCount, _ = strconv.ParseInt(v, 10, 64)
	}
	return stats, nil
}

// Estimate returns the learned average for a stage, or its nominal duration without samples.
func (s *StatsStore) Estimate(ctx context.Context, contentType model.ContentType, stage model.Stage) time.Duration {
	stats, err := s.Get(ctx, contentType, stage.Type)
	if err != nil || stats.SampleCount == 0 {
		return stage.DefaultDuration
	}
	return time.Duration(stats.AvgDurationMs * float64(time.Millisecond))
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/reelforge/api/internal/model"
)

// AssetStore is the content-addressed record of generated media.
// Records are written once and never overwritten.
type AssetStore struct {
	redis redis.UniversalClient
	Now   func() time.Time
}

func NewAssetStore(redisClient redis.UniversalClient) *AssetStore {
	return &AssetStore{redis: redisClient, Now: time.Now}
}

// FindByHash returns the asset recorded under hash, or nil when none exists.
func (s *AssetStore) FindByHash(ctx context.Context, hash string) (*model.Asset, error) {
	data, err := s.redis.Get(ctx, assetKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var asset model.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset %s: %w", hash, err)
	}
	return &asset, nil
}

// Create records a new asset. If one already exists under the same hash the
// stored record wins and is returned unchanged.
func (s *AssetStore) Create(ctx context.Context, asset *model.Asset) (*model.Asset, error) {
	if asset.Hash == "" {
		return nil, errors.New("asset hash is required")
	}
	if asset.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate asset id: %w", err)
		}
		asset.ID = id
	}
	if asset.Metadata == nil {
		asset.Metadata = map[string]any{}
	}
	asset.Metadata["hash"] = asset.Hash
	asset.CreatedAt = s.Now()

	data, err := json.Marshal(asset)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal asset: %w", err)
	}

	created, err := s.redis.SetNX(ctx, assetKey(asset.Hash), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	if !created {
		return s.FindByHash(ctx, asset.Hash)
	}

	if err := s.redis.SAdd(ctx, jobAssetsKey(asset.JobID), asset.Hash).Err(); err != nil {
		return nil, fmt.Errorf("failed to index asset: %w", err)
	}
	return asset, nil
}

// ListForJob returns a job's assets ordered by stage then scene index
func (s *AssetStore) ListForJob(ctx context.Context, jobID string) ([]*model.Asset, error) {
	hashes, err := s.redis.SMembers(ctx, jobAssetsKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return []*model.Asset{}, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = assetKey(h)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	assets := make([]*model.Asset, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var asset model.Asset
		if err := json.Unmarshal([]byte(str), &asset); err != nil {
			return nil, err
		}
		assets = append(assets, &asset)
	}

	sort.Slice(assets, func(i, j int) bool {
		si, sj := stageOrder(assets[i].Stage), stageOrder(assets[j].Stage)
		if si != sj {
			return si < sj
		}
		return assets[i].SceneIndex < assets[j].SceneIndex
	})
	return assets, nil
}

func stageOrder(t model.StageType) int {
	for i, s := range model.Pipeline {
		if s.Type == t {
			return i
		}
	}
	return len(model.Pipeline)
}

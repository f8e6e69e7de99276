package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/makeastory/api/internal/model"
	"github.com/redis/go-redis/v9"
)

const storyIndexKey = "stories"

// Redis stores each story as JSON under story:<id> and keeps a sorted set
// of IDs ordered by update time.
type Redis struct {
	redis *redis.Client
}

// NewRedis wraps a redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{redis: client}
}

func storyKey(id string) string {
	return fmt.Sprintf("story:%s", id)
}

func (r *Redis) Save(ctx context.Context, s *model.Story) error {
	if err := touch(s, time.Now().UTC()); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, storyKey(s.ID), data, 0)
	pipe.ZAdd(ctx, storyIndexKey, redis.Z{Score: float64(s.UpdatedAt.UnixNano()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save story: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*model.Story, error) {
	data, err := r.redis.Get(ctx, storyKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var s model.Story
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", id, err)
	}
	return &s, nil
}

func (r *Redis) List(ctx context.Context) ([]model.StorySummary, error) {
	ids, err := r.redis.ZRevRange(ctx, storyIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	list := make([]model.StorySummary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err == ErrNotFound {
			// Index entry outlived its story.
			r.redis.ZRem(ctx, storyIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, Summarize(s))
	}
	return list, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.redis.Del(ctx, storyKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	r.redis.ZRem(ctx, storyIndexKey, id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

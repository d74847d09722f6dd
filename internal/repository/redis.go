package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowtale/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisStoryKeyPrefix = "story:"
	redisStoryIndexKey  = "stories:by_created"
	// Сколько раз повторять оптимистичную транзакцию при конкурентной записи.
	redisMaxTxRetries = 10
)

var _ StoryRepository = (*RedisStoryRepository)(nil)

// RedisStoryRepository хранит каждую историю JSON-значением под ключом story:{id}.
// Порядок для List держится в sorted set по времени создания.
type RedisStoryRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryRepository создает репозиторий. ttl == 0 - без истечения.
func NewRedisStoryRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStoryRepository {
	return &RedisStoryRepository{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisStoryRepo"),
	}
}

func storyKey(id string) string {
	return redisStoryKeyPrefix + id
}

func (r *RedisStoryRepository) Add(ctx context.Context, story *models.Story) error {
	if err := validateNew(story); err != nil {
		return err
	}
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("failed to marshal story %s: %w", story.ID, err)
	}

	key := storyKey(story.ID)
	created, err := r.client.SetNX(ctx, key, data, r.ttl).Result()
	if err != nil {
		r.logger.Error("Failed to store story in redis", zap.String("storyID", story.ID), zap.Error(err))
		return fmt.Errorf("failed to store story %s in redis: %w", story.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", models.ErrStoryAlreadyExists, story.ID)
	}

	score := float64(story.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, redisStoryIndexKey, redis.Z{Score: score, Member: story.ID}).Err(); err != nil {
		// Без индекса история не попадет в List, откатываем запись
		_ = r.client.Del(ctx, key).Err()
		return fmt.Errorf("failed to index story %s: %w", story.ID, err)
	}
	r.logger.Debug("Story added", zap.String("storyID", story.ID))
	return nil
}

func (r *RedisStoryRepository) Get(ctx context.Context, id string) (*models.Story, error) {
	data, err := r.client.Get(ctx, storyKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get story %s from redis: %w", id, err)
	}
	return decodeStory(id, data)
}

// Update выполняет WATCH/MULTI/EXEC. Если ключ изменился между чтением и записью,
// транзакция повторяется с новым состоянием.
func (r *RedisStoryRepository) Update(ctx context.Context, id string, patch StoryPatch) (*models.Story, error) {
	key := storyKey(id)
	var updated *models.Story

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
			}
			return err
		}
		stored, err := decodeStory(id, data)
		if err != nil {
			return err
		}
		next, err := applyPatch(stored, patch)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal story %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if r.ttl > 0 {
				pipe.Set(ctx, key, encoded, r.ttl)
			} else {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for attempt := 1; attempt <= redisMaxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			r.logger.Debug("Story updated", zap.String("storyID", id), zap.Int("attempt", attempt))
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("Optimistic lock failed, retrying", zap.String("storyID", id), zap.Int("attempt", attempt))
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to update story %s: too many concurrent modifications", id)
}

func (r *RedisStoryRepository) MarkComplete(ctx context.Context, id, finalTitle, conclusion string) (*models.Story, error) {
	return r.Update(ctx, id, completePatch(finalTitle, conclusion))
}

func (r *RedisStoryRepository) List(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	limit, offset = normalizePage(limit, offset)

	ids, err := r.client.ZRevRange(ctx, redisStoryIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read story index: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Story{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = storyKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load stories: %w", err)
	}

	stories := make([]*models.Story, 0, len(values))
	var expired []interface{}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Ключ истек по TTL, индекс чистится лениво
			expired = append(expired, ids[i])
			continue
		}
		story, err := decodeStory(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, redisStoryIndexKey, expired...).Err(); err != nil {
			r.logger.Warn("Failed to remove expired stories from index", zap.Error(err))
		}
	}
	return stories, nil
}

func decodeStory(id string, data []byte) (*models.Story, error) {
	var story models.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story %s: %w", id, err)
	}
	return &story, nil
}

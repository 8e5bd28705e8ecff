package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andyleap/identity/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore backs challenges with a shared cache so horizontally
// scaled instances see each other's ceremonies. Redis key expiry
// replaces the sweep; GETDEL makes consumption single-use across
// processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func redisKey(key string) string {
	return "challenge:" + key
}

func (r *RedisStore) Issue(ctx context.Context, record *models.Challenge) (string, error) {
	now := time.Now()
	record.Key = newKey(record.UserID, now)
	record.ExpiresAt = now.Add(r.ttl)

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal challenge: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(record.Key), data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("save challenge: %w", err)
	}
	return record.Key, nil
}

func (r *RedisStore) Consume(ctx context.Context, key string) (*models.Challenge, error) {
	data, err := r.client.GetDel(ctx, redisKey(key)).Result()
	if err == redis.Nil {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	var record models.Challenge
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}

	if !time.Now().Before(record.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return &record, nil
}

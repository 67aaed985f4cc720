package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stirka/internal/booking"

	"github.com/redis/go-redis/v9"
)

const flowKeyPrefix = "stirka:flow:"

// RedisFlowRepository keeps flows as JSON values that expire after ttl.
type RedisFlowRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisFlowRepository(client *redis.Client, ttl time.Duration) *RedisFlowRepository {
	return &RedisFlowRepository{client: client, ttl: ttl}
}

func flowKey(userID int64) string {
	return fmt.Sprintf("%s%d", flowKeyPrefix, userID)
}

func (r *RedisFlowRepository) Get(ctx context.Context, userID int64) (*booking.Flow, error) {
	val, err := r.client.Get(ctx, flowKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get flow: %w", err)
	}

	var flow booking.Flow
	if err := json.Unmarshal(val, &flow); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &flow, nil
}

func (r *RedisFlowRepository) Put(ctx context.Context, flow *booking.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	if err := r.client.Set(ctx, flowKey(flow.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set flow: %w", err)
	}
	return nil
}

func (r *RedisFlowRepository) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, flowKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del flow: %w", err)
	}
	return nil
}

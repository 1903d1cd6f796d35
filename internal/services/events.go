package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studyplan-backend/internal/models"
)

// eventPublisher is what the timer engine and review scheduler need to push
// state transitions toward connected devices. A nil publisher is allowed and
// drops events.
type eventPublisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// RedisEventPublisher fans events out over the per-user pub/sub channel the
// websocket hub subscribes to.
type RedisEventPublisher struct {
	redis *redis.Client
}

func NewRedisEventPublisher(redisClient *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{redis: redisClient}
}

func (p *RedisEventPublisher) PublishToUser(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event %q: %w", msg.Type, err)
	}
	return p.redis.Publish(ctx, "user_updates:"+userID.String(), data).Err()
}

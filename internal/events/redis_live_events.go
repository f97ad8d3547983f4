// Package events carries exam live events (announcements, working time
// updates, attendance checks) over Redis PubSub to the WebSocket layer.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/monitoring"
	"github.com/examhall/examhall-backend/internal/service"
)

// RedisLiveEvents publishes live events on a per-exam PubSub channel.
type RedisLiveEvents struct {
	rdb *redis.Client
}

// NewRedisLiveEvents creates a new RedisLiveEvents.
func NewRedisLiveEvents(rdb *redis.Client) *RedisLiveEvents {
	return &RedisLiveEvents{rdb: rdb}
}

// Publish sends one event to the exam's channel. Subscribers that are
// not connected simply miss the event; the current state is always
// refetchable over the REST surface.
func (e *RedisLiveEvents) Publish(ctx context.Context, event service.LiveEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal live event: %w", err)
	}
	channel := config.CacheKey.ExamLiveEventChannel(event.ExamID.String())
	if err := e.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish live event: %w", err)
	}
	monitoring.LiveEventsPublished.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// Subscribe opens a subscription on an exam's live event channel. The
// caller owns the returned PubSub and must close it.
func (e *RedisLiveEvents) Subscribe(ctx context.Context, examID string) *redis.PubSub {
	return e.rdb.Subscribe(ctx, config.CacheKey.ExamLiveEventChannel(examID))
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/config"
)

// generationLockTTL bounds how long a crashed generation run can block
// the next one.
const generationLockTTL = 5 * time.Minute

// RedisGenerationLocker serializes generation runs per exam with a
// SET NX lock.
type RedisGenerationLocker struct {
	rdb *redis.Client
}

// NewRedisGenerationLocker creates a new RedisGenerationLocker.
func NewRedisGenerationLocker(rdb *redis.Client) *RedisGenerationLocker {
	return &RedisGenerationLocker{rdb: rdb}
}

// AcquireGenerationLock takes the per-exam lock or fails with a
// conflict when another generation run is in flight.
func (l *RedisGenerationLocker) AcquireGenerationLock(ctx context.Context, examID uuid.UUID) (func(), error) {
	key := config.CacheKey.ExamGenerationLockKey(examID.String())
	ok, err := l.rdb.SetNX(ctx, key, "1", generationLockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("GENERATION_IN_PROGRESS", "exam",
			"a generation run for this exam is already in progress")
	}
	release := func() {
		if err := l.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("release generation lock failed")
		}
	}
	return release, nil
}

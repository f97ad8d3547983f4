package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/scheduler"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// RescheduleWorker drains the reschedule queue and materializes lock
// tasks in the database. A lock task holds the absolute time at which
// an exam or student exam locks; later tasks for the same target
// overwrite earlier ones, so only the newest working time change wins.
type RescheduleWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewRescheduleWorker creates a new RescheduleWorker.
func NewRescheduleWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *RescheduleWorker {
	return &RescheduleWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "reschedule_worker").Logger(),
	}
}

// Start runs the drain loop until the context is cancelled. Tasks are
// flushed in batches by size or age.
func (w *RescheduleWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RescheduleWorker started")

	buffer := make([]*scheduler.Task, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.RescheduleQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var task scheduler.Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed task")
			continue
		}

		buffer = append(buffer, &task)
	}
}

// flushSafe attempts the batch upsert, then falls back to row-by-row
// with requeue on failure.
func (w *RescheduleWorker) flushSafe(ctx context.Context, batch []*scheduler.Task) {
	if err := w.batchUpsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch upsert failed, attempting row-by-row recovery")
		w.fallbackUpsert(ctx, batch)
	}
}

func (w *RescheduleWorker) batchUpsert(ctx context.Context, batch []*scheduler.Task) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range batch {
		if _, err := tx.Exec(ctx, upsertLockTaskSQL, t.Kind, t.TargetID, t.LockAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const upsertLockTaskSQL = `
	INSERT INTO exercise_lock_tasks (target_kind, target_id, lock_at, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (target_kind, target_id)
	DO UPDATE SET lock_at = EXCLUDED.lock_at, updated_at = NOW()`

func (w *RescheduleWorker) fallbackUpsert(ctx context.Context, batch []*scheduler.Task) {
	requeueList := make([]*scheduler.Task, 0)

	for _, t := range batch {
		_, err := w.pool.Exec(ctx, upsertLockTaskSQL, t.Kind, t.TargetID, t.LockAt)
		if err != nil {
			w.log.Error().Err(err).Str("target_id", t.TargetID.String()).Msg("Upsert failed, requeueing")
			requeueList = append(requeueList, t)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *RescheduleWorker) requeue(ctx context.Context, items []*scheduler.Task) {
	pipe := w.rdb.Pipeline()
	for _, t := range items {
		data, _ := json.Marshal(t)
		pipe.RPush(ctx, config.WorkerKey.RescheduleQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue tasks to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed tasks back to Redis")
	// Avoid thrashing while the database is down.
	time.Sleep(2 * time.Second)
}

func (w *RescheduleWorker) shutdown(buffer []*scheduler.Task) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

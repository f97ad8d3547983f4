// Package scheduler hands re-arm requests for time-based triggers to
// the reschedule worker through a Redis queue.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/examhall/examhall-backend/internal/config"
)

// TargetKind distinguishes what a reschedule task re-arms.
type TargetKind string

const (
	TargetExam        TargetKind = "exam"
	TargetStudentExam TargetKind = "student_exam"
)

// Task is the queue payload. LockAt is the absolute time at which the
// target's repositories and editors should lock.
type Task struct {
	Kind     TargetKind `json:"kind"`
	TargetID uuid.UUID  `json:"target_id"`
	LockAt   time.Time  `json:"lock_at"`
}

// RedisScheduler enqueues reschedule tasks for the worker.
type RedisScheduler struct {
	rdb *redis.Client
}

// NewRedisScheduler creates a new RedisScheduler.
func NewRedisScheduler(rdb *redis.Client) *RedisScheduler {
	return &RedisScheduler{rdb: rdb}
}

// RescheduleExam re-arms the exam-wide lock trigger.
func (s *RedisScheduler) RescheduleExam(ctx context.Context, examID uuid.UUID, lockAt time.Time) error {
	return s.push(ctx, Task{Kind: TargetExam, TargetID: examID, LockAt: lockAt})
}

// RescheduleStudentExam re-arms one student's lock trigger.
func (s *RedisScheduler) RescheduleStudentExam(ctx context.Context, studentExamID uuid.UUID, lockAt time.Time) error {
	return s.push(ctx, Task{Kind: TargetStudentExam, TargetID: studentExamID, LockAt: lockAt})
}

func (s *RedisScheduler) push(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal reschedule task: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.RescheduleQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue reschedule task: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamLiveEventChannel returns the Redis PubSub channel carrying live
// events (announcements, working time updates, attendance checks) for an exam.
func (r *CacheKeyStruct) ExamLiveEventChannel(examID string) string {
	return fmt.Sprintf("exam:%s:live_events", examID)
}

// ExamGenerationLockKey returns the advisory lock key that serializes
// student exam generation per exam.
func (r *CacheKeyStruct) ExamGenerationLockKey(examID string) string {
	return fmt.Sprintf("exam:%s:generation_lock", examID)
}

// UserSessionKey returns the cache key for a user's login session.
func (r *CacheKeyStruct) UserSessionKey(userID int64) string {
	return fmt.Sprintf("login:%d", userID)
}

var CacheKey = NewCacheKeyStruct()

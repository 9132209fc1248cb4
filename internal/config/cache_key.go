package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// SubmissionStartKey returns the cache key holding the attempt's start time (unix seconds)
func (r *CacheKeyStruct) SubmissionStartKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:started_at", submissionID)
}

// SubmissionDurationKey returns the cache key holding the attempt's duration in seconds
func (r *CacheKeyStruct) SubmissionDurationKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:duration", submissionID)
}

// SubmissionRemainingKey returns the cache key of the last countdown checkpoint
func (r *CacheKeyStruct) SubmissionRemainingKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:remaining", submissionID)
}

// SubmissionDraftKey returns the cache key of the autosaved code hash (code, language)
func (r *CacheKeyStruct) SubmissionDraftKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:draft", submissionID)
}

// StudentStartLockKey returns the lock key held while a student's attempt is being created
func (r *CacheKeyStruct) StudentStartLockKey(studentID int) string {
	return fmt.Sprintf("student:%d:start_lock", studentID)
}

// MonitorChannel returns the Redis PubSub channel carrying proctoring events
func (r *CacheKeyStruct) MonitorChannel() string {
	return "exam:monitor"
}

var CacheKey = NewCacheKeyStruct()

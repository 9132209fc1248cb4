package service

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/repository"
)

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	subRepo     *repository.SubmissionRepository
	rdb         *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, subRepo *repository.SubmissionRepository, rdb *redis.Client) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo, subRepo: subRepo, rdb: rdb}
}

// MonitorStats summarises every submission by lifecycle phase.
type MonitorStats struct {
	InProgress      int   `json:"total_in_progress"`
	Viva            int   `json:"total_viva"`
	Submitted       int   `json:"total_submitted"`
	Forfeited       int   `json:"total_forfeited"`
	TotalViolations int64 `json:"total_violations"`
}

// MonitorSnapshot is the first message of a monitor stream and the payload of
// each refresh.
type MonitorSnapshot struct {
	Stats    MonitorStats             `json:"stats"`
	Attempts []repository.LiveAttempt `json:"attempts"`
}

// Snapshot gathers the open attempts and status totals concurrently.
// Status totals are best-effort; the attempt list is not.
func (s *MonitorService) Snapshot(ctx context.Context) (*MonitorSnapshot, error) {
	var (
		attempts    []repository.LiveAttempt
		counts      map[model.SubmissionStatus]int
		attemptsErr error
		countsErr   error
		wg          sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		attempts, attemptsErr = s.monitorRepo.ListOpenAttempts(ctx)
		if attemptsErr == nil {
			attemptsErr = s.monitorRepo.LiveRemaining(ctx, attempts)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		counts, countsErr = s.subRepo.CountByStatus(ctx)
	}()

	wg.Wait()

	if attemptsErr != nil {
		return nil, attemptsErr
	}

	snap := &MonitorSnapshot{Attempts: attempts}
	for _, a := range attempts {
		snap.Stats.TotalViolations += a.Violations
	}
	if countsErr == nil {
		snap.Stats.InProgress = counts[model.SubmissionInProgress]
		snap.Stats.Viva = counts[model.SubmissionViva]
		snap.Stats.Submitted = counts[model.SubmissionSubmitted] + counts[model.SubmissionGraded] + counts[model.SubmissionReleased]
		snap.Stats.Forfeited = counts[model.SubmissionForfeited]
	}
	return snap, nil
}

// Subscribe attaches to the channel every proctoring event is published on.
// The caller must Close the returned PubSub.
func (s *MonitorService) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.MonitorChannel())
}

package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
)

// LiveAttempt is one row of the monitor snapshot.
type LiveAttempt struct {
	SubmissionID     uuid.UUID              `json:"submission_id"`
	StudentID        int                    `json:"student_id"`
	StudentName      string                 `json:"student_name"`
	RegisterNumber   string                 `json:"register_number"`
	Status           model.SubmissionStatus `json:"status"`
	StartedAt        time.Time              `json:"started_at"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	Violations       int64                  `json:"violations"`
}

// MonitorRepository provides data access for the live proctoring monitor.
// It combines PostgreSQL (attempt state) and Redis (live countdown checkpoints).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListOpenAttempts returns every attempt still being taken together with its
// proctoring violation count.
func (r *MonitorRepository) ListOpenAttempts(ctx context.Context) ([]LiveAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ts.id, ts.student_id, s.name, s.register_number, ts.status, ts.started_at,
		        COALESCE(ts.remaining_seconds, ts.duration_seconds),
		        (SELECT COUNT(*) FROM proctor_events pe
		          WHERE pe.submission_id = ts.id AND pe.kind IN ('fullscreen_lost', 'forfeited'))
		 FROM test_submissions ts
		 JOIN students s ON s.id = ts.student_id
		 WHERE ts.status IN ('in_progress', 'viva')
		 ORDER BY ts.started_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []LiveAttempt{}
	for rows.Next() {
		var a LiveAttempt
		if err := rows.Scan(&a.SubmissionID, &a.StudentID, &a.StudentName, &a.RegisterNumber,
			&a.Status, &a.StartedAt, &a.RemainingSeconds, &a.Violations); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// LiveRemaining overlays the Redis checkpoints, which are fresher than the
// persisted column, onto the attempts.
func (r *MonitorRepository) LiveRemaining(ctx context.Context, attempts []LiveAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(attempts))
	for i, a := range attempts {
		cmds[i] = pipe.Get(ctx, config.CacheKey.SubmissionRemainingKey(a.SubmissionID.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return err
	}

	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			attempts[i].RemainingSeconds = n
		}
	}
	return nil
}

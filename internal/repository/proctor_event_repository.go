package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctech/ctech-exam/internal/model"
)

// ProctorEventRepository persists proctoring events, drafts and countdown
// checkpoints in bulk for the background workers.
type ProctorEventRepository struct {
	pool *pgxpool.Pool
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(pool *pgxpool.Pool) *ProctorEventRepository {
	return &ProctorEventRepository{pool: pool}
}

// CopyEvents bulk-inserts events with COPY.
func (r *ProctorEventRepository) CopyEvents(ctx context.Context, events []model.ProctorEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{e.SubmissionID, e.StudentID, string(e.Kind), e.Remaining, e.OccurredAt})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_events"},
		[]string{"submission_id", "student_id", "kind", "remaining_seconds", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertEvent inserts a single event. Used when a bulk copy fails.
func (r *ProctorEventRepository) InsertEvent(ctx context.Context, e model.ProctorEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_events (submission_id, student_id, kind, remaining_seconds, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.SubmissionID, e.StudentID, string(e.Kind), e.Remaining, e.OccurredAt,
	)
	return err
}

// ListBySubmission returns an attempt's proctoring timeline.
func (r *ProctorEventRepository) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]model.ProctorEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT submission_id, student_id, kind, remaining_seconds, occurred_at
		 FROM proctor_events
		 WHERE submission_id = $1
		 ORDER BY occurred_at`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.ProctorEvent{}
	for rows.Next() {
		var e model.ProctorEvent
		if err := rows.Scan(&e.SubmissionID, &e.StudentID, &e.Kind, &e.Remaining, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// BulkUpdateRemaining writes countdown checkpoints with one UNNEST update.
// Closed attempts keep the value they had when they closed.
func (r *ProctorEventRepository) BulkUpdateRemaining(ctx context.Context, batch []model.Checkpoint) error {
	ids := make([]uuid.UUID, 0, len(batch))
	remaining := make([]int32, 0, len(batch))
	for _, c := range batch {
		ids = append(ids, c.SubmissionID)
		remaining = append(remaining, int32(c.Remaining))
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE test_submissions AS s
		SET remaining_seconds = t.remaining
		FROM (
			SELECT DISTINCT ON (u.id) u.id, u.remaining
			FROM UNNEST($1::uuid[], $2::int[]) WITH ORDINALITY AS u (id, remaining, ord)
			ORDER BY u.id, u.ord DESC
		) AS t
		WHERE s.id = t.id
		  AND s.status = 'in_progress'`,
		ids, remaining)
	return err
}

// UpdateRemaining writes a single checkpoint.
func (r *ProctorEventRepository) UpdateRemaining(ctx context.Context, c model.Checkpoint) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE test_submissions SET remaining_seconds = $2
		 WHERE id = $1 AND status = 'in_progress'`,
		c.SubmissionID, c.Remaining)
	return err
}

// SaveDraft upserts autosaved code onto the attempt row.
func (r *ProctorEventRepository) SaveDraft(ctx context.Context, d model.Draft) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE test_submissions
		 SET draft_code = $2, draft_language = $3, draft_saved_at = $4
		 WHERE id = $1 AND status = 'in_progress'
		   AND (draft_saved_at IS NULL OR draft_saved_at <= $4)`,
		d.SubmissionID, d.Code, d.Language, d.SavedAt)
	return err
}

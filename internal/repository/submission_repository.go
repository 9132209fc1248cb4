package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctech/ctech-exam/internal/model"
)

// ErrStatusChanged is returned when a conditional status update matched no
// row because the submission is no longer in the expected status.
var ErrStatusChanged = errors.New("submission status changed concurrently")

const submissionColumns = `
	ts.id, ts.student_id, s.name, s.register_number,
	ts.coding_question_title, ts.coding_question_description, ts.coding_question_constraints,
	ts.coding_answer, ts.coding_language, ts.coding_score, ts.coding_total,
	ts.viva_question, ts.viva_answer, ts.viva_score, ts.viva_total,
	ts.duration_seconds, ts.remaining_seconds, ts.status, ts.teacher_comments,
	ts.started_at, ts.submitted_at, ts.graded_at, ts.released_at, ts.forfeited_at,
	(SELECT COUNT(*) FROM proctor_events pe
	  WHERE pe.submission_id = ts.id AND pe.kind IN ('fullscreen_lost', 'forfeited'))`

const submissionFrom = `
	FROM test_submissions ts
	JOIN students s ON s.id = ts.student_id`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var violations int64
	err := row.Scan(
		&sub.ID, &sub.StudentID, &sub.StudentName, &sub.RegisterNumber,
		&sub.QuestionTitle, &sub.QuestionDescription, &sub.QuestionConstraints,
		&sub.CodingAnswer, &sub.CodingLanguage, &sub.CodingScore, &sub.CodingTotal,
		&sub.VivaQuestion, &sub.VivaAnswer, &sub.VivaScore, &sub.VivaTotal,
		&sub.DurationSeconds, &sub.RemainingSeconds, &sub.Status, &sub.TeacherComments,
		&sub.StartedAt, &sub.SubmittedAt, &sub.GradedAt, &sub.ReleasedAt, &sub.ForfeitedAt,
		&violations,
	)
	if err != nil {
		return nil, err
	}
	sub.ProctorViolationCount = int(violations)
	return &sub, nil
}

// SubmissionRepository handles test_submissions data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Create inserts a new in-progress attempt.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_submissions (
			student_id, coding_question_title, coding_question_description, coding_question_constraints,
			coding_total, viva_total, duration_seconds, remaining_seconds, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		 RETURNING id, started_at`,
		sub.StudentID, sub.QuestionTitle, sub.QuestionDescription, sub.QuestionConstraints,
		sub.CodingTotal, sub.VivaTotal, sub.DurationSeconds, model.SubmissionInProgress,
	).Scan(&sub.ID, &sub.StartedAt)
}

// GetByID retrieves a submission with the student's name and violation count.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+submissionFrom+` WHERE ts.id = $1`, id))
}

// GetOpenByStudent returns the student's attempt that is still in progress or in viva.
func (r *SubmissionRepository) GetOpenByStudent(ctx context.Context, studentID int) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+submissionFrom+`
		 WHERE ts.student_id = $1 AND ts.status IN ('in_progress', 'viva')
		 ORDER BY ts.started_at DESC
		 LIMIT 1`, studentID))
}

// ListByStudent retrieves all attempts of a student, newest first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+submissionFrom+`
		 WHERE ts.student_id = $1
		 ORDER BY ts.started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

// List retrieves submissions for teachers ordered by submitted_at, newest first.
func (r *SubmissionRepository) List(ctx context.Context, f model.SubmissionFilter, limit, offset int) ([]model.Submission, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM test_submissions ts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + submissionColumns + submissionFrom + where +
		fmt.Sprintf(` ORDER BY ts.submitted_at DESC NULLS LAST, ts.started_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	subs, err := collectSubmissions(rows)
	return subs, total, err
}

// filterClause builds the WHERE clause shared by the listing count and page.
func filterClause(f model.SubmissionFilter) (string, []any) {
	var conds []string
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("ts.status = $%d", len(args)))
	}
	if f.StudentID > 0 {
		args = append(args, f.StudentID)
		conds = append(conds, fmt.Sprintf("ts.student_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SubmitCode stores the final code and moves the attempt into the viva phase.
func (r *SubmissionRepository) SubmitCode(ctx context.Context, id uuid.UUID, code, language string, remaining int) error {
	return r.execTransition(ctx,
		`UPDATE test_submissions
		 SET coding_answer = $2, coding_language = $3, remaining_seconds = $4, status = 'viva'
		 WHERE id = $1 AND status = 'in_progress'`,
		id, code, language, remaining)
}

// SetVivaQuestion stores the generated viva question.
func (r *SubmissionRepository) SetVivaQuestion(ctx context.Context, id uuid.UUID, question string) error {
	return r.execTransition(ctx,
		`UPDATE test_submissions SET viva_question = $2 WHERE id = $1 AND status = 'viva'`,
		id, question)
}

// SubmitViva stores the viva answer and marks the attempt submitted.
func (r *SubmissionRepository) SubmitViva(ctx context.Context, id uuid.UUID, answer string) error {
	return r.execTransition(ctx,
		`UPDATE test_submissions
		 SET viva_answer = $2, status = 'submitted', submitted_at = NOW()
		 WHERE id = $1 AND status = 'viva'`,
		id, answer)
}

// Forfeit closes an open attempt. It reports false when the attempt was not open.
func (r *SubmissionRepository) Forfeit(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_submissions
		 SET status = 'forfeited', forfeited_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'viva')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Grade records scores and comments. Graded submissions may be re-graded
// until they are released.
func (r *SubmissionRepository) Grade(ctx context.Context, id uuid.UUID, coding, viva float64, comments string) error {
	return r.execTransition(ctx,
		`UPDATE test_submissions
		 SET coding_score = $2, viva_score = $3, teacher_comments = NULLIF($4, ''),
		     status = 'graded', graded_at = NOW()
		 WHERE id = $1 AND status IN ('submitted', 'graded')`,
		id, coding, viva, comments)
}

// Release publishes a graded result to the student.
func (r *SubmissionRepository) Release(ctx context.Context, id uuid.UUID) error {
	return r.execTransition(ctx,
		`UPDATE test_submissions SET status = 'released', released_at = NOW()
		 WHERE id = $1 AND status = 'graded'`, id)
}

// GetDraft returns the last persisted autosave of an attempt.
func (r *SubmissionRepository) GetDraft(ctx context.Context, id uuid.UUID) (code, language string, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(draft_code, ''), COALESCE(draft_language, '')
		 FROM test_submissions WHERE id = $1`, id,
	).Scan(&code, &language)
	return code, language, err
}

// CountOpen returns how many attempts are currently being taken.
func (r *SubmissionRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM test_submissions WHERE status IN ('in_progress', 'viva')`,
	).Scan(&n)
	return n, err
}

// CountByStatus returns the number of submissions in each status.
func (r *SubmissionRepository) CountByStatus(ctx context.Context) (map[model.SubmissionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM test_submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SubmissionStatus]int)
	for rows.Next() {
		var status model.SubmissionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SubmissionRepository) execTransition(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

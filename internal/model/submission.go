package model

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates the lifecycle of a test attempt.
type SubmissionStatus string

const (
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionViva       SubmissionStatus = "viva"
	SubmissionSubmitted  SubmissionStatus = "submitted"
	SubmissionGraded     SubmissionStatus = "graded"
	SubmissionReleased   SubmissionStatus = "released"
	SubmissionForfeited  SubmissionStatus = "forfeited"
)

// ErrInvalidTransition is returned when a submission cannot move to a status.
var ErrInvalidTransition = errors.New("invalid submission status transition")

var transitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionInProgress: {SubmissionViva, SubmissionForfeited},
	SubmissionViva:       {SubmissionSubmitted, SubmissionForfeited},
	SubmissionSubmitted:  {SubmissionGraded},
	SubmissionGraded:     {SubmissionGraded, SubmissionReleased},
}

// CanTransition reports whether a submission in from may move to to.
// Re-grading a graded submission is allowed; released results are final.
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the attempt is still being taken.
func (s SubmissionStatus) Open() bool {
	return s == SubmissionInProgress || s == SubmissionViva
}

// Submission is one student's attempt at a coding test (table test_submissions).
type Submission struct {
	ID                    uuid.UUID        `json:"id"`
	StudentID             int              `json:"student_id"`
	StudentName           string           `json:"student_name,omitempty"`
	RegisterNumber        string           `json:"register_number,omitempty"`
	QuestionTitle         string           `json:"coding_question_title"`
	QuestionDescription   string           `json:"coding_question_description"`
	QuestionConstraints   string           `json:"coding_question_constraints"`
	CodingAnswer          *string          `json:"coding_answer"`
	CodingLanguage        *string          `json:"coding_language"`
	CodingScore           *float64         `json:"coding_score"`
	CodingTotal           int              `json:"coding_total"`
	VivaQuestion          *string          `json:"viva_question"`
	VivaAnswer            *string          `json:"viva_answer"`
	VivaScore             *float64         `json:"viva_score"`
	VivaTotal             int              `json:"viva_total"`
	DurationSeconds       int              `json:"duration_seconds"`
	RemainingSeconds      *int             `json:"remaining_seconds"`
	Status                SubmissionStatus `json:"status"`
	TeacherComments       *string          `json:"teacher_comments"`
	StartedAt             time.Time        `json:"started_at"`
	SubmittedAt           *time.Time       `json:"submitted_at"`
	GradedAt              *time.Time       `json:"graded_at"`
	ReleasedAt            *time.Time       `json:"released_at"`
	ForfeitedAt           *time.Time       `json:"forfeited_at"`
	ProctorViolationCount int              `json:"proctor_violation_count"`
}

// Result is the score view shown to students once released and to teachers.
type Result struct {
	SubmissionID    uuid.UUID        `json:"submission_id"`
	Status          SubmissionStatus `json:"status"`
	CodingScore     float64          `json:"coding_score"`
	CodingTotal     int              `json:"coding_total"`
	VivaScore       float64          `json:"viva_score"`
	VivaTotal       int              `json:"viva_total"`
	TotalScore      float64          `json:"total_score"`
	TotalPossible   int              `json:"total_possible"`
	Percentage      float64          `json:"percentage"`
	TeacherComments *string          `json:"teacher_comments"`
	SubmittedAt     *time.Time       `json:"submitted_at"`
	ReleasedAt      *time.Time       `json:"released_at"`
}

// ComputeResult totals the scores. Missing scores count as zero and the
// percentage is rounded to two decimals.
func (s *Submission) ComputeResult() Result {
	var coding, viva float64
	if s.CodingScore != nil {
		coding = *s.CodingScore
	}
	if s.VivaScore != nil {
		viva = *s.VivaScore
	}

	total := coding + viva
	possible := s.CodingTotal + s.VivaTotal
	pct := 0.0
	if possible > 0 {
		pct = math.Round(total/float64(possible)*10000) / 100
	}

	return Result{
		SubmissionID:    s.ID,
		Status:          s.Status,
		CodingScore:     coding,
		CodingTotal:     s.CodingTotal,
		VivaScore:       viva,
		VivaTotal:       s.VivaTotal,
		TotalScore:      total,
		TotalPossible:   possible,
		Percentage:      pct,
		TeacherComments: s.TeacherComments,
		SubmittedAt:     s.SubmittedAt,
		ReleasedAt:      s.ReleasedAt,
	}
}

// StartTestRequest optionally overrides the generated question's topic.
type StartTestRequest struct {
	Topic      string `json:"topic" binding:"omitempty,max=100"`
	Difficulty string `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
}

// AttemptState is what a reloading client needs to resume an attempt.
type AttemptState struct {
	Submission       *Submission `json:"submission"`
	RemainingSeconds int         `json:"remaining_seconds"`
	DraftCode        string      `json:"draft_code"`
	DraftLanguage    string      `json:"draft_language"`
}

// CompileRequest is the payload for running code through the remote compiler.
type CompileRequest struct {
	Code     string `json:"code" binding:"required,max=65536"`
	Language string `json:"language" binding:"required,max=32"`
}

// SubmitCodeRequest finishes the coding phase.
type SubmitCodeRequest struct {
	Code     string `json:"code" binding:"required,max=65536"`
	Language string `json:"language" binding:"required,language"`
}

// SubmitVivaRequest finishes the viva phase.
type SubmitVivaRequest struct {
	Answer string `json:"answer" binding:"required,max=10000"`
}

// GradeRequest is the teacher's grading payload.
type GradeRequest struct {
	CodingScore     float64 `json:"coding_score" binding:"min=0"`
	VivaScore       float64 `json:"viva_score" binding:"min=0"`
	TeacherComments string  `json:"teacher_comments" binding:"omitempty,max=5000"`
}

// SubmissionFilter narrows the teacher's submission listing.
type SubmissionFilter struct {
	Status    SubmissionStatus `form:"status" binding:"omitempty,oneof=in_progress viva submitted graded released forfeited"`
	StudentID int              `form:"student_id" binding:"omitempty,min=1"`
	Page      int              `form:"page" binding:"omitempty,min=1"`
	PerPage   int              `form:"per_page" binding:"omitempty,min=1,max=100"`
}

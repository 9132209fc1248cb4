package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/repository"
)

// ErrScoreOutOfRange is returned when a score exceeds its section total.
var ErrScoreOutOfRange = errors.New("score out of range")

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// SubmissionDetail is the teacher's view of one attempt.
type SubmissionDetail struct {
	Submission *model.Submission    `json:"submission"`
	Events     []model.ProctorEvent `json:"proctor_events"`
	Result     model.Result         `json:"result"`
}

// GradingService lets teachers review, grade and release submissions.
type GradingService struct {
	subRepo   *repository.SubmissionRepository
	eventRepo *repository.ProctorEventRepository
	log       zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(subRepo *repository.SubmissionRepository, eventRepo *repository.ProctorEventRepository, log zerolog.Logger) *GradingService {
	return &GradingService{
		subRepo:   subRepo,
		eventRepo: eventRepo,
		log:       log.With().Str("component", "grading_service").Logger(),
	}
}

// List returns a page of submissions, newest submission first. The filter's
// paging is normalized in place so callers can echo it back.
func (s *GradingService) List(ctx context.Context, f *model.SubmissionFilter) ([]model.Submission, int, error) {
	f.Page, f.PerPage = normalizePage(f.Page, f.PerPage)
	return s.subRepo.List(ctx, *f, f.PerPage, (f.Page-1)*f.PerPage)
}

// Get returns a submission with its proctoring timeline and computed result.
func (s *GradingService) Get(ctx context.Context, id uuid.UUID) (*SubmissionDetail, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}

	events, err := s.eventRepo.ListBySubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list proctor events: %w", err)
	}

	return &SubmissionDetail{Submission: sub, Events: events, Result: sub.ComputeResult()}, nil
}

// Grade scores a submitted attempt. A graded attempt may be re-graded until
// it is released.
func (s *GradingService) Grade(ctx context.Context, id uuid.UUID, req model.GradeRequest) (*SubmissionDetail, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sub := detail.Submission

	if !model.CanTransition(sub.Status, model.SubmissionGraded) {
		return nil, model.ErrInvalidTransition
	}
	if err := checkScore(req.CodingScore, sub.CodingTotal); err != nil {
		return nil, fmt.Errorf("coding: %w", err)
	}
	if err := checkScore(req.VivaScore, sub.VivaTotal); err != nil {
		return nil, fmt.Errorf("viva: %w", err)
	}

	if err := s.subRepo.Grade(ctx, id, req.CodingScore, req.VivaScore, req.TeacherComments); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, model.ErrInvalidTransition
		}
		return nil, fmt.Errorf("grade: %w", err)
	}

	s.log.Info().
		Str("submission_id", id.String()).
		Float64("coding_score", req.CodingScore).
		Float64("viva_score", req.VivaScore).
		Msg("Submission graded")

	return s.Get(ctx, id)
}

// Release makes a graded result visible to the student.
func (s *GradingService) Release(ctx context.Context, id uuid.UUID) (*SubmissionDetail, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(detail.Submission.Status, model.SubmissionReleased) {
		return nil, model.ErrInvalidTransition
	}

	if err := s.subRepo.Release(ctx, id); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, model.ErrInvalidTransition
		}
		return nil, fmt.Errorf("release: %w", err)
	}

	s.log.Info().Str("submission_id", id.String()).Msg("Result released")
	return s.Get(ctx, id)
}

func checkScore(score float64, total int) error {
	if score < 0 || score > float64(total) {
		return fmt.Errorf("%w: %.2f not in [0, %d]", ErrScoreOutOfRange, score, total)
	}
	return nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

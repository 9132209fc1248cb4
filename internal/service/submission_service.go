package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/compiler"
	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/questiongen"
	"github.com/ctech/ctech-exam/internal/repository"
)

// Submission lifecycle errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrAttemptActive     = errors.New("an attempt is already being started")
	ErrAttemptClosed     = errors.New("attempt is no longer open")
	ErrEmptyAnswer       = errors.New("answer must not be empty")
	ErrResultNotReleased = errors.New("result not released")
	ErrGenerator         = errors.New("question generation failed")
)

// QuestionGenerator produces coding and viva questions.
type QuestionGenerator interface {
	CodingQuestion(ctx context.Context, difficulty, topic string) (*questiongen.CodingQuestion, error)
	VivaQuestion(ctx context.Context, topic, code string) (string, error)
}

// RoomCloser ends live proctoring for an attempt.
type RoomCloser interface {
	CloseRoom(key string)
}

const startLockTTL = 90 * time.Second

// SubmissionService drives a student's attempt from start to result.
type SubmissionService struct {
	cfg     *config.Config
	subRepo *repository.SubmissionRepository
	rdb     *redis.Client
	gen     QuestionGenerator
	events  *EventPublisher
	rooms   RoomCloser
	clock   clockwork.Clock
	log     zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	cfg *config.Config,
	subRepo *repository.SubmissionRepository,
	rdb *redis.Client,
	gen QuestionGenerator,
	events *EventPublisher,
	rooms RoomCloser,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		cfg:     cfg,
		subRepo: subRepo,
		rdb:     rdb,
		gen:     gen,
		events:  events,
		rooms:   rooms,
		clock:   clockwork.NewRealClock(),
		log:     log.With().Str("component", "submission_service").Logger(),
	}
}

// StartTest returns the student's open attempt, or creates one with a freshly
// generated coding question. created reports whether a new attempt was made.
func (s *SubmissionService) StartTest(ctx context.Context, studentID int, req model.StartTestRequest) (sub *model.Submission, created bool, err error) {
	open, err := s.subRepo.GetOpenByStudent(ctx, studentID)
	if err == nil {
		return redact(open), false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("find open attempt: %w", err)
	}

	lockKey := config.CacheKey.StudentStartLockKey(studentID)
	locked, err := s.rdb.SetNX(ctx, lockKey, 1, startLockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire start lock: %w", err)
	}
	if !locked {
		return nil, false, ErrAttemptActive
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), lockKey)

	topic, difficulty := s.cfg.QuestionTopic, s.cfg.QuestionLevel
	if req.Topic != "" {
		topic = req.Topic
	}
	if req.Difficulty != "" {
		difficulty = req.Difficulty
	}

	q, err := s.gen.CodingQuestion(ctx, difficulty, topic)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrGenerator, err)
	}

	sub = &model.Submission{
		StudentID:           studentID,
		QuestionTitle:       q.Title,
		QuestionDescription: q.Description,
		QuestionConstraints: q.Constraints,
		CodingTotal:         s.cfg.CodingTotal,
		VivaTotal:           s.cfg.VivaTotal,
		DurationSeconds:     int(s.cfg.ExamDuration / time.Second),
		Status:              model.SubmissionInProgress,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, false, fmt.Errorf("create submission: %w", err)
	}
	remaining := sub.DurationSeconds
	sub.RemainingSeconds = &remaining

	id := sub.ID.String()
	ttl := s.liveTTL(sub)
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.SubmissionStartKey(id), sub.StartedAt.Unix(), ttl)
	pipe.Set(ctx, config.CacheKey.SubmissionDurationKey(id), sub.DurationSeconds, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// GetAttemptState falls back to PostgreSQL.
		s.log.Warn().Err(err).Str("submission_id", id).Msg("Failed to cache attempt timing")
	}

	s.log.Info().
		Int("student_id", studentID).
		Str("submission_id", id).
		Str("title", q.Title).
		Msg("Test started")

	return sub, true, nil
}

// GetAttempt returns the student's own attempt with unreleased scores hidden.
func (s *SubmissionService) GetAttempt(ctx context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	return redact(sub), nil
}

// GetAttemptState returns what a reloading client needs: remaining time from
// the attempt's start time and the last autosaved code.
func (s *SubmissionService) GetAttemptState(ctx context.Context, studentID int, id uuid.UUID) (*model.AttemptState, error) {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}

	state := &model.AttemptState{Submission: redact(sub)}
	state.RemainingSeconds, err = s.Remaining(ctx, sub)
	if err != nil {
		return nil, err
	}

	draft, err := s.rdb.HGetAll(ctx, config.CacheKey.SubmissionDraftKey(id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if code, ok := draft["code"]; ok {
		state.DraftCode, state.DraftLanguage = code, draft["language"]
	} else {
		state.DraftCode, state.DraftLanguage, err = s.subRepo.GetDraft(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get persisted draft: %w", err)
		}
	}
	return state, nil
}

// RequireInProgress returns the attempt when it belongs to the student and is
// still in the coding phase.
func (s *SubmissionService) RequireInProgress(ctx context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubmissionInProgress {
		return nil, ErrAttemptClosed
	}
	return sub, nil
}

// Remaining computes the attempt's remaining seconds. While coding it is
// derived from the cached start time and duration, falling back to the
// database and re-caching on a miss. Afterwards the persisted value is used.
func (s *SubmissionService) Remaining(ctx context.Context, sub *model.Submission) (int, error) {
	if sub.Status != model.SubmissionInProgress {
		if sub.RemainingSeconds != nil {
			return *sub.RemainingSeconds, nil
		}
		return 0, nil
	}

	id := sub.ID.String()
	startKey := config.CacheKey.SubmissionStartKey(id)
	durationKey := config.CacheKey.SubmissionDurationKey(id)

	vals, err := s.rdb.MGet(ctx, startKey, durationKey).Result()
	if err != nil {
		return 0, fmt.Errorf("get attempt timing: %w", err)
	}

	start, duration := sub.StartedAt, sub.DurationSeconds
	startStr, okStart := vals[0].(string)
	durStr, okDur := vals[1].(string)
	if okStart && okDur {
		unix, err1 := strconv.ParseInt(startStr, 10, 64)
		d, err2 := strconv.Atoi(durStr)
		if err1 == nil && err2 == nil {
			start, duration = time.Unix(unix, 0), d
		}
	} else {
		// Self-heal so the next lookup is served from Redis.
		ttl := s.liveTTL(sub)
		pipe := s.rdb.Pipeline()
		pipe.Set(ctx, startKey, sub.StartedAt.Unix(), ttl)
		pipe.Set(ctx, durationKey, sub.DurationSeconds, ttl)
		_, _ = pipe.Exec(ctx)
	}

	return remainingSeconds(start, duration, s.clock.Now()), nil
}

// remainingSeconds is duration minus the whole seconds elapsed since start,
// floored at zero.
func remainingSeconds(start time.Time, duration int, now time.Time) int {
	elapsed := int(now.Sub(start) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if r := duration - elapsed; r > 0 {
		return r
	}
	return 0
}

// Autosave caches the student's code and queues it for persistence.
func (s *SubmissionService) Autosave(ctx context.Context, id uuid.UUID, code, language string) error {
	now := s.clock.Now()
	key := config.CacheKey.SubmissionDraftKey(id.String())

	payload, err := json.Marshal(model.Draft{SubmissionID: id, Code: code, Language: language, SavedAt: now})
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "code", code, "language", language, "saved_at", now.Unix())
	pipe.Expire(ctx, key, s.cfg.ExamDuration+time.Hour)
	pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Checkpoint records the live countdown position.
func (s *SubmissionService) Checkpoint(ctx context.Context, id uuid.UUID, remaining int) error {
	payload, err := json.Marshal(model.Checkpoint{SubmissionID: id, Remaining: remaining})
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.SubmissionRemainingKey(id.String()), remaining, s.cfg.ExamDuration+time.Hour)
	pipe.RPush(ctx, config.WorkerKey.PersistCheckpointsQueue, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// SubmitCode finishes the coding phase and moves the attempt into the viva.
func (s *SubmissionService) SubmitCode(ctx context.Context, studentID int, id uuid.UUID, req model.SubmitCodeRequest) (*model.Submission, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyAnswer
	}
	if !compiler.Supported(req.Language) {
		return nil, fmt.Errorf("%w: %s", compiler.ErrUnsupportedLanguage, req.Language)
	}

	sub, err := s.RequireInProgress(ctx, studentID, id)
	if err != nil {
		return nil, err
	}

	remaining, err := s.Remaining(ctx, sub)
	if err != nil {
		return nil, err
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if err := s.subRepo.SubmitCode(ctx, id, req.Code, language, remaining); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, ErrAttemptClosed
		}
		return nil, fmt.Errorf("submit code: %w", err)
	}

	s.rooms.CloseRoom(id.String())
	s.publish(ctx, sub, model.ProctorCodeSubmitted, remaining)

	return s.GetAttempt(ctx, studentID, id)
}

// GenerateViva returns the attempt's viva question, generating and storing it
// on first use.
func (s *SubmissionService) GenerateViva(ctx context.Context, studentID int, id uuid.UUID) (string, error) {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return "", err
	}
	if sub.Status != model.SubmissionViva {
		return "", ErrAttemptClosed
	}
	if sub.VivaQuestion != nil && *sub.VivaQuestion != "" {
		return *sub.VivaQuestion, nil
	}

	code := ""
	if sub.CodingAnswer != nil {
		code = *sub.CodingAnswer
	}
	question, err := s.gen.VivaQuestion(ctx, s.cfg.VivaTopic, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerator, err)
	}

	if err := s.subRepo.SetVivaQuestion(ctx, id, question); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return "", ErrAttemptClosed
		}
		return "", fmt.Errorf("save viva question: %w", err)
	}
	return question, nil
}

// SubmitViva stores the viva answer and closes the attempt for grading.
func (s *SubmissionService) SubmitViva(ctx context.Context, studentID int, id uuid.UUID, req model.SubmitVivaRequest) (*model.Submission, error) {
	if strings.TrimSpace(req.Answer) == "" {
		return nil, ErrEmptyAnswer
	}

	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubmissionViva {
		return nil, ErrAttemptClosed
	}

	if err := s.subRepo.SubmitViva(ctx, id, req.Answer); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, ErrAttemptClosed
		}
		return nil, fmt.Errorf("submit viva: %w", err)
	}

	s.clearLive(ctx, id)
	s.publish(ctx, sub, model.ProctorVivaSubmitted, 0)

	return s.GetAttempt(ctx, studentID, id)
}

// Forfeit is the student's explicit forfeit. Forfeiting twice is a no-op.
func (s *SubmissionService) Forfeit(ctx context.Context, studentID int, id uuid.UUID) error {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return err
	}
	if sub.Status == model.SubmissionForfeited {
		return nil
	}
	if !sub.Status.Open() {
		return ErrAttemptClosed
	}

	remaining, err := s.Remaining(ctx, sub)
	if err != nil {
		return err
	}
	return s.forfeit(ctx, sub, remaining, true)
}

// ForfeitByProctor records a forfeiture decided by the fullscreen watchdog.
// The live room is left for its owner to close.
func (s *SubmissionService) ForfeitByProctor(ctx context.Context, sub *model.Submission, remaining int) error {
	return s.forfeit(ctx, sub, remaining, false)
}

func (s *SubmissionService) forfeit(ctx context.Context, sub *model.Submission, remaining int, closeRoom bool) error {
	changed, err := s.subRepo.Forfeit(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("forfeit: %w", err)
	}
	if !changed {
		return nil
	}

	if closeRoom {
		s.rooms.CloseRoom(sub.ID.String())
	}
	s.clearLive(ctx, sub.ID)
	s.publish(ctx, sub, model.ProctorForfeited, remaining)

	s.log.Info().
		Int("student_id", sub.StudentID).
		Str("submission_id", sub.ID.String()).
		Int("remaining", remaining).
		Msg("Test forfeited")
	return nil
}

// RecordEvent publishes a proctoring transition of a live attempt.
func (s *SubmissionService) RecordEvent(ctx context.Context, sub *model.Submission, kind model.ProctorEventKind, remaining int) {
	s.publish(ctx, sub, kind, remaining)
}

// ListMine lists the student's attempts, newest first, with unreleased scores hidden.
func (s *SubmissionService) ListMine(ctx context.Context, studentID int) ([]model.Submission, error) {
	subs, err := s.subRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i] = *redact(&subs[i])
	}
	return subs, nil
}

// GetResult returns the score breakdown once the teacher has released it.
func (s *SubmissionService) GetResult(ctx context.Context, studentID int, id uuid.UUID) (*model.Result, error) {
	sub, err := s.owned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubmissionReleased {
		return nil, ErrResultNotReleased
	}
	res := sub.ComputeResult()
	return &res, nil
}

func (s *SubmissionService) owned(ctx context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.StudentID != studentID {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (s *SubmissionService) publish(ctx context.Context, sub *model.Submission, kind model.ProctorEventKind, remaining int) {
	err := s.events.Publish(ctx, model.ProctorEvent{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		StudentName:  sub.StudentName,
		Kind:         kind,
		Remaining:    remaining,
		OccurredAt:   s.clock.Now(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to publish proctor event")
	}
}

// clearLive drops the Redis state of a closed attempt. The drafts and
// checkpoints already queued still reach PostgreSQL.
func (s *SubmissionService) clearLive(ctx context.Context, id uuid.UUID) {
	key := id.String()
	s.rdb.Del(ctx,
		config.CacheKey.SubmissionStartKey(key),
		config.CacheKey.SubmissionDurationKey(key),
		config.CacheKey.SubmissionRemainingKey(key),
		config.CacheKey.SubmissionDraftKey(key),
	)
}

func (s *SubmissionService) liveTTL(sub *model.Submission) time.Duration {
	return time.Duration(sub.DurationSeconds)*time.Second + time.Hour
}

// redact hides grading output from students until the result is released.
func redact(sub *model.Submission) *model.Submission {
	if sub.Status == model.SubmissionReleased {
		return sub
	}
	out := *sub
	out.CodingScore = nil
	out.VivaScore = nil
	out.TeacherComments = nil
	return &out
}

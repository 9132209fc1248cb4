package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/response"
	"github.com/ctech/ctech-exam/internal/service"
	"github.com/ctech/ctech-exam/internal/validator"
)

// Grader reviews, grades and releases submissions.
type Grader interface {
	List(ctx context.Context, f *model.SubmissionFilter) ([]model.Submission, int, error)
	Get(ctx context.Context, id uuid.UUID) (*service.SubmissionDetail, error)
	Grade(ctx context.Context, id uuid.UUID, req model.GradeRequest) (*service.SubmissionDetail, error)
	Release(ctx context.Context, id uuid.UUID) (*service.SubmissionDetail, error)
}

// TeacherHandler handles grading endpoints.
type TeacherHandler struct {
	gradingService Grader
	log            zerolog.Logger
}

// NewTeacherHandler creates a new TeacherHandler.
func NewTeacherHandler(gradingService Grader, log zerolog.Logger) *TeacherHandler {
	return &TeacherHandler{
		gradingService: gradingService,
		log:            log.With().Str("component", "teacher_handler").Logger(),
	}
}

// ListSubmissions godoc
// GET /api/v1/teacher/submissions?status=&student_id=&page=&per_page=
func (h *TeacherHandler) ListSubmissions(c *gin.Context) {
	var f model.SubmissionFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	subs, total, err := h.gradingService.List(c.Request.Context(), &f)
	if err != nil {
		h.log.Error().Err(err).Msg("List submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": subs},
		response.NewPagination(f.Page, f.PerPage, total))
}

// GetSubmission godoc
// GET /api/v1/teacher/submissions/:id
func (h *TeacherHandler) GetSubmission(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.gradingService.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Get submission failed")
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// Grade godoc
// PUT /api/v1/teacher/submissions/:id/grade
func (h *TeacherHandler) Grade(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	detail, err := h.gradingService.Grade(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err, "Grade failed")
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// Release godoc
// POST /api/v1/teacher/submissions/:id/release
func (h *TeacherHandler) Release(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.gradingService.Release(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Release failed")
		return
	}

	response.Success(c, http.StatusOK, detail)
}

func (h *TeacherHandler) fail(c *gin.Context, err error, msg string) {
	if status := failSubmission(c, err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
}

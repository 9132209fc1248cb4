package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/compiler"
	"github.com/ctech/ctech-exam/internal/middleware"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/response"
	"github.com/ctech/ctech-exam/internal/service"
	"github.com/ctech/ctech-exam/internal/validator"
)

// StudentHandler handles the student's side of a test attempt.
type StudentHandler struct {
	subService *service.SubmissionService
	log        zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(subService *service.SubmissionService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		subService: subService,
		log:        log.With().Str("component", "student_handler").Logger(),
	}
}

// ListSubmissions godoc
// GET /api/v1/student/submissions
// Dashboard listing. Scores stay hidden until released.
func (h *StudentHandler) ListSubmissions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	subs, err := h.subService.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("List submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submissions": subs})
}

// StartTest godoc
// POST /api/v1/student/tests
// Generates a coding question and opens an attempt. Returns the open attempt
// instead when the student already has one.
func (h *StudentHandler) StartTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartTestRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sub, created, err := h.subService.StartTest(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.failLogged(c, err, "Start test failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"submission": sub})
}

// GetState godoc
// GET /api/v1/student/tests/:id/state
// Covers page reloads: remaining time and the last autosaved code.
func (h *StudentHandler) GetState(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	state, err := h.subService.GetAttemptState(c.Request.Context(), claims.UserID, id)
	if err != nil {
		h.failLogged(c, err, "Get attempt state failed")
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SubmitCode godoc
// POST /api/v1/student/tests/:id/submit-code
func (h *StudentHandler) SubmitCode(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	var req model.SubmitCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.subService.SubmitCode(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		h.failLogged(c, err, "Submit code failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// GenerateViva godoc
// POST /api/v1/student/tests/:id/viva
// Returns the viva question, generating it from the submitted code on first call.
func (h *StudentHandler) GenerateViva(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	question, err := h.subService.GenerateViva(c.Request.Context(), claims.UserID, id)
	if err != nil {
		h.failLogged(c, err, "Generate viva failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"viva_question": question})
}

// SubmitViva godoc
// POST /api/v1/student/tests/:id/viva/answer
func (h *StudentHandler) SubmitViva(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	var req model.SubmitVivaRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.subService.SubmitViva(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		h.failLogged(c, err, "Submit viva failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// Forfeit godoc
// POST /api/v1/student/tests/:id/forfeit
func (h *StudentHandler) Forfeit(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	if err := h.subService.Forfeit(c.Request.Context(), claims.UserID, id); err != nil {
		h.failLogged(c, err, "Forfeit failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": model.SubmissionForfeited})
}

// GetResult godoc
// GET /api/v1/student/tests/:id/result
func (h *StudentHandler) GetResult(c *gin.Context) {
	claims, id, ok := claimsAndID(c)
	if !ok {
		return
	}

	result, err := h.subService.GetResult(c.Request.Context(), claims.UserID, id)
	if err != nil {
		failSubmission(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *StudentHandler) failLogged(c *gin.Context, err error, msg string) {
	if status := failSubmission(c, err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
}

// claimsAndID extracts the caller and the :id path parameter, writing the
// error response itself when either is missing.
func claimsAndID(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, id, true
}

// failSubmission maps submission lifecycle errors to responses and returns
// the status written.
func failSubmission(c *gin.Context, err error) int {
	status, code := http.StatusInternalServerError, response.ErrInternal

	switch {
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrAttemptActive):
		status, code = http.StatusConflict, response.ErrAttemptActive
	case errors.Is(err, service.ErrAttemptClosed):
		status, code = http.StatusConflict, response.ErrAttemptClosed
	case errors.Is(err, model.ErrInvalidTransition):
		status, code = http.StatusConflict, response.ErrInvalidStatus
	case errors.Is(err, service.ErrEmptyAnswer):
		status, code = http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrScoreOutOfRange):
		status, code = http.StatusBadRequest, response.ErrScoreOutOfRange
	case errors.Is(err, compiler.ErrUnsupportedLanguage):
		status, code = http.StatusBadRequest, response.ErrUnsupportedLanguage
	case errors.Is(err, service.ErrResultNotReleased):
		status, code = http.StatusForbidden, response.ErrResultNotReleased
	case errors.Is(err, service.ErrGenerator):
		status, code = http.StatusBadGateway, response.ErrGeneratorUnavailable
	}

	response.Fail(c, status, code)
	return status
}

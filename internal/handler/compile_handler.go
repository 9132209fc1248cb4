package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/compiler"
	"github.com/ctech/ctech-exam/internal/middleware"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/response"
	"github.com/ctech/ctech-exam/internal/validator"
)

// Executor runs code on the remote compiler.
type Executor interface {
	Execute(ctx context.Context, req compiler.Request) (*compiler.Result, error)
}

// AttemptChecker confirms a student may still act on an attempt.
type AttemptChecker interface {
	RequireInProgress(ctx context.Context, studentID int, id uuid.UUID) (*model.Submission, error)
}

// CompileHandler proxies code execution for in-progress attempts.
type CompileHandler struct {
	executor Executor
	attempts AttemptChecker
	log      zerolog.Logger
}

func NewCompileHandler(executor Executor, attempts AttemptChecker, log zerolog.Logger) *CompileHandler {
	return &CompileHandler{
		executor: executor,
		attempts: attempts,
		log:      log.With().Str("component", "compile_handler").Logger(),
	}
}

// Compile godoc
// POST /api/v1/student/tests/:id/compile
// Runs the student's code and returns the compiler's output and error verbatim.
func (h *CompileHandler) Compile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.CompileRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if !compiler.Supported(req.Language) {
		response.FailWithMessage(c, http.StatusBadRequest, response.ErrUnsupportedLanguage,
			fmt.Sprintf("Language %s not supported", req.Language))
		return
	}

	if _, err := h.attempts.RequireInProgress(c.Request.Context(), claims.UserID, id); err != nil {
		failSubmission(c, err)
		return
	}

	res, err := h.executor.Execute(c.Request.Context(), compiler.Request{Code: req.Code, Language: req.Language})
	if err != nil {
		if errors.Is(err, compiler.ErrUnsupportedLanguage) {
			response.FailWithMessage(c, http.StatusBadRequest, response.ErrUnsupportedLanguage,
				fmt.Sprintf("Language %s not supported", req.Language))
			return
		}
		h.log.Error().Err(err).Str("submission_id", id.String()).Msg("Compile failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrCompilerUnavailable)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// Languages godoc
// GET /api/v1/public/languages
func (h *CompileHandler) Languages(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"languages": compiler.Languages()})
}

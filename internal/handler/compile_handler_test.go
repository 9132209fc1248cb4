package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fakeExecutor struct {
	calls  int
	result *compiler.Result
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ compiler.Request) (*compiler.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeAttempts struct {
	err error
}

func (f fakeAttempts) RequireInProgress(_ context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Submission{ID: id, StudentID: studentID, Status: model.SubmissionInProgress}, nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestCompileHandler_Compile(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name        string
		path        string
		body        string
		executor    *fakeExecutor
		attempts    fakeAttempts
		wantStatus  int
		wantCode    response.ErrCode
		wantMessage string
		wantCalls   int
	}{
		{
			name:       "runs code",
			path:       id.String(),
			body:       `{"code":"print(1)","language":"python"}`,
			executor:   &fakeExecutor{result: &compiler.Result{Output: "1\n"}},
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:        "unsupported language never reaches the compiler",
			path:        id.String(),
			body:        `{"code":"puts 1","language":"ruby"}`,
			executor:    &fakeExecutor{},
			wantStatus:  http.StatusBadRequest,
			wantCode:    response.ErrUnsupportedLanguage,
			wantMessage: "Language ruby not supported",
		},
		{
			name:       "missing code",
			path:       id.String(),
			body:       `{"language":"python"}`,
			executor:   &fakeExecutor{},
			wantStatus: http.StatusBadRequest,
			wantCode:   response.ErrValidation,
		},
		{
			name:       "bad id",
			path:       "not-a-uuid",
			body:       `{"code":"x","language":"python"}`,
			executor:   &fakeExecutor{},
			wantStatus: http.StatusBadRequest,
			wantCode:   response.ErrInvalidID,
		},
		{
			name:       "closed attempt",
			path:       id.String(),
			body:       `{"code":"x","language":"python"}`,
			executor:   &fakeExecutor{},
			attempts:   fakeAttempts{err: service.ErrAttemptClosed},
			wantStatus: http.StatusConflict,
			wantCode:   response.ErrAttemptClosed,
		},
		{
			name:       "upstream failure",
			path:       id.String(),
			body:       `{"code":"x","language":"java"}`,
			executor:   &fakeExecutor{err: errors.New("dial tcp: timeout")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   response.ErrCompilerUnavailable,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCompileHandler(tt.executor, tt.attempts, zerolog.Nop())

			r := gin.New()
			r.POST("/tests/:id/compile", func(c *gin.Context) {
				c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 3})
			}, h.Compile)

			req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/tests/%s/compile", tt.path), strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.executor.calls != tt.wantCalls {
				t.Errorf("executor calls = %d, want %d", tt.executor.calls, tt.wantCalls)
			}

			body := decode(t, w)
			if tt.wantCode == "" {
				if body.Error != nil {
					t.Errorf("unexpected error %+v", body.Error)
				}
				return
			}
			if body.Error == nil || body.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want code %s", body.Error, tt.wantCode)
			}
			if tt.wantMessage != "" && body.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.wantMessage)
			}
		})
	}
}

func TestFailSubmission(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("start: %w", service.ErrAttemptActive), http.StatusConflict},
		{model.ErrInvalidTransition, http.StatusConflict},
		{service.ErrEmptyAnswer, http.StatusBadRequest},
		{service.ErrResultNotReleased, http.StatusForbidden},
		{service.ErrGenerator, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if got := failSubmission(c, tt.err); got != tt.want || w.Code != tt.want {
				t.Errorf("failSubmission() = %d (recorded %d), want %d", got, w.Code, tt.want)
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	h := NewCompileHandler(&fakeExecutor{}, fakeAttempts{}, zerolog.Nop())
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/languages", nil)

	h.Languages(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"python"`) {
		t.Errorf("body %s does not list python", w.Body.String())
	}
}

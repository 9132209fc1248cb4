package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/handler"
	"github.com/ctech/ctech-exam/internal/middleware"
	"github.com/ctech/ctech-exam/internal/response"
	"github.com/ctech/ctech-exam/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Student     *handler.StudentHandler
	StudentMgmt *handler.StudentManagementHandler
	Teacher     *handler.TeacherHandler
	Compile     *handler.CompileHandler
	WS          *handler.WSHandler
	Monitor     *handler.MonitorHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	publicAPI := router.Group("/api/v1/public")
	{
		// The language table only changes with a deploy.
		publicAPI.GET("/languages", middleware.CacheControl(3600), handlers.Compile.Languages)
	}

	// Rate limiter for login routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", authLimiter.Middleware(), handlers.Auth.StudentLogin)
		auth.POST("/teacher/login", authLimiter.Middleware(), handlers.Auth.TeacherLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireAnyJWT(authService), middleware.CheckSingleDeviceSession(authService), handlers.Auth.Me)
	}

	// Remote compiler calls are metered per student.
	compileLimiter := middleware.NewRateLimiter(cfg.CompileRatePerMin, time.Minute)

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/submissions", handlers.Student.ListSubmissions)
		studentAPI.POST("/tests", handlers.Student.StartTest)
		studentAPI.GET("/tests/:id/state", handlers.Student.GetState)
		studentAPI.POST("/tests/:id/compile", compileLimiter.PerUser(), handlers.Compile.Compile)
		studentAPI.POST("/tests/:id/submit-code", handlers.Student.SubmitCode)
		studentAPI.POST("/tests/:id/viva", handlers.Student.GenerateViva)
		studentAPI.POST("/tests/:id/viva/answer", handlers.Student.SubmitViva)
		studentAPI.POST("/tests/:id/forfeit", handlers.Student.Forfeit)
		studentAPI.GET("/tests/:id/result", handlers.Student.GetResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/tests/:id/proctor", handlers.WS.ProctorStream)
	}

	// ─── 4. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService), middleware.NoStore())
	{
		// Grading
		teacherAPI.GET("/submissions", handlers.Teacher.ListSubmissions)
		teacherAPI.GET("/submissions/:id", handlers.Teacher.GetSubmission)
		teacherAPI.PUT("/submissions/:id/grade", handlers.Teacher.Grade)
		teacherAPI.POST("/submissions/:id/release", handlers.Teacher.Release)

		// Student accounts
		teacherAPI.POST("/students", handlers.StudentMgmt.CreateStudent)
		teacherAPI.POST("/students/:id/reset-session", handlers.StudentMgmt.ResetStudentSession)

		// Live monitoring
		teacherAPI.GET("/monitor", handlers.Monitor.MonitorSSE)
		teacherAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}

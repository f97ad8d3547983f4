package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/handler"
	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/monitoring"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Exam        *handler.ExamHandler
	StudentExam *handler.StudentExamHandler
	Conduction  *handler.ConductionHandler
	Assessment  *handler.AssessmentHandler
	WS          *handler.WSHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	authz *service.Authorizer,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Prometheus request metrics for every route.
	router.Use(monitoring.MetricsMiddleware())
	router.GET("/metrics", monitoring.PrometheusHandler())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Course-scoped API (JWT + course role) ──────────────────────
	course := router.Group("/api/v1/courses/:course_id")
	course.Use(middleware.RequireJWT(authService))

	// Student surface: own student exam, conduction start and submit,
	// test exam self-service.
	student := course.Group("")
	student.Use(middleware.RequireCourseRole(authz, model.RoleStudent))
	{
		student.GET("/student-exams/:student_exam_id", handlers.Conduction.GetOwn)
		student.POST("/student-exams/:student_exam_id/conduction/start", handlers.Conduction.Start)
		student.POST("/student-exams/:student_exam_id/conduction/submit", handlers.Conduction.Submit)
		student.POST("/exams/:exam_id/student-exams/self-service", handlers.StudentExam.CreateForTestExam)
	}

	// Tutor surface: assessment lock arbitration.
	tutor := course.Group("")
	tutor.Use(middleware.RequireCourseRole(authz, model.RoleTutor))
	{
		tutor.POST("/submissions/:submission_id/assessment", handlers.Assessment.Acquire)
		tutor.DELETE("/submissions/:submission_id/assessment", handlers.Assessment.Cancel)
		tutor.PUT("/results/:result_id/assessment", handlers.Assessment.Save)
	}

	// Instructor surface: generation, working time, live conduction
	// control and the suspicious-session analysis.
	instructor := course.Group("")
	instructor.Use(middleware.RequireCourseRole(authz, model.RoleInstructor))
	{
		instructor.GET("/exams/:exam_id/student-exams", handlers.StudentExam.List)
		instructor.POST("/exams/:exam_id/student-exams/generate", handlers.Exam.GenerateStudentExams)
		instructor.POST("/exams/:exam_id/student-exams/generate-missing", handlers.Exam.GenerateMissingStudentExams)
		instructor.PATCH("/exams/:exam_id/working-time", handlers.Exam.UpdateWorkingTime)
		instructor.POST("/exams/:exam_id/announcements", handlers.Exam.Announce)
		instructor.POST("/exams/:exam_id/suspicious-sessions", handlers.Exam.AnalyzeSuspiciousSessions)
		instructor.POST("/exams/:exam_id/test-run", handlers.StudentExam.CreateTestRun)

		instructor.PATCH("/student-exams/:student_exam_id/working-time", handlers.StudentExam.UpdateWorkingTime)
		instructor.PATCH("/student-exams/:student_exam_id/submitted", handlers.StudentExam.ToggleSubmitted)
		instructor.POST("/student-exams/:student_exam_id/attendance-check", handlers.StudentExam.AttendanceCheck)

		instructor.DELETE("/results/:result_id", handlers.Assessment.Delete)
	}

	// ─── 3. WebSocket Group (WS Auth via query token) ──────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/student-exams/:student_exam_id/live", handlers.WS.LiveEventStream)
	}

	// ─── 4. System Group (JWT) ─────────────────────────────────────────
	system := router.Group("/api/v1/system")
	system.Use(middleware.RequireJWT(authService))
	{
		system.GET("/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}

package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/handler"
	"github.com/examily/examily-backend/internal/logger"
	"github.com/examily/examily-backend/internal/middleware"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Exam      *handler.ExamHandler
	Student   *handler.StudentHandler
	Dashboard *handler.DashboardHandler
	WS        *handler.WSHandler
	Monitor   *handler.MonitorHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(log))

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID, "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(rdb, "auth", 30, time.Minute, log)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/register", authLimiter.Middleware(), handlers.Auth.Register)
		auth.POST("/login", authLimiter.Middleware(), handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Teacher Group (JWT + Role) ─────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleTeacher),
	)
	{
		teacherAPI.GET("/dashboard", handlers.Dashboard.GetTeacherDashboard)

		teacherAPI.GET("/exams", handlers.Exam.ListExams)
		teacherAPI.POST("/exams", handlers.Exam.CreateExam)
		teacherAPI.GET("/exams/:id", handlers.Exam.GetExam)
		teacherAPI.PUT("/exams/:id", handlers.Exam.UpdateExam)
		teacherAPI.DELETE("/exams/:id", handlers.Exam.DeleteExam)
		teacherAPI.GET("/exams/:id/attempts", handlers.Exam.ListAttempts)
		teacherAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)

		teacherAPI.GET("/attempts/:attempt_id", handlers.Exam.GetAttempt)
	}

	// ─── 3. Student Group (JWT + Role, never cached) ───────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleStudent),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/courses/:course_code/exams", handlers.Student.ListCourseExams)
		studentAPI.GET("/attempts", handlers.Dashboard.GetStudentAttempts)
		studentAPI.GET("/attempts/:attempt_id", handlers.Student.GetResult)
		studentAPI.POST("/exams/:exam_id/attempt", handlers.Student.OpenAttempt)
		studentAPI.PUT("/exams/:exam_id/answers", handlers.Student.SaveAnswers)
		studentAPI.POST("/exams/:exam_id/submit", handlers.Student.SubmitAttempt)
	}

	// ─── 4. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	return router
}

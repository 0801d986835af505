package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examily/examily-backend/internal/middleware"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
)

// DashboardHandler handles dashboard endpoints.
type DashboardHandler struct {
	dashboardService *service.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetTeacherDashboard godoc
// GET /api/v1/teacher/dashboard
// Returns exam and attempt counts, the average score and recent attempts.
func (h *DashboardHandler) GetTeacherDashboard(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	data, err := h.dashboardService.GetTeacherDashboard(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, data)
}

// GetStudentAttempts godoc
// GET /api/v1/student/attempts
// Returns the student's attempts split into in-progress and completed.
func (h *DashboardHandler) GetStudentAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	data, err := h.dashboardService.GetStudentDashboard(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, data)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/examily/examily-backend/internal/middleware"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/validator"
)

// ExamHandler handles exam authoring endpoints for teachers.
type ExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, attemptService *service.AttemptService) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

// ListExams godoc
// GET /api/v1/teacher/exams?q=&page=&per_page=
// Lists the teacher's own exams, optionally filtered by title or course code.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.examService.ListByAuthor(c.Request.Context(), claims.UserID, c.Query("q"), page, perPage)
	if err != nil {
		failWith(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/teacher/exams
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/teacher/exams/:id
// Returns the full exam, correct answers included, for preview.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.GetForAuthor(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	stats, err := h.examService.GetStats(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam, "stats": stats})
}

// UpdateExam godoc
// PUT /api/v1/teacher/exams/:id
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req model.ExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), claims.UserID, examID, &req)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// DeleteExam godoc
// DELETE /api/v1/teacher/exams/:id
// Refused once any student has opened the exam.
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), claims.UserID, examID); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// ListAttempts godoc
// GET /api/v1/teacher/exams/:id/attempts?page=&per_page=
func (h *ExamHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	attempts, pagination, err := h.attemptService.ListExamAttempts(c.Request.Context(), claims.UserID, examID, page, perPage)
	if err != nil {
		failWith(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}

// GetAttempt godoc
// GET /api/v1/teacher/attempts/:attempt_id
// Returns the breakdown of an attempt at one of the teacher's exams.
func (h *ExamHandler) GetAttempt(c *gin.Context) {
	sess, ok := sessionOf(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), sess, attemptID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/validator"
)

// StudentHandler handles the exam-taking endpoints for students.
type StudentHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(examService *service.ExamService, attemptService *service.AttemptService) *StudentHandler {
	return &StudentHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

// ListCourseExams godoc
// GET /api/v1/student/courses/:course_code/exams
func (h *StudentHandler) ListCourseExams(c *gin.Context) {
	exams, err := h.examService.ListByCourseCode(c.Request.Context(), c.Param("course_code"))
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// OpenAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempt
// Starts the attempt on first call and resumes it afterwards.
func (h *StudentHandler) OpenAttempt(c *gin.Context) {
	sess, ok := sessionOf(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	opened, err := h.attemptService.Open(c.Request.Context(), sess, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, opened)
}

// SaveAnswers godoc
// PUT /api/v1/student/exams/:exam_id/answers
// Saves a draft of the given answers. Other answers are kept.
func (h *StudentHandler) SaveAnswers(c *gin.Context) {
	sess, ok := sessionOf(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attemptService.SaveAnswers(c.Request.Context(), sess, examID, req.Answers)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": view})
}

// SubmitAttempt godoc
// POST /api/v1/student/exams/:exam_id/submit
// Grades and completes the attempt. Repeating the call returns the same result.
func (h *StudentHandler) SubmitAttempt(c *gin.Context) {
	sess, ok := sessionOf(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), sess, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id
func (h *StudentHandler) GetResult(c *gin.Context) {
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

package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is an exam authored by a teacher. Questions are kept in display order.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	CourseCode       string     `json:"course_code"`
	Questions        []Question `json:"questions"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	CreatedBy        uuid.UUID  `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TimeLimit returns the exam's time limit as a duration.
func (e *Exam) TimeLimit() time.Duration {
	return time.Duration(e.TimeLimitMinutes) * time.Minute
}

// QuestionIndex returns the position of the question with the given id, or -1.
func (e *Exam) QuestionIndex(questionID string) int {
	for i := range e.Questions {
		if e.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// TotalPoints sums the points of every question.
func (e *Exam) TotalPoints() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

// ExamSummary is the list view of an exam.
type ExamSummary struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	CourseCode       string    `json:"course_code"`
	QuestionCount    int       `json:"question_count"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Summary returns the list view of the exam.
func (e *Exam) Summary() ExamSummary {
	return ExamSummary{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		CourseCode:       e.CourseCode,
		QuestionCount:    len(e.Questions),
		TimeLimitMinutes: e.TimeLimitMinutes,
		CreatedBy:        e.CreatedBy,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// ExamPaper is the student-facing exam payload (no correct answers).
type ExamPaper struct {
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	CourseCode       string               `json:"course_code"`
	TimeLimitMinutes int                  `json:"time_limit_minutes"`
	Questions        []QuestionForStudent `json:"questions"`
}

// Paper builds the student-facing payload.
func (e *Exam) Paper() ExamPaper {
	qs := make([]QuestionForStudent, 0, len(e.Questions))
	for _, q := range e.Questions {
		qs = append(qs, q.ForStudent())
	}
	return ExamPaper{
		ExamID:           e.ID,
		Title:            e.Title,
		Description:      e.Description,
		CourseCode:       e.CourseCode,
		TimeLimitMinutes: e.TimeLimitMinutes,
		Questions:        qs,
	}
}

// ExamRequest is the payload for creating or updating an exam.
type ExamRequest struct {
	Title            string            `json:"title" yaml:"title" binding:"required,min=3,max=255"`
	Description      string            `json:"description" yaml:"description" binding:"required,min=10,max=4000"`
	CourseCode       string            `json:"course_code" yaml:"course_code" binding:"required,min=4,max=32,course_code"`
	TimeLimitMinutes int               `json:"time_limit_minutes" yaml:"time_limit_minutes" binding:"required,min=5,max=180"`
	Questions        []QuestionRequest `json:"questions" yaml:"questions" binding:"required,min=1,dive"`
}

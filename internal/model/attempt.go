package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamAttempt represents one student's attempt at one exam.
// Once Completed is true, Answers, SubmittedAt and Score are frozen.
type ExamAttempt struct {
	ID          uuid.UUID  `json:"id"`
	ExamID      uuid.UUID  `json:"exam_id"`
	StudentID   uuid.UUID  `json:"student_id"`
	Answers     Answers    `json:"answers"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	Score       *int       `json:"score,omitempty"`
	Completed   bool       `json:"completed"`
}

// Clone returns a copy whose answers map can be mutated independently.
func (a *ExamAttempt) Clone() *ExamAttempt {
	cp := *a
	cp.Answers = a.Answers.Clone()
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		cp.SubmittedAt = &t
	}
	if a.Score != nil {
		s := *a.Score
		cp.Score = &s
	}
	return &cp
}

// Duration returns how long the attempt took, or zero if not submitted.
func (a *ExamAttempt) Duration() time.Duration {
	if a.SubmittedAt == nil {
		return 0
	}
	return a.SubmittedAt.Sub(a.StartedAt)
}

// AttemptSummary is an attempt joined with its exam title, used in dashboards.
type AttemptSummary struct {
	ID          uuid.UUID  `json:"id"`
	ExamID      uuid.UUID  `json:"exam_id"`
	ExamTitle   string     `json:"exam_title"`
	CourseCode  string     `json:"course_code"`
	StudentID   uuid.UUID  `json:"student_id"`
	StudentName string     `json:"student_name,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	Score       *int       `json:"score,omitempty"`
	Completed   bool       `json:"completed"`
}

// SaveAnswersRequest is the payload for an autosave over HTTP.
type SaveAnswersRequest struct {
	Answers Answers `json:"answers" binding:"required"`
}

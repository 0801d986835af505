package model

import "github.com/google/uuid"

// TeacherDashboard aggregates a teacher's exams and their attempts.
type TeacherDashboard struct {
	ExamCount      int              `json:"exam_count"`
	AttemptCount   int              `json:"attempt_count"`
	CompletedCount int              `json:"completed_count"`
	AverageScore   *float64         `json:"average_score"`
	RecentAttempts []AttemptSummary `json:"recent_attempts"`
}

// ExamStats summarises the attempts of a single exam.
type ExamStats struct {
	ExamID         uuid.UUID `json:"exam_id"`
	AttemptCount   int       `json:"attempt_count"`
	CompletedCount int       `json:"completed_count"`
	AverageScore   *float64  `json:"average_score"`
	HighestScore   *int      `json:"highest_score"`
	LowestScore    *int      `json:"lowest_score"`
}

// StudentDashboard splits a student's attempts by status.
type StudentDashboard struct {
	InProgress   []AttemptSummary `json:"in_progress"`
	Completed    []AttemptSummary `json:"completed"`
	AverageScore *float64         `json:"average_score"`
}

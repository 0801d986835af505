package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
)

const recentAttemptsLimit = 10

// DashboardService builds the teacher and student dashboards.
type DashboardService struct {
	attemptRepo *repository.AttemptRepository
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(attemptRepo *repository.AttemptRepository) *DashboardService {
	return &DashboardService{attemptRepo: attemptRepo}
}

// GetTeacherDashboard returns the headline numbers over a teacher's exams.
func (s *DashboardService) GetTeacherDashboard(ctx context.Context, authorID uuid.UUID) (*model.TeacherDashboard, error) {
	exams, attempts, completed, avg, err := s.attemptRepo.GetTeacherCounts(ctx, authorID)
	if err != nil {
		return nil, err
	}

	recent, err := s.attemptRepo.ListRecentByAuthor(ctx, authorID, recentAttemptsLimit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []model.AttemptSummary{}
	}

	return &model.TeacherDashboard{
		ExamCount:      exams,
		AttemptCount:   attempts,
		CompletedCount: completed,
		AverageScore:   avg,
		RecentAttempts: recent,
	}, nil
}

// GetStudentDashboard splits a student's attempts into in-progress and completed.
func (s *DashboardService) GetStudentDashboard(ctx context.Context, studentID uuid.UUID) (*model.StudentDashboard, error) {
	attempts, err := s.attemptRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return SplitAttempts(attempts), nil
}

// SplitAttempts groups attempts by status and averages completed scores.
func SplitAttempts(attempts []model.AttemptSummary) *model.StudentDashboard {
	d := &model.StudentDashboard{
		InProgress: []model.AttemptSummary{},
		Completed:  []model.AttemptSummary{},
	}

	var sum, n int
	for _, a := range attempts {
		if !a.Completed {
			d.InProgress = append(d.InProgress, a)
			continue
		}
		d.Completed = append(d.Completed, a)
		if a.Score != nil {
			sum += *a.Score
			n++
		}
	}
	if n > 0 {
		avg := float64(sum) / float64(n)
		d.AverageScore = &avg
	}
	return d
}

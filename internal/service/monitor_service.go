package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/store"
)

const monitorConcurrency = 16

// ProgressSnapshot is the state of every attempt of an exam at one moment.
type ProgressSnapshot struct {
	ExamID          uuid.UUID                    `json:"exam_id"`
	Title           string                       `json:"title"`
	TotalQuestions  int                          `json:"total_questions"`
	TotalJoined     int                          `json:"total_joined"`
	TotalInProgress int                          `json:"total_in_progress"`
	TotalCompleted  int                          `json:"total_completed"`
	Attempts        []repository.AttemptProgress `json:"attempts"`
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	attempts    *store.AttemptStore
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, attempts *store.AttemptStore, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		attempts:    attempts,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// GetProgress reads persisted progress and overlays answers still waiting
// in the autosave buffer.
func (s *MonitorService) GetProgress(ctx context.Context, exam *model.Exam) (*ProgressSnapshot, error) {
	progress, err := s.monitorRepo.GetProgress(ctx, exam.ID)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)
	for i := range progress {
		if progress[i].Completed {
			continue
		}
		p := &progress[i]
		g.Go(func() error {
			answers, ok, err := s.attempts.BufferedAnswers(gctx, p.AttemptID)
			if err != nil {
				// Buffer is best-effort here; fall back to the stored count.
				s.log.Warn().Err(err).Str("attempt_id", p.AttemptID.String()).Msg("Failed to read buffered answers")
				return nil
			}
			if ok {
				p.AnsweredCount = store.CountAnswered(answers)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &ProgressSnapshot{
		ExamID:         exam.ID,
		Title:          exam.Title,
		TotalQuestions: len(exam.Questions),
		TotalJoined:    len(progress),
		Attempts:       progress,
	}
	if snap.Attempts == nil {
		snap.Attempts = []repository.AttemptProgress{}
	}
	for _, p := range progress {
		if p.Completed {
			snap.TotalCompleted++
		} else {
			snap.TotalInProgress++
		}
	}
	return snap, nil
}

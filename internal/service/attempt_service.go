package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/scoring"
	"github.com/examily/examily-backend/internal/store"
)

// ErrResultNotReady is returned when a student asks for the result of an
// attempt that is still in progress.
var ErrResultNotReady = errors.New("attempt is still in progress")

// OpenedAttempt is returned when a student opens an exam.
type OpenedAttempt struct {
	Paper   model.ExamPaper `json:"exam"`
	Attempt attempt.View    `json:"attempt"`
	Result  *attempt.Result `json:"result,omitempty"`
}

// ResultItem is the per-question part of an AttemptResult.
type ResultItem struct {
	QuestionID    string             `json:"question_id"`
	Type          model.QuestionType `json:"type"`
	Text          string             `json:"text"`
	Points        float64            `json:"points"`
	Earned        float64            `json:"earned"`
	Outcome       scoring.Outcome    `json:"outcome"`
	AutoGraded    bool               `json:"auto_graded"`
	StudentAnswer *model.Answer      `json:"student_answer"`
	CorrectAnswer *model.Answer      `json:"correct_answer,omitempty"`
}

// AttemptResult is an attempt with its per-question breakdown.
type AttemptResult struct {
	AttemptID       uuid.UUID    `json:"attempt_id"`
	ExamID          uuid.UUID    `json:"exam_id"`
	ExamTitle       string       `json:"exam_title"`
	CourseCode      string       `json:"course_code"`
	StudentID       uuid.UUID    `json:"student_id"`
	Completed       bool         `json:"completed"`
	StartedAt       time.Time    `json:"started_at"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	DurationSeconds int64        `json:"duration_seconds"`
	Score           *int         `json:"score"`
	EarnedPoints    float64      `json:"earned_points"`
	TotalPoints     float64      `json:"total_points"`
	Items           []ResultItem `json:"items"`
}

// BuildResult grades a against exam and assembles the breakdown. The stored
// score of a completed attempt is reported as is.
func BuildResult(exam *model.Exam, a *model.ExamAttempt) *AttemptResult {
	report := scoring.Grade(exam.Questions, a.Answers)

	res := &AttemptResult{
		AttemptID:       a.ID,
		ExamID:          exam.ID,
		ExamTitle:       exam.Title,
		CourseCode:      exam.CourseCode,
		StudentID:       a.StudentID,
		Completed:       a.Completed,
		StartedAt:       a.StartedAt,
		SubmittedAt:     a.SubmittedAt,
		DurationSeconds: int64(a.Duration() / time.Second),
		Score:           a.Score,
		EarnedPoints:    report.EarnedPoints,
		TotalPoints:     report.TotalPoints,
		Items:           make([]ResultItem, 0, len(exam.Questions)),
	}

	for i, q := range exam.Questions {
		it := report.Items[i]
		item := ResultItem{
			QuestionID: q.ID,
			Type:       q.Type,
			Text:       q.Text,
			Points:     it.Points,
			Earned:     it.Earned,
			Outcome:    it.Outcome,
			AutoGraded: q.Type.AutoGradable(),
		}
		if ans, ok := a.Answers[q.ID]; ok {
			item.StudentAnswer = &ans
		}
		if item.AutoGraded && q.CorrectAnswer != nil {
			correct := *q.CorrectAnswer
			item.CorrectAnswer = &correct
		}
		res.Items = append(res.Items, item)
	}
	return res
}

// AttemptService drives attempts over request/response transports. Each
// call opens a short-lived controller, so HTTP and WebSocket clients share
// the same lifecycle rules.
type AttemptService struct {
	deps        attempt.Deps
	cfg         attempt.Config
	attempts    *store.AttemptStore
	attemptRepo *repository.AttemptRepository
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	deps attempt.Deps,
	cfg attempt.Config,
	attempts *store.AttemptStore,
	attemptRepo *repository.AttemptRepository,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		deps:        deps,
		cfg:         cfg,
		attempts:    attempts,
		attemptRepo: attemptRepo,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Controller opens a controller for a long-lived session.
func (s *AttemptService) Controller(ctx context.Context, sess attempt.Session, examID uuid.UUID) (*attempt.Controller, error) {
	return attempt.Open(ctx, s.deps, s.cfg, sess, examID)
}

// Open creates or resumes the student's attempt.
func (s *AttemptService) Open(ctx context.Context, sess attempt.Session, examID uuid.UUID) (*OpenedAttempt, error) {
	c, err := s.Controller(ctx, sess, examID)
	if err != nil {
		return nil, err
	}
	return &OpenedAttempt{
		Paper:   c.Exam().Paper(),
		Attempt: c.Snapshot(),
		Result:  c.Result(),
	}, nil
}

// SaveAnswers applies answers to the attempt and saves them as a draft.
// Nothing is written if any answer is rejected.
func (s *AttemptService) SaveAnswers(ctx context.Context, sess attempt.Session, examID uuid.UUID, answers model.Answers) (*attempt.View, error) {
	c, err := s.Controller(ctx, sess, examID)
	if err != nil {
		return nil, err
	}

	for qid, ans := range answers {
		if err := c.SetAnswer(qid, ans); err != nil {
			return nil, err
		}
	}

	if err := s.attempts.SaveAttempt(ctx, c.Attempt()); err != nil {
		return nil, fmt.Errorf("save answers: %w", err)
	}

	view := c.Snapshot()
	return &view, nil
}

// Submit grades and completes the attempt.
func (s *AttemptService) Submit(ctx context.Context, sess attempt.Session, examID uuid.UUID) (*attempt.Result, error) {
	c, err := s.Controller(ctx, sess, examID)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, attempt.ReasonManual)
}

// GetResult returns an attempt's breakdown. Students see only their own
// completed attempts; teachers see any attempt of an exam they authored.
func (s *AttemptService) GetResult(ctx context.Context, viewer attempt.Session, attemptID uuid.UUID) (*AttemptResult, error) {
	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attempt.ErrAttemptNotFound
		}
		return nil, err
	}

	exam, err := s.deps.Exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}

	switch viewer.Role {
	case model.RoleStudent:
		if a.StudentID != viewer.UserID {
			return nil, attempt.ErrAttemptNotFound
		}
		if !a.Completed {
			return nil, ErrResultNotReady
		}
	case model.RoleTeacher:
		if exam.CreatedBy != viewer.UserID {
			return nil, ErrNotExamAuthor
		}
		if !a.Completed {
			buffered, ok, err := s.attempts.BufferedAnswers(ctx, a.ID)
			if err != nil {
				s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to read buffered answers")
			} else if ok {
				a.Answers = buffered
			}
		}
	default:
		return nil, attempt.ErrForbidden
	}

	return BuildResult(exam, a), nil
}

// ListExamAttempts retrieves the attempts of one of the author's exams.
func (s *AttemptService) ListExamAttempts(ctx context.Context, authorID, examID uuid.UUID, page, perPage int) ([]model.AttemptSummary, *response.Pagination, error) {
	exam, err := s.deps.Exams.GetExam(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	if exam.CreatedBy != authorID {
		return nil, nil, ErrNotExamAuthor
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	attempts, total, err := s.attemptRepo.ListByExam(ctx, examID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return attempts, pagination, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/store"
)

// Domain Errors
var (
	ErrExamNotFound    = attempt.ErrExamNotFound
	ErrNotExamAuthor   = errors.New("not the author of this exam")
	ErrExamHasAttempts = errors.New("exam has attempts and cannot be deleted")
	ErrCourseNotFound  = errors.New("no exams for this course code")
)

// ValidationError carries field-level problems found beyond request binding.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid exam: %d field(s)", len(e.Fields))
}

const (
	minOptions = 2
	maxOptions = 5
)

// BuildQuestions turns teacher input into questions, assigning ids to new
// questions and enforcing the per-type rules.
func BuildQuestions(reqs []model.QuestionRequest) ([]model.Question, error) {
	fields := map[string]string{}
	seen := make(map[string]bool, len(reqs))
	out := make([]model.Question, 0, len(reqs))

	for i, r := range reqs {
		prefix := "questions[" + strconv.Itoa(i) + "]."
		q := model.Question{
			ID:            strings.TrimSpace(r.ID),
			Type:          model.QuestionType(r.Type),
			Text:          strings.TrimSpace(r.Text),
			Image:         r.Image,
			Options:       r.Options,
			CorrectAnswer: r.CorrectAnswer,
			Points:        r.Points,
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if seen[q.ID] {
			fields[prefix+"id"] = "duplicate question id"
		}
		seen[q.ID] = true

		if q.Text == "" {
			fields[prefix+"text"] = "text is required"
		}
		if q.Points < 1 {
			fields[prefix+"points"] = "points must be at least 1"
		}

		switch q.Type {
		case model.QuestionTypeMultipleChoice:
			checkMultipleChoice(&q, prefix, fields)
		case model.QuestionTypeTrueFalse:
			q.Options = []string{"True", "False"}
			if q.CorrectAnswer != nil && !validIndices(*q.CorrectAnswer, 2) {
				fields[prefix+"correct_answer"] = "correct answer must be 0 (True) or 1 (False)"
			}
		default:
			q.Options = nil
		}

		out = append(out, q)
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return out, nil
}

func checkMultipleChoice(q *model.Question, prefix string, fields map[string]string) {
	if len(q.Options) < minOptions || len(q.Options) > maxOptions {
		fields[prefix+"options"] = fmt.Sprintf("multiple choice needs %d to %d options", minOptions, maxOptions)
		return
	}
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			fields[prefix+"options"] = "options must not be empty"
			return
		}
	}
	if q.CorrectAnswer == nil || q.CorrectAnswer.IsBlank() {
		fields[prefix+"correct_answer"] = "select a correct answer"
		return
	}
	if !validIndices(*q.CorrectAnswer, len(q.Options)) {
		fields[prefix+"correct_answer"] = "correct answer must reference an option"
	}
}

// validIndices reports whether every value of a is an option index below n.
func validIndices(a model.Answer, n int) bool {
	for _, v := range a.Values() {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 || i >= n {
			return false
		}
	}
	return true
}

// ExamService handles exam authoring and course discovery.
type ExamService struct {
	examRepo    *repository.ExamRepository
	attemptRepo *repository.AttemptRepository
	cache       *store.ExamCache
	log         zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	attemptRepo *repository.AttemptRepository,
	cache *store.ExamCache,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:    examRepo,
		attemptRepo: attemptRepo,
		cache:       cache,
		log:         log.With().Str("component", "exam_service").Logger(),
	}
}

// NewExam validates a request and builds the exam it describes.
func NewExam(req *model.ExamRequest, authorID uuid.UUID) (*model.Exam, error) {
	questions, err := BuildQuestions(req.Questions)
	if err != nil {
		return nil, err
	}
	return &model.Exam{
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		CourseCode:       strings.ToUpper(strings.TrimSpace(req.CourseCode)),
		Questions:        questions,
		TimeLimitMinutes: req.TimeLimitMinutes,
		CreatedBy:        authorID,
	}, nil
}

// Create stores a new exam authored by authorID.
func (s *ExamService) Create(ctx context.Context, authorID uuid.UUID, req *model.ExamRequest) (*model.Exam, error) {
	exam, err := NewExam(req, authorID)
	if err != nil {
		return nil, err
	}
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("course_code", exam.CourseCode).
		Int("questions", len(exam.Questions)).
		Msg("Exam created")
	return exam, nil
}

// GetForAuthor returns the full exam, answers included, to its author.
func (s *ExamService) GetForAuthor(ctx context.Context, authorID, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	if exam.CreatedBy != authorID {
		return nil, ErrNotExamAuthor
	}
	return exam, nil
}

// Update replaces an exam's content. Only the author may edit.
func (s *ExamService) Update(ctx context.Context, authorID, examID uuid.UUID, req *model.ExamRequest) (*model.Exam, error) {
	existing, err := s.GetForAuthor(ctx, authorID, examID)
	if err != nil {
		return nil, err
	}

	exam, err := NewExam(req, authorID)
	if err != nil {
		return nil, err
	}
	exam.ID = existing.ID
	exam.CreatedAt = existing.CreatedAt

	if err := s.examRepo.Update(ctx, exam); err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	if err := s.cache.Invalidate(ctx, exam.ID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to invalidate exam cache")
	}

	s.log.Info().Str("exam_id", exam.ID.String()).Msg("Exam updated")
	return exam, nil
}

// Delete removes an exam that nobody has attempted yet.
func (s *ExamService) Delete(ctx context.Context, authorID, examID uuid.UUID) error {
	if _, err := s.GetForAuthor(ctx, authorID, examID); err != nil {
		return err
	}

	n, err := s.attemptRepo.CountByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if n > 0 {
		return ErrExamHasAttempts
	}

	if err := s.examRepo.Delete(ctx, examID); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	if err := s.cache.Invalidate(ctx, examID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to invalidate exam cache")
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam deleted")
	return nil
}

// ListByAuthor retrieves a teacher's exams matching search, paginated.
func (s *ExamService) ListByAuthor(ctx context.Context, authorID uuid.UUID, search string, page, perPage int) ([]model.ExamSummary, *response.Pagination, error) {
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

	exams, total, err := s.examRepo.ListByAuthorPaginated(ctx, authorID, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return nil, nil, err
	}

	summaries := make([]model.ExamSummary, 0, len(exams))
	for i := range exams {
		summaries = append(summaries, exams[i].Summary())
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return summaries, pagination, nil
}

// ListByCourseCode lists the exams of a course for students.
func (s *ExamService) ListByCourseCode(ctx context.Context, courseCode string) ([]model.ExamSummary, error) {
	exams, err := s.examRepo.ListByCourseCode(ctx, strings.TrimSpace(courseCode))
	if err != nil {
		return nil, err
	}
	if len(exams) == 0 {
		return nil, ErrCourseNotFound
	}

	summaries := make([]model.ExamSummary, 0, len(exams))
	for i := range exams {
		summaries = append(summaries, exams[i].Summary())
	}
	return summaries, nil
}

// GetStats summarises the attempts of one of the author's exams.
func (s *ExamService) GetStats(ctx context.Context, authorID, examID uuid.UUID) (*model.ExamStats, error) {
	if _, err := s.GetForAuthor(ctx, authorID, examID); err != nil {
		return nil, err
	}
	return s.attemptRepo.GetExamStats(ctx, examID)
}

// PrewarmCaches loads exams with open attempts into Redis on startup.
func (s *ExamService) PrewarmCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListWithOpenAttempts(ctx)
	if err != nil {
		return fmt.Errorf("list exams with open attempts: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No exams with open attempts to prewarm")
		return nil
	}

	warmed := s.cache.WarmAll(ctx, exams)
	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

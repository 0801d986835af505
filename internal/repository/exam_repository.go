package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examily/examily-backend/internal/model"
)

// ExamRepository handles exam data access. Questions are stored as a jsonb
// array on the exam row, in display order.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, description, course_code, questions, time_limit_minutes, created_by, created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.CourseCode, &e.Questions,
		&e.TimeLimitMinutes, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.Questions == nil {
		e.Questions = []model.Question{}
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// ListByAuthorPaginated retrieves a teacher's exams, newest first.
// search matches title or course code case-insensitively; empty means all.
func (r *ExamRepository) ListByAuthorPaginated(ctx context.Context, authorID uuid.UUID, search string, limit, offset int) ([]model.Exam, int, error) {
	where := ` WHERE created_by = $1`
	args := []any{authorID}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += ` AND (title ILIKE $2 OR course_code ILIKE $2)`
	}

	// 1. Get total count
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 2. Get paginated data
	argIdx := len(args) + 1
	query := `SELECT ` + examColumns + ` FROM exams` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// ListByCourseCode returns every exam of a course, newest first.
func (r *ExamRepository) ListByCourseCode(ctx context.Context, courseCode string) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE UPPER(course_code) = UPPER($1)
		 ORDER BY created_at DESC`, courseCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// ListWithOpenAttempts returns exams that still have attempts in progress.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListWithOpenAttempts(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams e
		 WHERE EXISTS (SELECT 1 FROM exam_attempts a WHERE a.exam_id = e.id AND a.completed = false)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, course_code, questions, time_limit_minutes, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.CourseCode, e.Questions, e.TimeLimitMinutes, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update replaces an exam's content. The author never changes.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET title = $1, description = $2, course_code = $3, questions = $4,
		     time_limit_minutes = $5, updated_at = NOW()
		 WHERE id = $6
		 RETURNING updated_at`,
		e.Title, e.Description, e.CourseCode, e.Questions, e.TimeLimitMinutes, e.ID,
	).Scan(&e.UpdatedAt)
}

// Delete removes an exam by ID.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}

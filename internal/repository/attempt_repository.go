package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examily/examily-backend/internal/model"
)

// ErrAttemptCompleted is returned when a write targets an attempt that has
// already been submitted.
var ErrAttemptCompleted = errors.New("attempt already completed")

// AttemptRef identifies an attempt by its natural key.
type AttemptRef struct {
	ExamID    uuid.UUID
	StudentID uuid.UUID
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, answers, started_at, submitted_at, score, completed`

func scanAttempt(row interface{ Scan(...any) error }) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Answers, &a.StartedAt, &a.SubmittedAt, &a.Score, &a.Completed)
	if err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student combination.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// Create inserts a new attempt. If the student already has one for this
// exam, the existing attempt is returned instead.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error) {
	created, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, answers, started_at, completed)
		 VALUES ($1, $2, $3, $4, $5, false)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING `+attemptColumns,
		a.ID, a.ExamID, a.StudentID, a.Answers, a.StartedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to another open; use the winner.
		return r.GetByExamAndStudent(ctx, a.ExamID, a.StudentID)
	}
	return created, err
}

// Save overwrites the mutable fields of an in-progress attempt. It returns
// ErrAttemptCompleted if the stored attempt is already completed.
func (r *AttemptRepository) Save(ctx context.Context, a *model.ExamAttempt) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET answers = $1, submitted_at = $2, score = $3, completed = $4, updated_at = NOW()
		 WHERE id = $5 AND completed = false`,
		a.Answers, a.SubmittedAt, a.Score, a.Completed, a.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrCompleted(ctx, a.ID)
	}
	return nil
}

// SaveAnswers updates only the answers of an in-progress attempt.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, id uuid.UUID, answers model.Answers) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET answers = $1, updated_at = NOW()
		 WHERE id = $2 AND completed = false`,
		answers, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrCompleted(ctx, id)
	}
	return nil
}

func (r *AttemptRepository) missOrCompleted(ctx context.Context, id uuid.UUID) error {
	var completed bool
	err := r.pool.QueryRow(ctx, `SELECT completed FROM exam_attempts WHERE id = $1`, id).Scan(&completed)
	if err != nil {
		return err
	}
	if completed {
		return ErrAttemptCompleted
	}
	return nil
}

// CountByExam returns how many attempts an exam has.
func (r *AttemptRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}

// ListExpired returns in-progress attempts whose time limit plus grace has
// elapsed at now.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]AttemptRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.exam_id, a.student_id
		 FROM exam_attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.completed = false
		   AND a.started_at + make_interval(mins => e.time_limit_minutes) + make_interval(secs => $2) <= $1
		 ORDER BY a.started_at ASC
		 LIMIT $3`,
		now, grace.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []AttemptRef
	for rows.Next() {
		var ref AttemptRef
		if err := rows.Scan(&ref.ExamID, &ref.StudentID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

const summarySelect = `
	SELECT a.id, a.exam_id, e.title, e.course_code, a.student_id, u.name,
	       a.started_at, a.submitted_at, a.score, a.completed
	FROM exam_attempts a
	JOIN exams e ON e.id = a.exam_id
	JOIN users u ON u.id = a.student_id`

func scanSummaries(rows pgx.Rows) ([]model.AttemptSummary, error) {
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.ID, &s.ExamID, &s.ExamTitle, &s.CourseCode, &s.StudentID, &s.StudentName,
			&s.StartedAt, &s.SubmittedAt, &s.Score, &s.Completed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByStudent retrieves all attempts of a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx, summarySelect+`
		WHERE a.student_id = $1
		ORDER BY a.started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	return scanSummaries(rows)
}

// ListByExam retrieves the attempts of an exam with pagination.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.AttemptSummary, int, error) {
	total, err := r.CountByExam(ctx, examID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, summarySelect+`
		WHERE a.exam_id = $1
		ORDER BY u.name ASC
		LIMIT $2 OFFSET $3`, examID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := scanSummaries(rows)
	return out, total, err
}

// ListRecentByAuthor returns the latest attempts across a teacher's exams.
func (r *AttemptRepository) ListRecentByAuthor(ctx context.Context, authorID uuid.UUID, limit int) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx, summarySelect+`
		WHERE e.created_by = $1
		ORDER BY a.started_at DESC
		LIMIT $2`, authorID, limit)
	if err != nil {
		return nil, err
	}
	return scanSummaries(rows)
}

// GetTeacherCounts returns the headline numbers of a teacher's dashboard.
func (r *AttemptRepository) GetTeacherCounts(ctx context.Context, authorID uuid.UUID) (exams, attempts, completed int, avg *float64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM exams WHERE created_by = $1),
			COUNT(a.id),
			COUNT(a.id) FILTER (WHERE a.completed),
			(AVG(a.score) FILTER (WHERE a.completed))::float8
		 FROM exam_attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE e.created_by = $1`, authorID,
	).Scan(&exams, &attempts, &completed, &avg)
	return
}

// GetExamStats summarises the attempts of one exam.
func (r *AttemptRepository) GetExamStats(ctx context.Context, examID uuid.UUID) (*model.ExamStats, error) {
	s := &model.ExamStats{ExamID: examID}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE completed),
		        (AVG(score) FILTER (WHERE completed))::float8,
		        MAX(score) FILTER (WHERE completed),
		        MIN(score) FILTER (WHERE completed)
		 FROM exam_attempts WHERE exam_id = $1`, examID,
	).Scan(&s.AttemptCount, &s.CompletedCount, &s.AverageScore, &s.HighestScore, &s.LowestScore)
	if err != nil {
		return nil, err
	}
	return s, nil
}

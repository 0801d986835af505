package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptProgress is the persisted progress of one attempt.
type AttemptProgress struct {
	AttemptID     uuid.UUID `json:"attempt_id"`
	StudentID     uuid.UUID `json:"student_id"`
	Completed     bool      `json:"completed"`
	AnsweredCount int       `json:"answered_count"`
}

// MonitorRepository provides data access for the live exam monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetProgress returns every attempt of the exam with the number of answers
// that carry content, as last written to PostgreSQL.
func (r *MonitorRepository) GetProgress(ctx context.Context, examID uuid.UUID) ([]AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, a.completed,
		        COUNT(kv.key) FILTER (WHERE kv.value NOT IN ('""'::jsonb, '[]'::jsonb, 'null'::jsonb))
		 FROM exam_attempts a
		 LEFT JOIN LATERAL jsonb_each(a.answers) kv ON true
		 WHERE a.exam_id = $1
		 GROUP BY a.id, a.student_id, a.completed`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptProgress
	for rows.Next() {
		var p AttemptProgress
		if err := rows.Scan(&p.AttemptID, &p.StudentID, &p.Completed, &p.AnsweredCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

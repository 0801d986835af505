package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
)

// ExamLoader reads exams from the system of record.
type ExamLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// ExamCache serves full exam definitions from Redis, loading misses from
// PostgreSQL. It is the attempt controller's exam source.
type ExamCache struct {
	repo ExamLoader
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewExamCache creates a new ExamCache.
func NewExamCache(repo ExamLoader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamCache {
	return &ExamCache{
		repo: repo,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_cache").Logger(),
	}
}

// GetExam returns the exam, or attempt.ErrExamNotFound.
func (c *ExamCache) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var exam model.Exam
		if err := json.Unmarshal(data, &exam); err == nil {
			return &exam, nil
		}
		c.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached exam, reloading")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed, falling back to database")
	}

	exam, err := c.repo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attempt.ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	if err := c.Warm(ctx, exam); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache exam")
	}
	return exam, nil
}

// Warm stores an exam in Redis.
func (c *ExamCache) Warm(ctx context.Context, exam *model.Exam) error {
	payload, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	if err := c.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	c.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return nil
}

// WarmAll caches every given exam, skipping failures.
func (c *ExamCache) WarmAll(ctx context.Context, exams []model.Exam) int {
	warmed := 0
	for i := range exams {
		if err := c.Warm(ctx, &exams[i]); err != nil {
			c.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}
	return warmed
}

// Invalidate drops the cached copy of an exam.
func (c *ExamCache) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Err()
}

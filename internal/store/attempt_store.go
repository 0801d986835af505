package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
)

// savedAtField marks a buffer as present even when it holds no answers.
const savedAtField = "__saved_at"

// bufferTTL bounds how long an unpersisted buffer may linger.
const bufferTTL = 24 * time.Hour

// AttemptRecords is the PostgreSQL side of the attempt store.
type AttemptRecords interface {
	GetByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error)
	Create(ctx context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error)
	Save(ctx context.Context, a *model.ExamAttempt) error
}

// PersistJob is queued for the autosave worker after every buffered save.
type PersistJob struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	ExamID    uuid.UUID `json:"exam_id"`
}

// AttemptStore implements attempt.Store. In-progress saves land in a Redis
// hash and are persisted by the autosave worker; completing saves are
// written through to PostgreSQL.
type AttemptStore struct {
	repo    AttemptRecords
	rdb     *redis.Client
	monitor *Monitor
	log     zerolog.Logger
}

// NewAttemptStore creates a new AttemptStore. monitor may be nil.
func NewAttemptStore(repo AttemptRecords, rdb *redis.Client, monitor *Monitor, log zerolog.Logger) *AttemptStore {
	return &AttemptStore{
		repo:    repo,
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "attempt_store").Logger(),
	}
}

// FindAttempt returns the student's attempt with any buffered answers applied.
func (s *AttemptStore) FindAttempt(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	a, err := s.repo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attempt.ErrAttemptNotFound
		}
		return nil, err
	}
	if a.Completed {
		return a, nil
	}

	answers, ok, err := s.BufferedAnswers(ctx, a.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Reading answer buffer failed, using stored answers")
		return a, nil
	}
	if ok {
		a.Answers = answers
	}
	return a, nil
}

// CreateAttempt inserts the attempt or returns the one that already exists.
func (s *AttemptStore) CreateAttempt(ctx context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error) {
	created, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	if created.ID == a.ID {
		s.publish(ctx, created, EventOpened)
	}
	return created, nil
}

// SaveAttempt buffers in-progress answers, or writes a completed attempt
// through to PostgreSQL.
func (s *AttemptStore) SaveAttempt(ctx context.Context, a *model.ExamAttempt) error {
	if a.Completed {
		return s.saveCompleted(ctx, a)
	}

	if err := s.buffer(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Answer buffer unavailable, writing through")
		if err := s.repo.Save(ctx, a); err != nil {
			return mapSaveErr(err)
		}
	}
	s.publish(ctx, a, EventAutosaved)
	return nil
}

func (s *AttemptStore) saveCompleted(ctx context.Context, a *model.ExamAttempt) error {
	if err := s.repo.Save(ctx, a); err != nil {
		return mapSaveErr(err)
	}
	if err := s.ClearBuffer(ctx, a.ID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to clear answer buffer")
	}
	s.publish(ctx, a, EventSubmitted)
	return nil
}

func (s *AttemptStore) buffer(ctx context.Context, a *model.ExamAttempt) error {
	fields := make(map[string]any, len(a.Answers)+1)
	for qid, ans := range a.Answers {
		raw, err := json.Marshal(ans)
		if err != nil {
			return fmt.Errorf("marshal answer %s: %w", qid, err)
		}
		fields[qid] = raw
	}
	fields[savedAtField] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	job, err := json.Marshal(PersistJob{AttemptID: a.ID, ExamID: a.ExamID})
	if err != nil {
		return err
	}

	key := config.CacheKey.AttemptAnswersKey(a.ID.String())
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, bufferTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, job)
	_, err = pipe.Exec(ctx)
	return err
}

// BufferedAnswers returns the unpersisted answers of an attempt, if any.
func (s *AttemptStore) BufferedAnswers(ctx context.Context, attemptID uuid.UUID) (model.Answers, bool, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	answers, err := decodeBuffer(raw)
	if err != nil {
		return nil, false, err
	}
	return answers, true, nil
}

// ClearBuffer removes an attempt's answer buffer.
func (s *AttemptStore) ClearBuffer(ctx context.Context, attemptID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Err()
}

func decodeBuffer(raw map[string]string) (model.Answers, error) {
	answers := make(model.Answers, len(raw))
	for qid, v := range raw {
		if qid == savedAtField {
			continue
		}
		var ans model.Answer
		if err := json.Unmarshal([]byte(v), &ans); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		answers[qid] = ans
	}
	return answers, nil
}

func (s *AttemptStore) publish(ctx context.Context, a *model.ExamAttempt, typ MonitorEventType) {
	if s.monitor == nil {
		return
	}
	s.monitor.Publish(ctx, a.ExamID, MonitorEvent{
		Type:          typ,
		AttemptID:     a.ID,
		StudentID:     a.StudentID,
		AnsweredCount: CountAnswered(a.Answers),
		Score:         a.Score,
	})
}

// CountAnswered counts answers that carry content.
func CountAnswered(answers model.Answers) int {
	n := 0
	for _, ans := range answers {
		if !ans.IsBlank() {
			n++
		}
	}
	return n
}

func mapSaveErr(err error) error {
	if errors.Is(err, repository.ErrAttemptCompleted) {
		return attempt.ErrCompleted
	}
	return err
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/store"
)

// AnswerWriter persists answers of an in-progress attempt.
type AnswerWriter interface {
	SaveAnswers(ctx context.Context, id uuid.UUID, answers model.Answers) error
}

// AnswerBuffer exposes the Redis answer buffer.
type AnswerBuffer interface {
	BufferedAnswers(ctx context.Context, attemptID uuid.UUID) (model.Answers, bool, error)
	ClearBuffer(ctx context.Context, attemptID uuid.UUID) error
}

// AutosaveWorker consumes persist_attempts_queue and writes buffered answers to PostgreSQL.
type AutosaveWorker struct {
	writer     AnswerWriter
	buffer     AnswerBuffer
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(writer AnswerWriter, buffer AnswerBuffer, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		writer:     writer,
		buffer:     buffer,
		rdb:        rdb,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAttemptsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, requeueing")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// handle persists one job. Malformed jobs are dropped.
func (w *AutosaveWorker) handle(ctx context.Context, raw string) error {
	var job store.PersistJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return nil
	}

	answers, ok, err := w.buffer.BufferedAnswers(ctx, job.AttemptID)
	if err != nil {
		return err
	}
	if !ok {
		// Buffer cleared on completion, or expired.
		return nil
	}

	op := func() error {
		err := w.writer.SaveAnswers(ctx, job.AttemptID, answers)
		if errors.Is(err, repository.ErrAttemptCompleted) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	err = backoff.Retry(op, b)
	if errors.Is(err, repository.ErrAttemptCompleted) {
		w.log.Debug().Str("attempt_id", job.AttemptID.String()).Msg("Attempt completed, dropping buffer")
		return w.buffer.ClearBuffer(ctx, job.AttemptID)
	}
	if err != nil {
		return err
	}

	w.log.Debug().
		Str("attempt_id", job.AttemptID.String()).
		Str("exam_id", job.ExamID.String()).
		Int("answers", len(answers)).
		Msg("Answers persisted")
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAttemptsQueue).Result()
		if err != nil {
			break
		}

		if err := w.handle(ctx, result); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

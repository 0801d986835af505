package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/store"
)

// records is an in-memory stand-in for the attempts table.
type records struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*model.ExamAttempt
	failing int
	writes  int
}

func newRecords() *records { return &records{rows: map[uuid.UUID]*model.ExamAttempt{}} }

func (r *records) GetByExamAndStudent(_ context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.ExamID == examID && a.StudentID == studentID {
			return a.Clone(), nil
		}
	}
	return nil, attempt.ErrAttemptNotFound
}

func (r *records) Create(_ context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = a.Clone()
	return a.Clone(), nil
}

func (r *records) Save(_ context.Context, a *model.ExamAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows[a.ID].Completed {
		return repository.ErrAttemptCompleted
	}
	r.rows[a.ID] = a.Clone()
	return nil
}

func (r *records) SaveAnswers(_ context.Context, id uuid.UUID, answers model.Answers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing > 0 {
		r.failing--
		return errors.New("connection refused")
	}
	if r.rows[id].Completed {
		return repository.ErrAttemptCompleted
	}
	r.rows[id].Answers = answers.Clone()
	r.writes++
	return nil
}

func (r *records) get(id uuid.UUID) *model.ExamAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Clone()
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client, *records, *store.AttemptStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	recs := newRecords()
	return mr, rdb, recs, store.NewAttemptStore(recs, rdb, nil, zerolog.Nop())
}

func TestAutosaveWorker_PersistsBufferedAnswers(t *testing.T) {
	mr, rdb, recs, st := setup(t)
	ctx := context.Background()

	a := &model.ExamAttempt{ID: uuid.New(), ExamID: uuid.New(), StudentID: uuid.New(), Answers: model.Answers{}}
	_, err := st.CreateAttempt(ctx, a)
	require.NoError(t, err)

	a.Answers = model.Answers{"q1": model.TextAnswer("0")}
	require.NoError(t, st.SaveAttempt(ctx, a))
	a.Answers = model.Answers{"q1": model.TextAnswer("1"), "q2": model.TextAnswer("paris")}
	require.NoError(t, st.SaveAttempt(ctx, a))

	w := NewAutosaveWorker(recs, st, rdb, zerolog.Nop())
	w.processNext(ctx)
	w.processNext(ctx)

	stored := recs.get(a.ID)
	assert.Equal(t, "1", stored.Answers["q1"].Text())
	assert.Equal(t, "paris", stored.Answers["q2"].Text())
	assert.False(t, stored.Completed)

	queued, _ := mr.List(config.WorkerKey.PersistAttemptsQueue)
	assert.Empty(t, queued)
}

func TestAutosaveWorker_RequeuesOnFailure(t *testing.T) {
	mr, rdb, recs, st := setup(t)
	ctx := context.Background()

	a := &model.ExamAttempt{ID: uuid.New(), ExamID: uuid.New(), StudentID: uuid.New(), Answers: model.Answers{}}
	_, err := st.CreateAttempt(ctx, a)
	require.NoError(t, err)
	a.Answers = model.Answers{"q1": model.TextAnswer("0")}
	require.NoError(t, st.SaveAttempt(ctx, a))

	recs.failing = 100
	w := NewAutosaveWorker(recs, st, rdb, zerolog.Nop())
	w.retryDelay = 0
	w.processNext(ctx)

	queued, _ := mr.List(config.WorkerKey.PersistAttemptsQueue)
	assert.Len(t, queued, 1)
	assert.Empty(t, recs.get(a.ID).Answers)
}

func TestAutosaveWorker_DropsBufferOfCompletedAttempt(t *testing.T) {
	mr, rdb, recs, st := setup(t)
	ctx := context.Background()

	a := &model.ExamAttempt{ID: uuid.New(), ExamID: uuid.New(), StudentID: uuid.New(), Answers: model.Answers{}}
	_, err := st.CreateAttempt(ctx, a)
	require.NoError(t, err)
	a.Answers = model.Answers{"q1": model.TextAnswer("0")}
	require.NoError(t, st.SaveAttempt(ctx, a))

	// Completed elsewhere before the worker ran.
	recs.mu.Lock()
	recs.rows[a.ID].Completed = true
	recs.mu.Unlock()

	w := NewAutosaveWorker(recs, st, rdb, zerolog.Nop())
	w.processNext(ctx)

	assert.False(t, mr.Exists(config.CacheKey.AttemptAnswersKey(a.ID.String())))
	assert.Empty(t, recs.get(a.ID).Answers)
}

func TestAutosaveWorker_DrainOnShutdown(t *testing.T) {
	_, rdb, recs, st := setup(t)
	ctx := context.Background()

	a := &model.ExamAttempt{ID: uuid.New(), ExamID: uuid.New(), StudentID: uuid.New(), Answers: model.Answers{}}
	_, err := st.CreateAttempt(ctx, a)
	require.NoError(t, err)
	a.Answers = model.Answers{"q3": model.ListAnswer("a", "b")}
	require.NoError(t, st.SaveAttempt(ctx, a))

	w := NewAutosaveWorker(recs, st, rdb, zerolog.Nop())
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	w.Start(cancelled)

	assert.True(t, model.ListAnswer("a", "b").Equal(recs.get(a.ID).Answers["q3"]))
}

type staticExams map[uuid.UUID]*model.Exam

func (s staticExams) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if e, ok := s[id]; ok {
		return e, nil
	}
	return nil, attempt.ErrExamNotFound
}

type listerFunc func() []repository.AttemptRef

func (f listerFunc) ListExpired(context.Context, time.Time, time.Duration, int) ([]repository.AttemptRef, error) {
	return f(), nil
}

func TestExpiryWorker_SubmitsExpiredAttempts(t *testing.T) {
	_, _, recs, st := setup(t)
	ctx := context.Background()
	fc := testingclock.NewFakeClock(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	correct := model.TextAnswer("1")
	exam := &model.Exam{ID: uuid.New(), TimeLimitMinutes: 10, Questions: []model.Question{
		{ID: "q1", Type: model.QuestionTypeMultipleChoice, CorrectAnswer: &correct, Points: 1},
		{ID: "q2", Type: model.QuestionTypeLongAnswer, Points: 1},
	}}

	var refs []repository.AttemptRef
	for _, ans := range []string{"1", "0"} {
		a := &model.ExamAttempt{
			ID: uuid.New(), ExamID: exam.ID, StudentID: uuid.New(),
			Answers:   model.Answers{"q1": model.TextAnswer(ans)},
			StartedAt: fc.Now().Add(-30 * time.Minute),
		}
		_, err := st.CreateAttempt(ctx, a)
		require.NoError(t, err)
		refs = append(refs, repository.AttemptRef{ExamID: a.ExamID, StudentID: a.StudentID})
	}

	deps := attempt.Deps{Exams: staticExams{exam.ID: exam}, Store: st, Clock: fc, Log: zerolog.Nop()}
	w := NewExpiryWorker(listerFunc(func() []repository.AttemptRef { return refs }), deps, attempt.DefaultConfig(), time.Minute, zerolog.Nop())

	assert.Equal(t, 2, w.Sweep(ctx))

	scores := map[int]int{}
	for _, ref := range refs {
		a, err := recs.GetByExamAndStudent(ctx, ref.ExamID, ref.StudentID)
		require.NoError(t, err)
		require.True(t, a.Completed)
		require.NotNil(t, a.Score)
		scores[*a.Score]++
	}
	assert.Equal(t, map[int]int{50: 1, 0: 1}, scores)

	// Already completed: the second sweep changes nothing.
	assert.Equal(t, 2, w.Sweep(ctx))
	for _, ref := range refs {
		a, _ := recs.GetByExamAndStudent(ctx, ref.ExamID, ref.StudentID)
		assert.True(t, a.Completed)
	}
}

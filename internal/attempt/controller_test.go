package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/examily/examily-backend/internal/model"
)

type memExams map[uuid.UUID]*model.Exam

func (m memExams) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := m[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

type memStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*model.ExamAttempt
	failFinal   bool
	draftSaves  int
	finalSaves  int
	finalErrors int
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]*model.ExamAttempt{}}
}

func (s *memStore) FindAttempt(_ context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows {
		if a.ExamID == examID && a.StudentID == studentID {
			return a.Clone(), nil
		}
	}
	return nil, ErrAttemptNotFound
}

func (s *memStore) CreateAttempt(_ context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.ExamID == a.ExamID && existing.StudentID == a.StudentID {
			return existing.Clone(), nil
		}
	}
	s.rows[a.ID] = a.Clone()
	return a.Clone(), nil
}

func (s *memStore) SaveAttempt(_ context.Context, a *model.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[a.ID]
	if !ok {
		return ErrAttemptNotFound
	}
	if cur.Completed {
		return ErrCompleted
	}
	if a.Completed {
		if s.failFinal {
			s.finalErrors++
			return errors.New("connection reset")
		}
		s.finalSaves++
	} else {
		s.draftSaves++
	}
	s.rows[a.ID] = a.Clone()
	return nil
}

func (s *memStore) get(id uuid.UUID) *model.ExamAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Clone()
}

func (s *memStore) setFailFinal(v bool) {
	s.mu.Lock()
	s.failFinal = v
	s.mu.Unlock()
}

func textAns(s string) *model.Answer {
	a := model.TextAnswer(s)
	return &a
}

func sampleExam() *model.Exam {
	return &model.Exam{
		ID:               uuid.New(),
		Title:            "Networks midterm",
		CourseCode:       "NET101",
		TimeLimitMinutes: 30,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: textAns("0"), Points: 2},
			{ID: "q2", Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: textAns("1"), Points: 2},
			{ID: "q3", Type: model.QuestionTypeShortAnswer, Points: 1},
		},
	}
}

type fixture struct {
	exam  *model.Exam
	store *memStore
	clock *testingclock.FakeClock
	deps  Deps
	cfg   Config
	sess  Session
}

func newFixture() *fixture {
	exam := sampleExam()
	fc := testingclock.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := newMemStore()
	cfg := DefaultConfig()
	cfg.SubmitRetryMaxElapsed = 50 * time.Millisecond
	return &fixture{
		exam:  exam,
		store: store,
		clock: fc,
		deps:  Deps{Exams: memExams{exam.ID: exam}, Store: store, Clock: fc, Log: zerolog.Nop()},
		cfg:   cfg,
		sess:  Session{UserID: uuid.New(), Role: model.RoleStudent},
	}
}

func (f *fixture) open(t *testing.T) *Controller {
	t.Helper()
	c, err := Open(context.Background(), f.deps, f.cfg, f.sess, f.exam.ID)
	require.NoError(t, err)
	return c
}

func TestOpen_FreshAttempt(t *testing.T) {
	f := newFixture()
	c := f.open(t)

	v := c.Snapshot()
	assert.Equal(t, StateActive, v.State)
	assert.Equal(t, 30*time.Minute, v.Remaining)
	assert.Equal(t, 1800, v.RemainingSeconds)
	assert.False(t, v.TimeUp)
	assert.Empty(t, v.Answers)

	stored := f.store.get(v.AttemptID)
	assert.False(t, stored.Completed)
	assert.Nil(t, stored.SubmittedAt)
	assert.Equal(t, f.clock.Now(), stored.StartedAt)
}

func TestOpen_ResumeReturnsSameAttempt(t *testing.T) {
	f := newFixture()
	first := f.open(t)
	require.NoError(t, first.SetAnswer("q1", model.TextAnswer("0")))
	first.Autosave(context.Background())
	first.Flush()

	f.clock.Step(10 * time.Minute)
	second := f.open(t)

	assert.Equal(t, first.Snapshot().AttemptID, second.Snapshot().AttemptID)
	assert.Equal(t, 20*time.Minute, second.Remaining())
	assert.True(t, model.TextAnswer("0").Equal(second.Snapshot().Answers["q1"]))
}

func TestOpen_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := Open(ctx, f.deps, f.cfg, Session{}, f.exam.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = Open(ctx, f.deps, f.cfg, Session{UserID: uuid.New(), Role: model.RoleTeacher}, f.exam.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = Open(ctx, f.deps, f.cfg, f.sess, uuid.New())
	assert.ErrorIs(t, err, ErrExamNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTick_ClampsAndExpiresOnce(t *testing.T) {
	f := newFixture()
	c := f.open(t)

	remaining, expired := c.Tick()
	assert.Equal(t, 30*time.Minute, remaining)
	assert.False(t, expired)

	f.clock.Step(31 * time.Minute)

	remaining, expired = c.Tick()
	assert.Equal(t, time.Duration(0), remaining)
	assert.True(t, expired)

	remaining, expired = c.Tick()
	assert.Equal(t, time.Duration(0), remaining)
	assert.False(t, expired)
	assert.True(t, c.Snapshot().TimeUp)
}

func TestSetAnswer(t *testing.T) {
	f := newFixture()
	c := f.open(t)

	require.NoError(t, c.SetAnswer("q1", model.TextAnswer("1")))
	require.NoError(t, c.SetAnswer("q1", model.TextAnswer("0")))
	assert.True(t, model.TextAnswer("0").Equal(c.Snapshot().Answers["q1"]))

	assert.ErrorIs(t, c.SetAnswer("nope", model.TextAnswer("x")), ErrUnknownQuestion)

	c.GoTo(context.Background(), 2)
	require.NoError(t, c.AnswerCurrent(model.TextAnswer("free text")))
	assert.Equal(t, "free text", c.Snapshot().Answers["q3"].Text())
	c.Flush()
}

func TestSetAnswer_RejectedAfterTimeUp(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	require.NoError(t, c.SetAnswer("q1", model.TextAnswer("0")))

	f.clock.Step(30 * time.Minute)

	assert.ErrorIs(t, c.SetAnswer("q2", model.TextAnswer("1")), ErrTimeUp)
	_, expired := c.Tick()
	assert.True(t, expired)
	assert.ErrorIs(t, c.SetAnswer("q2", model.TextAnswer("1")), ErrTimeUp)

	// Manual submit is still allowed during the grace period.
	res, err := c.Submit(context.Background(), ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Score)
}

func TestNavigation_ClampsAndAutosaves(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	ctx := context.Background()

	assert.Equal(t, 0, c.Prev(ctx))
	assert.Equal(t, 1, c.Next(ctx))
	assert.Equal(t, 2, c.Next(ctx))
	assert.Equal(t, 2, c.Next(ctx))
	assert.Equal(t, 0, c.GoTo(ctx, -4))
	assert.Equal(t, 2, c.GoTo(ctx, 99))

	c.Flush()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, 6, f.store.draftSaves)
}

func TestAutosave_DoesNotComplete(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	require.NoError(t, c.SetAnswer("q2", model.TextAnswer("1")))

	c.Autosave(context.Background())
	c.Flush()

	stored := f.store.get(c.Snapshot().AttemptID)
	assert.False(t, stored.Completed)
	assert.Equal(t, f.clock.Now(), stored.StartedAt)
	assert.Equal(t, "1", stored.Answers["q2"].Text())
}

func TestSubmit_ScoresAndIsIdempotent(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	ctx := context.Background()

	require.NoError(t, c.SetAnswer("q1", model.TextAnswer("0")))
	require.NoError(t, c.SetAnswer("q2", model.TextAnswer("1")))
	f.clock.Step(12 * time.Minute)

	first, err := c.Submit(ctx, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 80, first.Score)
	assert.Equal(t, 4.0, first.EarnedPoints)
	assert.Equal(t, 5.0, first.TotalPoints)
	assert.Equal(t, StateCompleted, c.State())

	f.clock.Step(time.Minute)
	second, err := c.Submit(ctx, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored := f.store.get(first.AttemptID)
	require.NotNil(t, stored.Score)
	require.NotNil(t, stored.SubmittedAt)
	assert.True(t, stored.Completed)
	assert.Equal(t, 80, *stored.Score)
	assert.Equal(t, 12*time.Minute, stored.Duration())
	assert.Equal(t, 1, f.store.finalSaves)

	assert.ErrorIs(t, c.SetAnswer("q1", model.TextAnswer("1")), ErrCompleted)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after submit")
	}
}

func TestSubmit_PersistenceFailureRevertsToActive(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	ctx := context.Background()
	require.NoError(t, c.SetAnswer("q1", model.TextAnswer("0")))

	f.store.setFailFinal(true)
	_, err := c.Submit(ctx, ReasonManual)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, StateActive, c.State())
	assert.GreaterOrEqual(t, f.store.finalErrors, 1)

	stored := f.store.get(c.Snapshot().AttemptID)
	assert.False(t, stored.Completed)
	assert.Nil(t, stored.Score)

	require.NoError(t, c.SetAnswer("q2", model.TextAnswer("1")))

	f.store.setFailFinal(false)
	res, err := c.Submit(ctx, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 80, res.Score)
}

func TestSubmit_AdoptsAttemptCompletedElsewhere(t *testing.T) {
	f := newFixture()
	c := f.open(t)
	id := c.Snapshot().AttemptID

	// Another process finishes the attempt first.
	other := f.store.get(id)
	now := f.clock.Now()
	score := 40
	other.Answers = model.Answers{"q1": model.TextAnswer("0")}
	other.SubmittedAt, other.Score, other.Completed = &now, &score, true
	f.store.mu.Lock()
	f.store.rows[id] = other
	f.store.mu.Unlock()

	res, err := c.Submit(context.Background(), ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Score)
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 0, f.store.finalSaves)
}

func TestOpen_CompletedAttemptIsReadOnly(t *testing.T) {
	f := newFixture()
	first := f.open(t)
	require.NoError(t, first.SetAnswer("q1", model.TextAnswer("0")))
	_, err := first.Submit(context.Background(), ReasonManual)
	require.NoError(t, err)

	c := f.open(t)
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, time.Duration(0), c.Remaining())
	assert.ErrorIs(t, c.SetAnswer("q2", model.TextAnswer("1")), ErrCompleted)

	res := c.Result()
	require.NotNil(t, res)
	assert.Equal(t, 40, res.Score)

	_, expired := c.Tick()
	assert.False(t, expired)
}

func TestRun_AutoSubmitsOnceAfterGrace(t *testing.T) {
	exam := sampleExam()
	store := newMemStore()
	student := uuid.New()

	// Started long ago, so the first tick expires it.
	started := time.Now().Add(-45 * time.Minute)
	_, err := store.CreateAttempt(context.Background(), &model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		StudentID: student,
		Answers:   model.Answers{"q1": model.TextAnswer("0")},
		StartedAt: started,
	})
	require.NoError(t, err)

	deps := Deps{Exams: memExams{exam.ID: exam}, Store: store, Clock: clock.RealClock{}, Log: zerolog.Nop()}
	cfg := Config{
		TickInterval:          5 * time.Millisecond,
		AutosaveInterval:      10 * time.Millisecond,
		GracePeriod:           20 * time.Millisecond,
		SubmitRetryMaxElapsed: 50 * time.Millisecond,
	}

	c, err := Open(context.Background(), deps, cfg, Session{UserID: student, Role: model.RoleStudent}, exam.ID)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("attempt was not auto-submitted")
	}
	require.NoError(t, <-runErr)

	res := c.Result()
	require.NotNil(t, res)
	assert.Equal(t, 40, res.Score)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.finalSaves)
}

func TestClose_StopsRun(t *testing.T) {
	f := newFixture()
	f.deps.Clock = clock.RealClock{}
	f.cfg.TickInterval = time.Hour
	f.cfg.AutosaveInterval = time.Hour
	c := f.open(t)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	assert.Eventually(t, func() bool {
		c.runMu.Lock()
		defer c.runMu.Unlock()
		return c.cancel != nil
	}, time.Second, 5*time.Millisecond)

	c.Close()
	require.NoError(t, <-runErr)
	assert.Equal(t, StateActive, c.State())
	assert.NoError(t, c.Run(context.Background()))
}

// Package attempt drives a single student's attempt at an exam: resume or
// create, countdown, autosave, answer capture and submission.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/scoring"
)

// State is a step of the attempt lifecycle.
type State string

const (
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
)

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	ReasonManual SubmitReason = "manual"
	ReasonTimeUp SubmitReason = "time_up"
)

const saveTimeout = 10 * time.Second

// ExamSource looks up exam definitions. Missing exams yield ErrExamNotFound.
type ExamSource interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// Store persists attempts.
//
// FindAttempt returns ErrAttemptNotFound when the student has no attempt.
// CreateAttempt inserts a new attempt, or returns the existing one when
// another caller created it first. SaveAttempt overwrites the whole record
// and returns ErrCompleted if the stored record is already completed.
type Store interface {
	FindAttempt(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error)
	CreateAttempt(ctx context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error)
	SaveAttempt(ctx context.Context, a *model.ExamAttempt) error
}

// Session identifies the user operating the controller.
type Session struct {
	UserID uuid.UUID
	Role   model.Role
}

// Config holds the timing policy of a controller.
type Config struct {
	TickInterval          time.Duration
	AutosaveInterval      time.Duration
	GracePeriod           time.Duration
	SubmitRetryMaxElapsed time.Duration
}

// DefaultConfig mirrors the classic exam page: a one second countdown,
// autosave every 30 seconds and auto-submit 5 seconds after time is up.
func DefaultConfig() Config {
	return Config{
		TickInterval:          time.Second,
		AutosaveInterval:      30 * time.Second,
		GracePeriod:           5 * time.Second,
		SubmitRetryMaxElapsed: 10 * time.Second,
	}
}

// Deps are the collaborators of a controller.
type Deps struct {
	Exams ExamSource
	Store Store
	Clock clock.WithTicker
	Log   zerolog.Logger
}

// Result is the outcome of a completed attempt.
type Result struct {
	AttemptID    uuid.UUID `json:"attempt_id"`
	Score        int       `json:"score"`
	EarnedPoints float64   `json:"earned_points"`
	TotalPoints  float64   `json:"total_points"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// View is a point-in-time snapshot of the controller.
type View struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	State            State         `json:"state"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int           `json:"remaining_seconds"`
	TimeUp           bool          `json:"time_up"`
	CurrentIndex     int           `json:"current_index"`
	Answers          model.Answers `json:"answers"`
	StartedAt        time.Time     `json:"started_at"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	Score            *int          `json:"score,omitempty"`
}

// Controller owns the lifecycle of one attempt.
type Controller struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	exam *model.Exam

	mu       sync.Mutex
	state    State
	attempt  *model.ExamAttempt
	answers  model.Answers
	current  int
	timeUp   bool
	result   *Result
	finished chan struct{}

	submitMu sync.Mutex
	saves    sync.WaitGroup

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Open resolves the exam and the student's attempt, creating one if none
// exists. A completed attempt is exposed read-only.
func Open(ctx context.Context, deps Deps, cfg Config, sess Session, examID uuid.UUID) (*Controller, error) {
	if sess.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if sess.Role != model.RoleStudent {
		return nil, ErrForbidden
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	c := &Controller{
		deps:     deps,
		cfg:      cfg,
		state:    StateLoading,
		finished: make(chan struct{}),
		log: deps.Log.With().
			Str("component", "attempt_controller").
			Str("exam_id", examID.String()).
			Str("student_id", sess.UserID.String()).
			Logger(),
	}

	exam, err := deps.Exams.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	c.exam = exam

	a, err := deps.Store.FindAttempt(ctx, examID, sess.UserID)
	switch {
	case err == nil:
		c.log.Debug().Str("attempt_id", a.ID.String()).Msg("Resuming attempt")
	case errors.Is(err, ErrNotFound):
		a, err = deps.Store.CreateAttempt(ctx, &model.ExamAttempt{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: sess.UserID,
			Answers:   model.Answers{},
			StartedAt: deps.Clock.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		c.log.Info().Str("attempt_id", a.ID.String()).Msg("Attempt started")
	default:
		return nil, fmt.Errorf("find attempt: %w", err)
	}

	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	c.attempt = a
	c.answers = a.Answers.Clone()
	c.log = c.log.With().Str("attempt_id", a.ID.String()).Logger()

	if a.Completed {
		c.result = c.resultFor(a)
		c.state = StateCompleted
		close(c.finished)
	} else {
		c.state = StateActive
	}
	return c, nil
}

// Exam returns the exam being taken.
func (c *Controller) Exam() *model.Exam { return c.exam }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the attempt is completed.
func (c *Controller) Done() <-chan struct{} { return c.finished }

// Result returns the outcome of a completed attempt, or nil.
func (c *Controller) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// Attempt returns a copy of the attempt including unsaved answers.
func (c *Controller) Attempt() *model.ExamAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.attempt.Clone()
	a.Answers = c.answers.Clone()
	return a
}

// Remaining returns the time left, never negative.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

// Snapshot returns the current view of the attempt.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.remainingLocked()
	v := View{
		AttemptID:        c.attempt.ID,
		ExamID:           c.attempt.ExamID,
		State:            c.state,
		Remaining:        remaining,
		RemainingSeconds: int(remaining / time.Second),
		TimeUp:           c.timeUp,
		CurrentIndex:     c.current,
		Answers:          c.answers.Clone(),
		StartedAt:        c.attempt.StartedAt,
		SubmittedAt:      c.attempt.SubmittedAt,
		Score:            c.attempt.Score,
	}
	return v
}

func (c *Controller) remainingLocked() time.Duration {
	if c.state == StateCompleted {
		return 0
	}
	limit := c.exam.TimeLimit()
	elapsed := c.deps.Clock.Since(c.attempt.StartedAt).Truncate(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := limit - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Tick recomputes the remaining time. It reports expired exactly once,
// the first time it observes no time left on an active attempt.
func (c *Controller) Tick() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.remainingLocked()
	if c.state != StateActive || c.timeUp {
		return remaining, false
	}
	if remaining <= 0 {
		c.timeUp = true
		c.log.Info().Msg("Time is up")
		return 0, true
	}
	return remaining, false
}

// SetAnswer overwrites the answer for a question. Content is not validated.
func (c *Controller) SetAnswer(questionID string, value model.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writableLocked(); err != nil {
		return err
	}
	if c.exam.QuestionIndex(questionID) < 0 {
		return ErrUnknownQuestion
	}
	c.answers[questionID] = value
	return nil
}

// AnswerCurrent sets the answer for the question currently displayed.
func (c *Controller) AnswerCurrent(value model.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writableLocked(); err != nil {
		return err
	}
	if c.current >= len(c.exam.Questions) {
		return ErrUnknownQuestion
	}
	c.answers[c.exam.Questions[c.current].ID] = value
	return nil
}

func (c *Controller) writableLocked() error {
	switch c.state {
	case StateCompleted:
		return ErrCompleted
	case StateActive:
	default:
		return ErrNotActive
	}
	if c.timeUp || c.remainingLocked() <= 0 {
		return ErrTimeUp
	}
	return nil
}

// CurrentIndex returns the index of the displayed question.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Next moves to the following question and autosaves.
func (c *Controller) Next(ctx context.Context) int {
	return c.navigate(ctx, func(i int) int { return i + 1 })
}

// Prev moves to the preceding question and autosaves.
func (c *Controller) Prev(ctx context.Context) int {
	return c.navigate(ctx, func(i int) int { return i - 1 })
}

// GoTo jumps to the question at index and autosaves.
func (c *Controller) GoTo(ctx context.Context, index int) int {
	return c.navigate(ctx, func(int) int { return index })
}

func (c *Controller) navigate(ctx context.Context, move func(int) int) int {
	c.mu.Lock()
	next := move(c.current)
	if last := len(c.exam.Questions) - 1; next > last {
		next = last
	}
	if next < 0 {
		next = 0
	}
	c.current = next
	c.mu.Unlock()

	c.Autosave(ctx)
	return next
}

// Autosave persists the current answers without waiting for the write.
// It never changes completed or startedAt, and does nothing unless active.
func (c *Controller) Autosave(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	snap := c.attempt.Clone()
	snap.Answers = c.answers.Clone()
	c.saves.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.saves.Done()

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()

		if err := c.deps.Store.SaveAttempt(saveCtx, snap); err != nil {
			c.log.Warn().Err(err).Msg("Autosave failed")
			return
		}

		c.mu.Lock()
		if c.state == StateActive {
			c.attempt.Answers = snap.Answers
		}
		c.mu.Unlock()
	}()
}

// Flush blocks until every in-flight autosave has finished.
func (c *Controller) Flush() {
	c.saves.Wait()
}

// Submit scores and completes the attempt. Calling it on a completed
// attempt returns the existing result unchanged.
func (c *Controller) Submit(ctx context.Context, reason SubmitReason) (*Result, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateCompleted:
		r := *c.result
		c.mu.Unlock()
		return &r, nil
	case StateActive:
	default:
		c.mu.Unlock()
		return nil, ErrNotActive
	}
	c.state = StateSubmitting
	draft := c.attempt.Clone()
	draft.Answers = c.answers.Clone()
	c.mu.Unlock()

	// A pending autosave must not land after the final write.
	c.saves.Wait()

	if err := c.deps.Store.SaveAttempt(ctx, draft); err != nil && !errors.Is(err, ErrCompleted) {
		c.log.Warn().Err(err).Msg("Saving answers before submit failed")
	}

	report := scoring.Grade(c.exam.Questions, draft.Answers)

	now := c.deps.Clock.Now()
	final := draft.Clone()
	final.SubmittedAt = &now
	final.Score = &report.Score
	final.Completed = true

	err := backoff.Retry(func() error {
		err := c.deps.Store.SaveAttempt(ctx, final)
		if errors.Is(err, ErrCompleted) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.submitBackOff(), ctx))

	if errors.Is(err, ErrCompleted) {
		// Completed elsewhere; adopt the stored result.
		return c.adoptStored(ctx)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Submit failed")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result := &Result{
		AttemptID:    final.ID,
		Score:        report.Score,
		EarnedPoints: report.EarnedPoints,
		TotalPoints:  report.TotalPoints,
		SubmittedAt:  now,
	}
	c.complete(final, result)

	c.log.Info().
		Str("reason", string(reason)).
		Int("score", report.Score).
		Float64("earned", report.EarnedPoints).
		Float64("total", report.TotalPoints).
		Msg("Attempt submitted and graded")

	r := *result
	return &r, nil
}

func (c *Controller) adoptStored(ctx context.Context) (*Result, error) {
	stored, err := c.deps.Store.FindAttempt(ctx, c.attempt.ExamID, c.attempt.StudentID)
	if err != nil || !stored.Completed {
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		if err == nil {
			err = ErrNotActive
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	result := c.resultFor(stored)
	c.complete(stored, result)
	r := *result
	return &r, nil
}

func (c *Controller) complete(a *model.ExamAttempt, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = a
	c.answers = a.Answers.Clone()
	c.result = result
	c.state = StateCompleted
	close(c.finished)
}

func (c *Controller) resultFor(a *model.ExamAttempt) *Result {
	report := scoring.Grade(c.exam.Questions, a.Answers)
	r := &Result{
		AttemptID:    a.ID,
		Score:        report.Score,
		EarnedPoints: report.EarnedPoints,
		TotalPoints:  report.TotalPoints,
	}
	if a.Score != nil {
		r.Score = *a.Score
	}
	if a.SubmittedAt != nil {
		r.SubmittedAt = *a.SubmittedAt
	}
	return r
}

func (c *Controller) submitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.cfg.SubmitRetryMaxElapsed
	return b
}

// Run drives the countdown and the periodic autosave until the attempt
// completes, ctx is cancelled or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.closed {
		c.runMu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.runMu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.runMu.Unlock()

	defer close(done)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.countdown(gctx) })
	g.Go(func() error { return c.autosaveLoop(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops both timers and waits for them to exit. In-flight writes are
// not cancelled.
func (c *Controller) Close() {
	c.runMu.Lock()
	c.closed = true
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) countdown(ctx context.Context) error {
	ticker := c.deps.Clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, expired := c.Tick(); expired {
			return c.autoSubmit(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.finished:
			return nil
		case <-ticker.C():
		}
	}
}

func (c *Controller) autoSubmit(ctx context.Context) error {
	if c.cfg.GracePeriod > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.finished:
			return nil
		case <-c.deps.Clock.After(c.cfg.GracePeriod):
		}
	}

	if _, err := c.Submit(ctx, ReasonTimeUp); err != nil {
		return fmt.Errorf("auto-submit: %w", err)
	}
	return nil
}

func (c *Controller) autosaveLoop(ctx context.Context) error {
	ticker := c.deps.Clock.NewTicker(c.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.finished:
			return nil
		case <-ticker.C():
			c.Autosave(ctx)
		}
	}
}

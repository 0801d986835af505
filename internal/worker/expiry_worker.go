package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/repository"
)

const (
	ExpiryBatchSize   = 50
	ExpiryConcurrency = 8
)

// ExpiredLister finds attempts left in progress past their time limit.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]repository.AttemptRef, error)
}

// ExpiryWorker auto-submits attempts whose student went away before the
// time limit ran out. Each one goes through the attempt controller, so the
// score and idempotence match an in-session auto-submit.
type ExpiryWorker struct {
	lister   ExpiredLister
	deps     attempt.Deps
	cfg      attempt.Config
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(lister ExpiredLister, deps attempt.Deps, cfg attempt.Config, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		lister:   lister,
		deps:     deps,
		cfg:      cfg,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps periodically until ctx is cancelled. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := w.deps.Clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C():
		}
	}
}

// Sweep submits one batch of expired attempts and returns how many completed.
func (w *ExpiryWorker) Sweep(ctx context.Context) int {
	refs, err := w.lister.ListExpired(ctx, w.deps.Clock.Now(), w.cfg.GracePeriod, ExpiryBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("List expired attempts failed")
		}
		return 0
	}
	if len(refs) == 0 {
		return 0
	}

	var submitted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ExpiryConcurrency)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := w.submit(gctx, ref); err != nil {
				w.log.Warn().
					Err(err).
					Str("exam_id", ref.ExamID.String()).
					Str("student_id", ref.StudentID.String()).
					Msg("Auto-submit of expired attempt failed")
				return nil
			}
			submitted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(submitted.Load())
	w.log.Info().Int("found", len(refs)).Int("submitted", n).Msg("Expired attempts swept")
	return n
}

func (w *ExpiryWorker) submit(ctx context.Context, ref repository.AttemptRef) error {
	sess := attempt.Session{UserID: ref.StudentID, Role: model.RoleStudent}
	ctrl, err := attempt.Open(ctx, w.deps, w.cfg, sess, ref.ExamID)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	_, err = ctrl.Submit(ctx, attempt.ReasonTimeUp)
	return err
}

// Package reconcile recomputes derived progress counters from the
// authoritative activity records so they cannot drift permanently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/p-n-ai/pai-progress/internal/learning"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

const (
	defaultWorkers = 8
	defaultTimeout = 30 * time.Second
)

// Config wires an Engine. Store and Source are required.
type Config struct {
	Store   progress.Store
	Source  learning.Source
	Gate    *learning.QuizGate
	Locker  progress.Locker
	Workers int
	// Limiter throttles how fast users are started in ReconcileAll.
	// Nil means unthrottled.
	Limiter *rate.Limiter
	// Timeout bounds a single user's reconciliation.
	Timeout time.Duration
}

// Engine recomputes course, comment and article counters per user.
type Engine struct {
	store   progress.Store
	source  learning.Source
	gate    *learning.QuizGate
	locker  progress.Locker
	workers int
	limiter *rate.Limiter
	timeout time.Duration
}

// Failure records one user whose reconciliation failed.
type Failure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// Summary describes a ReconcileAll run.
type Summary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Failures  []Failure     `json:"failures"`
	Duration  time.Duration `json:"duration"`
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("learning source is required")
	}

	e := &Engine{
		store:   cfg.Store,
		source:  cfg.Source,
		gate:    cfg.Gate,
		locker:  cfg.Locker,
		workers: cfg.Workers,
		limiter: cfg.Limiter,
		timeout: cfg.Timeout,
	}
	if e.gate == nil {
		e.gate = learning.NewQuizGate(cfg.Source)
	}
	if e.locker == nil {
		e.locker = &progress.KeyedMutex{}
	}
	if e.workers < 1 {
		e.workers = defaultWorkers
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	return e, nil
}

// Reconcile recomputes and stores the counters of one user. XP, level,
// badges and streak are left alone. Running it twice without new
// activity yields the same counts.
func (e *Engine) Reconcile(ctx context.Context, userID string) (progress.Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if !progress.ValidUserID(userID) {
		return progress.Counts{}, fmt.Errorf("user id %q: %w", userID, progress.ErrInvalidUser)
	}
	ok, err := e.source.UserExists(ctx, userID)
	if err != nil {
		return progress.Counts{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if !ok {
		return progress.Counts{}, fmt.Errorf("user %s: %w", userID, progress.ErrInvalidUser)
	}

	unlock, err := e.locker.Lock(ctx, progress.LockKey(userID))
	if err != nil {
		return progress.Counts{}, fmt.Errorf("lock progress for %s: %w", userID, progress.LockError(err))
	}
	defer unlock()

	counts, err := e.count(ctx, userID)
	if err != nil {
		return progress.Counts{}, err
	}
	if _, err := e.store.SetCounts(ctx, userID, counts); err != nil {
		return progress.Counts{}, fmt.Errorf("store counts for %s: %w", userID, err)
	}

	slog.Debug("progress reconciled",
		"user_id", userID,
		"courses_completed", counts.CoursesCompleted,
		"articles_read", counts.ArticlesRead,
		"comments_posted", counts.CommentsPosted,
	)
	return counts, nil
}

func (e *Engine) count(ctx context.Context, userID string) (progress.Counts, error) {
	var counts progress.Counts

	enrollments, err := e.source.ListEnrollments(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("list enrollments for %s: %w", userID, err)
	}
	for _, en := range enrollments {
		done, err := e.courseCompleted(ctx, en)
		if errors.Is(err, learning.ErrNotFound) {
			slog.Warn("skipping enrollment with missing records",
				"user_id", userID,
				"course_id", en.CourseID,
				"error", err,
			)
			continue
		}
		if err != nil {
			return counts, err
		}
		if done {
			counts.CoursesCompleted++
		}
	}

	if counts.CommentsPosted, err = e.source.CountComments(ctx, userID); err != nil {
		return counts, fmt.Errorf("count comments for %s: %w", userID, err)
	}
	if counts.ArticlesRead, err = e.source.CountArticlesRead(ctx, userID); err != nil {
		return counts, fmt.Errorf("count article reads for %s: %w", userID, err)
	}
	return counts, nil
}

// courseCompleted applies the quiz-gated completion rule; the enrollment's
// own flag is not consulted.
func (e *Engine) courseCompleted(ctx context.Context, en learning.Enrollment) (bool, error) {
	course, err := e.source.GetCourse(ctx, en.CourseID)
	if err != nil {
		return false, fmt.Errorf("load course %s: %w", en.CourseID, err)
	}
	if !learning.CourseComplete(course, en) {
		return false, nil
	}
	return e.gate.RequirementMet(ctx, en.UserID, en.CourseID)
}

// ReconcileAll reconciles every user with a bounded worker pool. A failing
// user is logged and counted but never stops the batch; the returned error
// is only set when the user list cannot be read or ctx ends.
func (e *Engine) ReconcileAll(ctx context.Context) (Summary, error) {
	start := time.Now()

	ids, err := e.source.ListUserIDs(ctx)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return Summary{}, fmt.Errorf("list users: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Failures: []Failure{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			_, err := e.Reconcile(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, Failure{UserID: id, Error: err.Error()})
				usersTotal.WithLabelValues("failed").Inc()
				slog.Warn("reconcile user failed",
					"user_id", id,
					"error", err,
				)
				return nil
			}
			usersTotal.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(summary.Failures, func(a, b Failure) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	summary.Duration = time.Since(start)
	runDuration.Observe(summary.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		runsTotal.WithLabelValues("canceled").Inc()
		return summary, fmt.Errorf("reconcile all: %w", err)
	}
	runsTotal.WithLabelValues("ok").Inc()
	lastRun.SetToCurrentTime()

	slog.Info("reconciliation finished",
		"users", len(ids),
		"processed", summary.Processed,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)
	return summary, nil
}

// Run calls ReconcileAll every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", interval)
	}
	slog.Info("reconciliation scheduled", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

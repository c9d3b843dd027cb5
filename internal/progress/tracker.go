package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-progress/internal/gamification"
	"github.com/p-n-ai/pai-progress/internal/learning"
)

const defaultRequestTimeout = 5 * time.Second

// TrackerConfig wires a Tracker. Store and Source are required; every
// other field has an in-process default.
type TrackerConfig struct {
	Store          Store
	Source         learning.Source
	Gate           *learning.QuizGate
	Badges         gamification.BadgeTable
	Locker         Locker
	Quota          CommentQuota
	Notifier       Notifier
	Location       *time.Location
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Tracker turns activity events into XP, levels, streaks and badges.
type Tracker struct {
	store    Store
	source   learning.Source
	gate     *learning.QuizGate
	badges   gamification.BadgeTable
	locker   Locker
	quota    CommentQuota
	notifier Notifier
	loc      *time.Location
	timeout  time.Duration
	now      func() time.Time
}

// NewTracker creates a Tracker from cfg.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("learning source is required")
	}

	t := &Tracker{
		store:    cfg.Store,
		source:   cfg.Source,
		gate:     cfg.Gate,
		badges:   cfg.Badges,
		locker:   cfg.Locker,
		quota:    cfg.Quota,
		notifier: cfg.Notifier,
		loc:      cfg.Location,
		timeout:  cfg.RequestTimeout,
		now:      cfg.Now,
	}
	if t.gate == nil {
		t.gate = learning.NewQuizGate(cfg.Source)
	}
	if t.badges.Len() == 0 {
		t.badges = gamification.DefaultBadgeTable()
	}
	if t.locker == nil {
		t.locker = &KeyedMutex{}
	}
	if t.quota == nil {
		t.quota = NewMemoryQuota(DefaultCommentDailyCap)
	}
	if t.notifier == nil {
		t.notifier = nopNotifier{}
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	if t.timeout <= 0 {
		t.timeout = defaultRequestTimeout
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// Store returns the underlying progress store.
func (t *Tracker) Store() Store { return t.store }

// Locker returns the per-user locker shared with reconciliation.
func (t *Tracker) Locker() Locker { return t.locker }

// Badges returns the active badge table.
func (t *Tracker) Badges() gamification.BadgeTable { return t.badges }

// Progress returns the user's record, creating the zero state on first
// access.
func (t *Tracker) Progress(ctx context.Context, userID string) (*Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	p, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, classify("get progress", err)
	}
	return p, nil
}

// History returns the user's most recent ledger entries, newest first.
func (t *Tracker) History(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	entries, err := t.store.History(ctx, userID, limit)
	if err != nil {
		return nil, classify("get history", err)
	}
	return entries, nil
}

// ApplyEvent validates ev, computes its award and applies it to the
// user's record exactly once. applied is false when the event's award was
// already claimed; the returned record is then unchanged.
func (t *Tracker) ApplyEvent(ctx context.Context, userID string, ev Event) (p *Progress, applied bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ev = ev.normalize()
	start := time.Now()
	defer func() {
		eventLatency.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
		eventsTotal.WithLabelValues(string(ev.Kind), outcome(applied, err)).Inc()
	}()

	if err := t.checkUser(ctx, userID); err != nil {
		return nil, false, err
	}
	if err := ev.Validate(); err != nil {
		return nil, false, err
	}
	now := t.now()
	if ev.OccurredAt.IsZero() || ev.OccurredAt.After(now) {
		ev.OccurredAt = now
	}
	if ev.Kind == KindQuizSubmitted {
		if ev, err = t.gradeQuiz(ctx, userID, ev); err != nil {
			return nil, false, err
		}
	}

	xp, err := t.award(ctx, userID, ev, now)
	if err != nil {
		return nil, false, err
	}

	unlock, err := t.locker.Lock(ctx, LockKey(userID))
	if err != nil {
		return nil, false, classify("lock progress", LockError(err))
	}
	defer unlock()

	var before Progress
	var delta Delta
	p, applied, err = t.store.Apply(ctx, userID, ev.AwardKey(), func(cur Progress) (Delta, error) {
		before = cur
		delta = t.plan(cur, ev, xp)
		return delta, nil
	})
	if err != nil {
		slog.Error("apply progress event failed",
			"user_id", userID,
			"kind", ev.Kind,
			"error", err,
		)
		return nil, false, classify("apply event", err)
	}

	if !applied {
		slog.Debug("progress event replayed",
			"user_id", userID,
			"award_key", ev.AwardKey(),
		)
		return p, false, nil
	}

	xpAwarded.WithLabelValues(string(ev.Kind)).Add(float64(delta.XP))
	slog.Info("progress event applied",
		"user_id", userID,
		"kind", ev.Kind,
		"xp", delta.XP,
		"total_xp", p.TotalXP,
		"level", p.CurrentLevel,
	)
	t.announce(ctx, before, *p, delta.NewBadges)
	return p, true, nil
}

// award returns the XP an event is worth and enforces its preconditions.
// The comment cap is counted against the server's day, not the event's.
func (t *Tracker) award(ctx context.Context, userID string, ev Event, now time.Time) (int, error) {
	switch ev.Kind {
	case KindArticleRead:
		return gamification.ArticleXP(ev.WordCount), nil

	case KindCommentPosted:
		day := gamification.DayKey(now, t.loc)
		ok, err := t.quota.Allow(ctx, userID, day, ev.CommentID)
		if err != nil {
			return 0, classify("check comment quota", err)
		}
		if !ok {
			slog.Debug("comment over daily cap",
				"user_id", userID,
				"day", day,
			)
			return 0, nil
		}
		return gamification.CommentXP, nil

	case KindQuizSubmitted:
		if ev.Passed {
			return gamification.QuizPassXP, nil
		}
		return 0, nil

	case KindCourseCompleted:
		return t.courseAward(ctx, userID, ev.CourseID)
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
}

// gradeQuiz sets ev.Passed from the quiz's passing score. The client's
// flag is ignored.
func (t *Tracker) gradeQuiz(ctx context.Context, userID string, ev Event) (Event, error) {
	quiz, err := t.source.GetQuiz(ctx, ev.QuizID)
	if err != nil {
		return ev, classify("load quiz", err)
	}
	if !quiz.Published {
		return ev, fmt.Errorf("quiz %s: unpublished: %w", ev.QuizID, ErrNotFound)
	}
	passed := ev.Score >= quiz.PassingScore
	if passed != ev.Passed {
		slog.Debug("quiz pass flag overridden by score",
			"user_id", userID,
			"quiz_id", ev.QuizID,
			"score", ev.Score,
			"passing_score", quiz.PassingScore,
		)
	}
	ev.Passed = passed
	return ev, nil
}

func (t *Tracker) courseAward(ctx context.Context, userID, courseID string) (int, error) {
	enrollment, err := t.source.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		return 0, classify("load enrollment", err)
	}
	if !enrollment.Completed {
		return 0, fmt.Errorf("course %s: enrollment not marked completed: %w", courseID, ErrRequirementNotMet)
	}

	course, err := t.source.GetCourse(ctx, courseID)
	if err != nil {
		return 0, classify("load course", err)
	}
	if !learning.CourseComplete(course, enrollment) {
		return 0, fmt.Errorf("course %s: articles incomplete: %w", courseID, ErrRequirementNotMet)
	}

	met, err := t.gate.RequirementMet(ctx, userID, courseID)
	if err != nil {
		return 0, classify("check quiz gate", err)
	}
	if !met {
		return 0, fmt.Errorf("course %s: quizzes not passed: %w", courseID, ErrRequirementNotMet)
	}

	return gamification.CourseXP(gamification.ParseDifficulty(course.Difficulty), len(course.Articles)), nil
}

// plan computes the delta of ev against cur. It is pure.
func (t *Tracker) plan(cur Progress, ev Event, xp int) Delta {
	d := Delta{Kind: ev.Kind, XP: xp}
	switch ev.Kind {
	case KindArticleRead:
		d.ArticlesRead = 1
	case KindCommentPosted:
		d.CommentsPosted = 1
	case KindCourseCompleted:
		d.CoursesCompleted = 1
	}
	d.Streak = gamification.UpdateStreak(cur.Streak(), ev.OccurredAt, t.loc)

	next := d.apply(cur, cur.UpdatedAt)
	d.NewBadges = gamification.Evaluate(next.Snapshot(), t.badges, cur.Badges)
	return d
}

// announce records metrics and sends notifications for a committed write.
func (t *Tracker) announce(ctx context.Context, before, after Progress, newBadges []string) {
	now := t.now()
	var notes []Notification
	if after.CurrentLevel > before.CurrentLevel {
		levelUps.Inc()
		notes = append(notes, Notification{
			ID:        uuid.NewString(),
			UserID:    after.UserID,
			Kind:      NotifyLevelUp,
			Level:     after.CurrentLevel,
			CreatedAt: now,
		})
	}
	for _, id := range newBadges {
		badgesUnlocked.WithLabelValues(id).Inc()
		n := Notification{
			ID:        uuid.NewString(),
			UserID:    after.UserID,
			Kind:      NotifyBadgeUnlocked,
			BadgeID:   id,
			CreatedAt: now,
		}
		if def, ok := t.badges.Get(id); ok {
			n.BadgeName = def.Name
		}
		notes = append(notes, n)
	}

	for _, n := range notes {
		if err := t.notifier.Notify(ctx, n); err != nil {
			slog.Warn("progress notification failed",
				"user_id", n.UserID,
				"kind", n.Kind,
				"error", err,
			)
		}
	}
}

func (t *Tracker) checkUser(ctx context.Context, userID string) error {
	if !ValidUserID(userID) {
		return fmt.Errorf("user id %q: %w", userID, ErrInvalidUser)
	}
	ok, err := t.source.UserExists(ctx, userID)
	if err != nil {
		return classify("lookup user", err)
	}
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrInvalidUser)
	}
	return nil
}

func outcome(applied bool, err error) string {
	switch {
	case err == nil && applied:
		return "applied"
	case err == nil:
		return "replayed"
	case errors.Is(err, ErrInvalidUser),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrRequirementNotMet),
		errors.Is(err, ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

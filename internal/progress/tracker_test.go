package progress_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/learning"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []progress.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n progress.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) kinds() []progress.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.NotificationKind, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type fixture struct {
	tracker  *progress.Tracker
	source   *learning.MemorySource
	store    *progress.MemoryStore
	notifier *recordingNotifier
	clock    *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	src := learning.NewMemorySource()
	src.AddUser("u1")
	src.AddUser("u2")
	store := progress.NewMemoryStore()
	notifier := &recordingNotifier{}
	clk := &clock{now: day0}

	tracker, err := progress.NewTracker(progress.TrackerConfig{
		Store:    store,
		Source:   src,
		Notifier: notifier,
		Now:      clk.Now,
	})
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	return fixture{tracker: tracker, source: src, store: store, notifier: notifier, clock: clk}
}

func TestNewTracker_RequiresStoreAndSource(t *testing.T) {
	if _, err := progress.NewTracker(progress.TrackerConfig{Source: learning.NewMemorySource()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := progress.NewTracker(progress.TrackerConfig{Store: progress.NewMemoryStore()}); err == nil {
		t.Error("expected error without source")
	}
}

func TestTracker_Progress_LazyZeroState(t *testing.T) {
	f := newFixture(t)

	p, err := f.tracker.Progress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.TotalXP != 0 || p.CurrentLevel != 1 || len(p.Badges) != 0 {
		t.Errorf("zero state = %+v", p)
	}
}

func TestTracker_RejectsInvalidUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := progress.Event{Kind: progress.KindArticleRead, ArticleID: "a1"}

	for _, id := range []string{"", "bad user", "ghost"} {
		if _, _, err := f.tracker.ApplyEvent(ctx, id, ev); !errors.Is(err, progress.ErrInvalidUser) {
			t.Errorf("ApplyEvent(%q) error = %v, want ErrInvalidUser", id, err)
		}
	}
	if _, err := f.tracker.Progress(ctx, "ghost"); !errors.Is(err, progress.ErrInvalidUser) {
		t.Errorf("Progress(ghost) error = %v, want ErrInvalidUser", err)
	}
}

func TestTracker_RejectsInvalidEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: "dance"})
	if !errors.Is(err, progress.ErrInvalidEvent) {
		t.Fatalf("error = %v, want ErrInvalidEvent", err)
	}
	p, _ := f.tracker.Progress(ctx, "u1")
	if p.TotalXP != 0 || p.Stats.CurrentStreak != 0 {
		t.Errorf("rejected event mutated record: %+v", p)
	}
}

func TestTracker_ArticleTiers(t *testing.T) {
	tests := []struct {
		words  int
		wantXP int
	}{
		{500, 10},
		{1500, 20},
		{2500, 30},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d words", tt.words), func(t *testing.T) {
			f := newFixture(t)
			p, applied, err := f.tracker.ApplyEvent(context.Background(), "u1", progress.Event{
				Kind:      progress.KindArticleRead,
				ArticleID: "a1",
				WordCount: tt.words,
			})
			if err != nil {
				t.Fatalf("ApplyEvent() error = %v", err)
			}
			if !applied {
				t.Fatal("expected applied")
			}
			if p.TotalXP != tt.wantXP {
				t.Errorf("TotalXP = %d, want %d", p.TotalXP, tt.wantXP)
			}
			if p.Stats.ArticlesRead != 1 {
				t.Errorf("ArticlesRead = %d, want 1", p.Stats.ArticlesRead)
			}
		})
	}
}

func seedCourse(src *learning.MemorySource, userID string, completed bool) {
	src.PutCourse(learning.Course{ID: "go-101", Title: "Go", Difficulty: "beginner", Articles: []string{"a1", "a2", "a3"}})
	src.PutEnrollment(learning.Enrollment{
		UserID:            userID,
		CourseID:          "go-101",
		CompletedArticles: []string{"a1", "a2", "a3"},
		Completed:         completed,
	})
}

func TestTracker_CourseCompletion_AwardedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedCourse(f.source, "u1", true)
	ev := progress.Event{Kind: progress.KindCourseCompleted, CourseID: "go-101"}

	p, applied, err := f.tracker.ApplyEvent(ctx, "u1", ev)
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if !applied || p.TotalXP != 80 || p.Stats.CoursesCompleted != 1 {
		t.Fatalf("first completion = applied %v, %+v; want 80 XP and 1 course", applied, p)
	}
	if !slices.Contains(p.Badges, "first-course") {
		t.Errorf("Badges = %v, want first-course", p.Badges)
	}

	p, applied, err = f.tracker.ApplyEvent(ctx, "u1", ev)
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}
	if applied {
		t.Error("replay should not apply")
	}
	if p.TotalXP != 80 || p.Stats.CoursesCompleted != 1 {
		t.Errorf("replay changed record: %+v", p)
	}

	history, _ := f.tracker.History(ctx, "u1", 0)
	if len(history) != 1 {
		t.Errorf("history = %d entries, want 1", len(history))
	}
}

func TestTracker_CourseCompletion_Requirements(t *testing.T) {
	ctx := context.Background()

	t.Run("not enrolled", func(t *testing.T) {
		f := newFixture(t)
		f.source.PutCourse(learning.Course{ID: "go-101", Articles: []string{"a1"}})
		_, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindCourseCompleted, CourseID: "go-101"})
		if !errors.Is(err, progress.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("flag not set", func(t *testing.T) {
		f := newFixture(t)
		seedCourse(f.source, "u1", false)
		_, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindCourseCompleted, CourseID: "go-101"})
		if !errors.Is(err, progress.ErrRequirementNotMet) {
			t.Errorf("error = %v, want ErrRequirementNotMet", err)
		}
	})

	t.Run("quiz gate", func(t *testing.T) {
		f := newFixture(t)
		seedCourse(f.source, "u1", true)
		f.source.PutQuiz(learning.Quiz{ID: "q1", CourseID: "go-101", PassingScore: 70, Published: true})
		f.source.AddAttempt(learning.QuizAttempt{ID: "x1", UserID: "u1", QuizID: "q1", Score: 60, CompletedAt: day0})

		ev := progress.Event{Kind: progress.KindCourseCompleted, CourseID: "go-101"}
		if _, _, err := f.tracker.ApplyEvent(ctx, "u1", ev); !errors.Is(err, progress.ErrRequirementNotMet) {
			t.Fatalf("error = %v, want ErrRequirementNotMet", err)
		}
		p, _ := f.tracker.Progress(ctx, "u1")
		if p.TotalXP != 0 {
			t.Errorf("gated course awarded XP: %d", p.TotalXP)
		}

		f.source.AddAttempt(learning.QuizAttempt{ID: "x2", UserID: "u1", QuizID: "q1", Score: 85, Passed: true, CompletedAt: day0.Add(time.Hour)})
		p, applied, err := f.tracker.ApplyEvent(ctx, "u1", ev)
		if err != nil || !applied || p.TotalXP != 80 {
			t.Errorf("after passing = %+v, %v, %v; want 80 XP applied", p, applied, err)
		}
	})
}

func TestTracker_QuizPassAwardedOnce(t *testing.T) {
	f := newFixture(t)
	f.source.PutQuiz(learning.Quiz{ID: "q1", CourseID: "go-101", PassingScore: 70, Published: true})
	ctx := context.Background()

	p, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: "q1", AttemptID: "x1", Score: 40})
	if err != nil {
		t.Fatalf("failed attempt error = %v", err)
	}
	if p.TotalXP != 0 || p.Stats.CurrentStreak != 1 {
		t.Errorf("failed attempt = %+v, want 0 XP and streak 1", p)
	}

	p, _, _ = f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: "q1", AttemptID: "x2", Score: 90, Passed: true})
	if p.TotalXP != 25 {
		t.Errorf("TotalXP = %d, want 25", p.TotalXP)
	}

	_, applied, _ := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: "q1", AttemptID: "x3", Score: 95, Passed: true})
	if applied {
		t.Error("second pass of the same quiz should not award again")
	}
}

func TestTracker_QuizPassDerivedFromScore(t *testing.T) {
	f := newFixture(t)
	f.source.PutQuiz(learning.Quiz{ID: "q1", CourseID: "go-101", PassingScore: 70, Published: true})
	ctx := context.Background()

	// A failing score claiming a pass is recorded as a failed attempt.
	p, applied, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: "q1", AttemptID: "x1", Score: 10, Passed: true})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if !applied || p.TotalXP != 0 {
		t.Errorf("forged pass = applied %v, %d XP; want applied with 0 XP", applied, p.TotalXP)
	}

	// A passing score counts even when the client flag says otherwise,
	// and the quiz award key is still free.
	p, applied, err = f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: "q1", AttemptID: "x2", Score: 70})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if !applied || p.TotalXP != 25 {
		t.Errorf("real pass = applied %v, %d XP; want applied with 25 XP", applied, p.TotalXP)
	}
}

func TestTracker_QuizMustExistAndBePublished(t *testing.T) {
	f := newFixture(t)
	f.source.PutQuiz(learning.Quiz{ID: "draft", CourseID: "go-101", PassingScore: 50})
	ctx := context.Background()

	for _, quizID := range []string{"ghost", "draft"} {
		t.Run(quizID, func(t *testing.T) {
			_, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindQuizSubmitted, QuizID: quizID, AttemptID: "x-" + quizID, Score: 100, Passed: true})
			if !errors.Is(err, progress.ErrNotFound) {
				t.Errorf("ApplyEvent(%s) error = %v, want ErrNotFound", quizID, err)
			}
		})
	}

	p, err := f.tracker.Progress(ctx, "u1")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.TotalXP != 0 {
		t.Errorf("TotalXP = %d, want 0", p.TotalXP)
	}
}

func TestTracker_CommentDailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var p *progress.Progress
	for i := range 12 {
		var err error
		p, _, err = f.tracker.ApplyEvent(ctx, "u1", progress.Event{
			Kind:       progress.KindCommentPosted,
			CommentID:  fmt.Sprintf("c%d", i),
			OccurredAt: day0,
		})
		if err != nil {
			t.Fatalf("comment %d error = %v", i, err)
		}
	}
	if p.TotalXP != 50 {
		t.Errorf("TotalXP = %d, want 50 (10 scored comments)", p.TotalXP)
	}
	if p.Stats.CommentsPosted != 12 {
		t.Errorf("CommentsPosted = %d, want 12", p.Stats.CommentsPosted)
	}

	f.clock.Set(day0.Add(24 * time.Hour))
	p, _, _ = f.tracker.ApplyEvent(ctx, "u1", progress.Event{
		Kind:       progress.KindCommentPosted,
		CommentID:  "next-day",
		OccurredAt: day0.Add(24 * time.Hour),
	})
	if p.TotalXP != 55 {
		t.Errorf("next day TotalXP = %d, want 55", p.TotalXP)
	}
}

func TestTracker_CommentCapUsesServerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 10 {
		if _, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindCommentPosted, CommentID: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("comment %d error = %v", i, err)
		}
	}

	tests := []struct {
		name string
		at   time.Time
	}{
		{"back-dated", day0.Add(-72 * time.Hour)},
		{"future-dated", day0.Add(48 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, applied, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
				Kind:       progress.KindCommentPosted,
				CommentID:  tt.name,
				OccurredAt: tt.at,
			})
			if err != nil {
				t.Fatalf("ApplyEvent() error = %v", err)
			}
			if !applied || p.TotalXP != 50 {
				t.Errorf("applied %v, TotalXP = %d; want applied with 50 (cap reached today)", applied, p.TotalXP)
			}
		})
	}
}

func TestTracker_FutureEventClampedToNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{Kind: progress.KindArticleRead, ArticleID: "a1"}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	p, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
		Kind:       progress.KindArticleRead,
		ArticleID:  "a2",
		OccurredAt: day0.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if p.Stats.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1 (tomorrow's event counts as today)", p.Stats.CurrentStreak)
	}
}

func TestTracker_StreakAcrossDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []struct {
		at          time.Time
		wantCurrent int
		wantLongest int
	}{
		{day0, 1, 1},
		{day0.Add(24 * time.Hour), 2, 2},
		{day0.Add(72 * time.Hour), 1, 2},
	}

	for i, s := range steps {
		f.clock.Set(s.at)
		p, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
			Kind:       progress.KindArticleRead,
			ArticleID:  fmt.Sprintf("a%d", i),
			OccurredAt: s.at,
		})
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		if p.Stats.CurrentStreak != s.wantCurrent || p.Stats.LongestStreak != s.wantLongest {
			t.Errorf("step %d streak = %d/%d, want %d/%d", i,
				p.Stats.CurrentStreak, p.Stats.LongestStreak, s.wantCurrent, s.wantLongest)
		}
	}
}

func TestTracker_Notifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 4 x 30 XP crosses the level 2 threshold at 100.
	for i := range 4 {
		if _, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
			Kind:      progress.KindArticleRead,
			ArticleID: fmt.Sprintf("a%d", i),
			WordCount: 2500,
		}); err != nil {
			t.Fatalf("ApplyEvent() error = %v", err)
		}
	}

	got := f.notifier.kinds()
	want := []progress.NotificationKind{progress.NotifyBadgeUnlocked, progress.NotifyLevelUp}
	if !slices.Equal(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
	if n := f.notifier.notes[0]; n.BadgeID != "first-article" || n.BadgeName == "" {
		t.Errorf("badge notification = %+v", n)
	}
}

func TestTracker_ConcurrentEventsSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every article is sent twice; only one copy may count.
			for range 2 {
				if _, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
					Kind:      progress.KindArticleRead,
					ArticleID: fmt.Sprintf("a%d", i),
				}); err != nil {
					t.Errorf("ApplyEvent() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	p, _ := f.tracker.Progress(ctx, "u1")
	if p.TotalXP != n*10 || p.Stats.ArticlesRead != n {
		t.Errorf("after concurrent events = %d XP, %d articles; want %d, %d", p.TotalXP, p.Stats.ArticlesRead, n*10, n)
	}
	if p.CurrentLevel != 4 {
		t.Errorf("CurrentLevel = %d, want 4 for 500 XP", p.CurrentLevel)
	}
}

func TestTracker_LevelConsistentWithXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prev := 1
	for i := range 40 {
		p, _, err := f.tracker.ApplyEvent(ctx, "u1", progress.Event{
			Kind:      progress.KindArticleRead,
			ArticleID: fmt.Sprintf("a%d", i),
			WordCount: 2500,
		})
		if err != nil {
			t.Fatalf("ApplyEvent() error = %v", err)
		}
		if p.CurrentLevel < prev {
			t.Fatalf("level decreased from %d to %d", prev, p.CurrentLevel)
		}
		prev = p.CurrentLevel
	}
	p, _ := f.tracker.Progress(ctx, "u1")
	if p.TotalXP != 1200 || p.CurrentLevel != 5 {
		t.Errorf("final = %d XP level %d, want 1200 XP level 5", p.TotalXP, p.CurrentLevel)
	}
	for _, id := range []string{"xp-1000", "level-5", "bookworm"} {
		if !slices.Contains(p.Badges, id) {
			t.Errorf("Badges = %v, missing %s", p.Badges, id)
		}
	}
}

// Package progress owns the per-user progress record. It applies activity
// events atomically, exactly once per award, and serializes every write
// for a user.
package progress

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/p-n-ai/pai-progress/internal/gamification"
)

// Stats are the derived activity counters and the streak.
type Stats struct {
	CoursesCompleted int        `json:"courses_completed"`
	ArticlesRead     int        `json:"articles_read"`
	CommentsPosted   int        `json:"comments_posted"`
	CurrentStreak    int        `json:"current_streak"`
	LongestStreak    int        `json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
}

// Progress is the gamification record of one user.
type Progress struct {
	UserID       string    `json:"user_id"`
	TotalXP      int       `json:"total_xp"`
	CurrentLevel int       `json:"current_level"`
	Badges       []string  `json:"badges"`
	Stats        Stats     `json:"stats"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewProgress returns the zero state for userID.
func NewProgress(userID string) Progress {
	return Progress{
		UserID:       userID,
		CurrentLevel: 1,
		Badges:       []string{},
	}
}

// Snapshot returns the values badge predicates are evaluated against.
func (p Progress) Snapshot() gamification.Snapshot {
	return gamification.Snapshot{
		TotalXP:          p.TotalXP,
		Level:            p.CurrentLevel,
		CoursesCompleted: p.Stats.CoursesCompleted,
		ArticlesRead:     p.Stats.ArticlesRead,
		CommentsPosted:   p.Stats.CommentsPosted,
		CurrentStreak:    p.Stats.CurrentStreak,
		LongestStreak:    p.Stats.LongestStreak,
	}
}

// Streak returns the streak state held in Stats.
func (p Progress) Streak() gamification.Streak {
	return gamification.Streak{
		Current:      p.Stats.CurrentStreak,
		Longest:      p.Stats.LongestStreak,
		LastActivity: p.Stats.LastActivityDate,
	}
}

func (p Progress) clone() Progress {
	p.Badges = slices.Clone(p.Badges)
	if p.Badges == nil {
		p.Badges = []string{}
	}
	if p.Stats.LastActivityDate != nil {
		t := *p.Stats.LastActivityDate
		p.Stats.LastActivityDate = &t
	}
	return p
}

// Counts are the counters recomputed by reconciliation.
type Counts struct {
	CoursesCompleted int `json:"courses_completed"`
	ArticlesRead     int `json:"articles_read"`
	CommentsPosted   int `json:"comments_posted"`
}

// Kind identifies an activity event.
type Kind string

const (
	KindArticleRead     Kind = "article_read"
	KindCommentPosted   Kind = "comment_posted"
	KindQuizSubmitted   Kind = "quiz_submitted"
	KindCourseCompleted Kind = "course_completed"
)

// Event is one learner activity reported to the tracker.
type Event struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id,omitempty"`
	ArticleID  string    `json:"articleId,omitempty"`
	WordCount  int       `json:"wordCount,omitempty"`
	CommentID  string    `json:"commentId,omitempty"`
	QuizID     string    `json:"quizId,omitempty"`
	AttemptID  string    `json:"attemptId,omitempty"`
	Score      int       `json:"score,omitempty"`
	Passed     bool      `json:"passed,omitempty"`
	CourseID   string    `json:"courseId,omitempty"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// normalize fills the kind-specific target id from the generic ID.
func (e Event) normalize() Event {
	e.Kind = Kind(strings.TrimSpace(string(e.Kind)))
	if e.ID == "" {
		return e
	}
	switch e.Kind {
	case KindArticleRead:
		if e.ArticleID == "" {
			e.ArticleID = e.ID
		}
	case KindCommentPosted:
		if e.CommentID == "" {
			e.CommentID = e.ID
		}
	case KindQuizSubmitted:
		if e.QuizID == "" {
			e.QuizID = e.ID
		}
	case KindCourseCompleted:
		if e.CourseID == "" {
			e.CourseID = e.ID
		}
	}
	return e
}

// Validate checks the payload required by the event kind.
func (e Event) Validate() error {
	e = e.normalize()
	switch e.Kind {
	case KindArticleRead:
		if e.ArticleID == "" {
			return fmt.Errorf("%w: article id is required", ErrInvalidEvent)
		}
		if e.WordCount < 0 {
			return fmt.Errorf("%w: word count must not be negative", ErrInvalidEvent)
		}
	case KindCommentPosted:
		if e.CommentID == "" {
			return fmt.Errorf("%w: comment id is required", ErrInvalidEvent)
		}
	case KindQuizSubmitted:
		if e.QuizID == "" {
			return fmt.Errorf("%w: quiz id is required", ErrInvalidEvent)
		}
		if e.Score < 0 || e.Score > 100 {
			return fmt.Errorf("%w: score %d out of range", ErrInvalidEvent, e.Score)
		}
	case KindCourseCompleted:
		if e.CourseID == "" {
			return fmt.Errorf("%w: course id is required", ErrInvalidEvent)
		}
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// AwardKey returns the one-time claim fencing this event. An empty key
// means the event is not fenced.
func (e Event) AwardKey() string {
	e = e.normalize()
	switch e.Kind {
	case KindArticleRead:
		return "article:" + e.ArticleID
	case KindCommentPosted:
		return "comment:" + e.CommentID
	case KindQuizSubmitted:
		if e.Passed {
			return "quiz:" + e.QuizID
		}
		if e.AttemptID != "" {
			return "attempt:" + e.AttemptID
		}
		return ""
	case KindCourseCompleted:
		return "course:" + e.CourseID
	default:
		return ""
	}
}

// Delta is the change an event makes to a progress record. Counters and
// XP are increments; Streak replaces the stored value. The level is always
// derived from the resulting XP.
type Delta struct {
	Kind             Kind
	XP               int
	ArticlesRead     int
	CommentsPosted   int
	CoursesCompleted int
	Streak           gamification.Streak
	NewBadges        []string
}

// PlanFunc computes the delta for the current record. It runs inside the
// store's critical section and may run more than once when a write is
// retried, so it must not have side effects.
type PlanFunc func(cur Progress) (Delta, error)

// apply returns cur with d applied.
func (d Delta) apply(cur Progress, now time.Time) Progress {
	next := cur.clone()
	next.TotalXP += d.XP
	next.CurrentLevel = gamification.LevelForXP(next.TotalXP)
	next.Stats.ArticlesRead += d.ArticlesRead
	next.Stats.CommentsPosted += d.CommentsPosted
	next.Stats.CoursesCompleted += d.CoursesCompleted
	next.Stats.CurrentStreak = d.Streak.Current
	next.Stats.LongestStreak = d.Streak.Longest
	if d.Streak.LastActivity != nil {
		t := *d.Streak.LastActivity
		next.Stats.LastActivityDate = &t
	}
	next.Badges = append(next.Badges, d.NewBadges...)
	next.UpdatedAt = now
	return next
}

// LedgerEntry is one applied event in a user's XP history.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       Kind      `json:"kind"`
	AwardKey   string    `json:"award_key,omitempty"`
	XP         int       `json:"xp"`
	LevelAfter int       `json:"level_after"`
	CreatedAt  time.Time `json:"created_at"`
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// ValidUserID reports whether id is a well-formed user id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// Package learning reads the authoritative activity records owned by the
// course platform: users, courses, enrollments, quizzes, quiz attempts,
// comments and article reads. It never writes them.
package learning

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// Course is a published course and its ordered article ids.
type Course struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Articles   []string `json:"articles"`
}

// Enrollment links a user to a course.
type Enrollment struct {
	UserID            string   `json:"user_id"`
	CourseID          string   `json:"course_id"`
	CompletedArticles []string `json:"completed_articles"`
	Completed         bool     `json:"completed"`
}

// Quiz belongs to a course. Only published quizzes gate completion.
type Quiz struct {
	ID           string `json:"id"`
	CourseID     string `json:"course_id"`
	PassingScore int    `json:"passing_score"`
	Questions    int    `json:"questions"`
	Published    bool   `json:"published"`
}

// QuizAttempt is one immutable quiz submission.
type QuizAttempt struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	QuizID      string    `json:"quiz_id"`
	Score       int       `json:"score"`
	Passed      bool      `json:"passed"`
	CompletedAt time.Time `json:"completed_at"`
}

// Source is read access to the platform collections.
type Source interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	ListEnrollments(ctx context.Context, userID string) ([]Enrollment, error)
	GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
	GetCourse(ctx context.Context, courseID string) (Course, error)
	GetQuiz(ctx context.Context, quizID string) (Quiz, error)
	ListQuizzes(ctx context.Context, courseID string) ([]Quiz, error)
	ListAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error)
	CountComments(ctx context.Context, userID string) (int, error)
	CountArticlesRead(ctx context.Context, userID string) (int, error)
}

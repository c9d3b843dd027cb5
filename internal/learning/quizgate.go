package learning

import (
	"context"
	"fmt"
)

// BestAttempt picks the attempt with the highest score, breaking ties by
// the earliest completion. ok is false when attempts is empty.
func BestAttempt(attempts []QuizAttempt) (best QuizAttempt, ok bool) {
	for i, a := range attempts {
		if i == 0 ||
			a.Score > best.Score ||
			(a.Score == best.Score && a.CompletedAt.Before(best.CompletedAt)) {
			best = a
		}
	}
	return best, len(attempts) > 0
}

// CourseComplete reports whether the enrollment covers every article of
// a non-empty course.
func CourseComplete(c Course, e Enrollment) bool {
	if len(c.Articles) == 0 {
		return false
	}
	done := make(map[string]struct{}, len(e.CompletedArticles))
	for _, id := range e.CompletedArticles {
		done[id] = struct{}{}
	}
	for _, id := range c.Articles {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}

// QuizGate decides whether a user satisfied a course's quiz requirements.
type QuizGate struct {
	source Source
}

// NewQuizGate creates a gate reading quizzes and attempts from source.
func NewQuizGate(source Source) *QuizGate {
	return &QuizGate{source: source}
}

// RequirementMet reports whether every published quiz of the course has a
// passing best attempt by the user. A course without published quizzes
// always passes.
func (g *QuizGate) RequirementMet(ctx context.Context, userID, courseID string) (bool, error) {
	quizzes, err := g.source.ListQuizzes(ctx, courseID)
	if err != nil {
		return false, fmt.Errorf("list quizzes for course %s: %w", courseID, err)
	}

	for _, q := range quizzes {
		if !q.Published {
			continue
		}
		attempts, err := g.source.ListAttempts(ctx, userID, q.ID)
		if err != nil {
			return false, fmt.Errorf("list attempts for quiz %s: %w", q.ID, err)
		}
		best, ok := BestAttempt(attempts)
		if !ok || !best.Passed {
			return false, nil
		}
	}
	return true, nil
}

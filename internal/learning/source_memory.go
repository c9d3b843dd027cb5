package learning

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemorySource is an in-memory Source for development and tests.
type MemorySource struct {
	mu           sync.RWMutex
	users        map[string]struct{}
	courses      map[string]Course
	enrollments  map[string]map[string]Enrollment // user -> course -> enrollment
	quizzes      map[string][]Quiz                // course -> quizzes
	attempts     map[string][]QuizAttempt         // user|quiz -> attempts
	comments     map[string]map[string]struct{}   // author -> comment ids
	articleReads map[string]map[string]struct{}   // user -> article ids
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		users:        make(map[string]struct{}),
		courses:      make(map[string]Course),
		enrollments:  make(map[string]map[string]Enrollment),
		quizzes:      make(map[string][]Quiz),
		attempts:     make(map[string][]QuizAttempt),
		comments:     make(map[string]map[string]struct{}),
		articleReads: make(map[string]map[string]struct{}),
	}
}

func (s *MemorySource) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
}

func (s *MemorySource) PutCourse(c Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
}

func (s *MemorySource) PutEnrollment(e Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCourse, ok := s.enrollments[e.UserID]
	if !ok {
		byCourse = make(map[string]Enrollment)
		s.enrollments[e.UserID] = byCourse
	}
	byCourse[e.CourseID] = e
}

// PutQuiz adds or replaces a quiz on its course.
func (s *MemorySource) PutQuiz(q Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.quizzes[q.CourseID]
	for i := range list {
		if list[i].ID == q.ID {
			list[i] = q
			return
		}
	}
	s.quizzes[q.CourseID] = append(list, q)
}

func (s *MemorySource) AddAttempt(a QuizAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.UserID + "|" + a.QuizID
	s.attempts[key] = append(s.attempts[key], a)
}

func (s *MemorySource) AddComment(authorID, commentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.comments, authorID, commentID)
}

func (s *MemorySource) RecordArticleRead(userID, articleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.articleReads, userID, articleID)
}

func (s *MemorySource) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *MemorySource) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemorySource) ListEnrollments(_ context.Context, userID string) ([]Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byCourse := s.enrollments[userID]
	out := make([]Enrollment, 0, len(byCourse))
	for _, e := range byCourse {
		out = append(out, cloneEnrollment(e))
	}
	slices.SortFunc(out, func(a, b Enrollment) int {
		return strings.Compare(a.CourseID, b.CourseID)
	})
	return out, nil
}

func (s *MemorySource) GetEnrollment(_ context.Context, userID, courseID string) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[userID][courseID]
	if !ok {
		return Enrollment{}, fmt.Errorf("enrollment %s/%s: %w", userID, courseID, ErrNotFound)
	}
	return cloneEnrollment(e), nil
}

func (s *MemorySource) GetCourse(_ context.Context, courseID string) (Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return Course{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}
	c.Articles = slices.Clone(c.Articles)
	return c, nil
}

func (s *MemorySource) GetQuiz(_ context.Context, quizID string) (Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.quizzes {
		for _, q := range list {
			if q.ID == quizID {
				return q, nil
			}
		}
	}
	return Quiz{}, fmt.Errorf("quiz %s: %w", quizID, ErrNotFound)
}

func (s *MemorySource) ListQuizzes(_ context.Context, courseID string) ([]Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.quizzes[courseID]), nil
}

func (s *MemorySource) ListAttempts(_ context.Context, userID, quizID string) ([]QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attempts[userID+"|"+quizID]), nil
}

func (s *MemorySource) CountComments(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments[userID]), nil
}

func (s *MemorySource) CountArticlesRead(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articleReads[userID]), nil
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func cloneEnrollment(e Enrollment) Enrollment {
	e.CompletedArticles = slices.Clone(e.CompletedArticles)
	return e
}

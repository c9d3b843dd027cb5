package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads platform collections from PostgreSQL.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a PostgreSQL-backed Source.
func NewPostgresSource(pool *pgxpool.Pool) (*PostgresSource, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return exists, nil
}

func (s *PostgresSource) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return ids, nil
}

func (s *PostgresSource) ListEnrollments(ctx context.Context, userID string) ([]Enrollment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, course_id, completed_articles, completed
		 FROM enrollments
		 WHERE user_id = $1
		 ORDER BY course_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.UserID, &e.CourseID, &e.CompletedArticles, &e.Completed); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error) {
	var e Enrollment
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, course_id, completed_articles, completed
		 FROM enrollments
		 WHERE user_id = $1 AND course_id = $2`,
		userID,
		courseID,
	).Scan(&e.UserID, &e.CourseID, &e.CompletedArticles, &e.Completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, fmt.Errorf("enrollment %s/%s: %w", userID, courseID, ErrNotFound)
		}
		return Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (s *PostgresSource) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var c Course
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, difficulty, article_ids
		 FROM courses
		 WHERE id = $1`,
		courseID,
	).Scan(&c.ID, &c.Title, &c.Difficulty, &c.Articles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
		}
		return Course{}, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

func (s *PostgresSource) GetQuiz(ctx context.Context, quizID string) (Quiz, error) {
	var q Quiz
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, passing_score, question_count, published
		 FROM quizzes
		 WHERE id = $1`,
		quizID,
	).Scan(&q.ID, &q.CourseID, &q.PassingScore, &q.Questions, &q.Published)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quiz{}, fmt.Errorf("quiz %s: %w", quizID, ErrNotFound)
		}
		return Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	return q, nil
}

func (s *PostgresSource) ListQuizzes(ctx context.Context, courseID string) ([]Quiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, course_id, passing_score, question_count, published
		 FROM quizzes
		 WHERE course_id = $1
		 ORDER BY id ASC`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		var q Quiz
		if err := rows.Scan(&q.ID, &q.CourseID, &q.PassingScore, &q.Questions, &q.Published); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) ListAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, quiz_id, score, passed, completed_at
		 FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = $2
		 ORDER BY completed_at ASC`,
		userID,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query quiz attempts: %w", err)
	}
	defer rows.Close()

	var out []QuizAttempt
	for rows.Next() {
		var a QuizAttempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.QuizID, &a.Score, &a.Passed, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan quiz attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) CountComments(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM comments WHERE author_id = $1`,
		userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

func (s *PostgresSource) CountArticlesRead(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT article_id) FROM article_reads WHERE user_id = $1`,
		userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count article reads: %w", err)
	}
	return n, nil
}

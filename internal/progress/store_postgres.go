package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxApplyAttempts = 8
	firstRetryDelay  = 50 * time.Millisecond
	maxRetryDelay    = 1200 * time.Millisecond
)

const progressColumns = `user_id, total_xp, current_level, badges,
	courses_completed, articles_read, comments_posted,
	current_streak, longest_streak, last_activity_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store. Writes run in serializable
// transactions holding the user's row lock and are retried on
// serialization failures.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Progress, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, classify("create progress", err)
	}

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		return nil, classify("get progress", err)
	}
	return p, nil
}

func (s *PostgresStore) Apply(ctx context.Context, userID, awardKey string, plan PlanFunc) (*Progress, bool, error) {
	retryDelay := firstRetryDelay
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		p, applied, err := s.applyOnce(ctx, userID, awardKey, plan)
		if err == nil {
			return p, applied, nil
		}
		if !isSerializationFailure(err) {
			return nil, false, classify("apply progress", err)
		}

		storeRetries.Inc()
		slog.Debug("progress write conflict, retrying",
			"user_id", userID,
			"attempt", attempt+1,
			"error", err,
		)
		if attempt == maxApplyAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay+rand.N(retryDelay/2)); err != nil {
			return nil, false, classify("apply progress", err)
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return nil, false, fmt.Errorf("apply progress for %s: %w", userID, ErrConcurrentUpdate)
}

func (s *PostgresStore) applyOnce(ctx context.Context, userID, awardKey string, plan PlanFunc) (*Progress, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, false, err
	}

	cur, err := scanProgress(tx.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		return nil, false, err
	}

	if awardKey != "" {
		var claimed bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM progress_awards WHERE user_id = $1 AND award_key = $2)`,
			userID, awardKey,
		).Scan(&claimed); err != nil {
			return nil, false, err
		}
		if claimed {
			if err := tx.Commit(ctx); err != nil {
				return nil, false, err
			}
			return cur, false, nil
		}
	}

	delta, err := plan(cur.clone())
	if err != nil {
		return nil, false, fmt.Errorf("plan update for %s: %w", userID, err)
	}
	next := delta.apply(*cur, time.Now())
	newBadges := delta.NewBadges
	if newBadges == nil {
		newBadges = []string{}
	}

	stored, err := scanProgress(tx.QueryRow(ctx,
		`UPDATE user_progress SET
			total_xp = total_xp + $2,
			current_level = $3,
			articles_read = articles_read + $4,
			comments_posted = comments_posted + $5,
			courses_completed = courses_completed + $6,
			current_streak = $7,
			longest_streak = $8,
			last_activity_at = $9,
			badges = badges || $10::text[],
			updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+progressColumns,
		userID,
		delta.XP,
		next.CurrentLevel,
		delta.ArticlesRead,
		delta.CommentsPosted,
		delta.CoursesCompleted,
		next.Stats.CurrentStreak,
		next.Stats.LongestStreak,
		next.Stats.LastActivityDate,
		newBadges,
	))
	if err != nil {
		return nil, false, err
	}

	if awardKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO progress_awards (user_id, award_key) VALUES ($1, $2)
			 ON CONFLICT (user_id, award_key) DO NOTHING`,
			userID, awardKey,
		)
		if err != nil {
			return nil, false, err
		}
		if tag.RowsAffected() == 0 {
			return nil, false, fmt.Errorf("claim %s for %s: %w", awardKey, userID, ErrConcurrentUpdate)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO progress_ledger (user_id, kind, award_key, xp, level_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, string(delta.Kind), awardKey, delta.XP, stored.CurrentLevel,
	); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (s *PostgresStore) SetCounts(ctx context.Context, userID string, c Counts) (*Progress, error) {
	p, err := scanProgress(s.pool.QueryRow(ctx,
		`INSERT INTO user_progress (user_id, courses_completed, articles_read, comments_posted)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			courses_completed = EXCLUDED.courses_completed,
			articles_read = EXCLUDED.articles_read,
			comments_posted = EXCLUDED.comments_posted,
			updated_at = NOW()
		 RETURNING `+progressColumns,
		userID, c.CoursesCompleted, c.ArticlesRead, c.CommentsPosted,
	))
	if err != nil {
		return nil, classify("set progress counts", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Progress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM user_progress ORDER BY user_id ASC`,
	)
	if err != nil {
		return nil, classify("list progress", err)
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, classify("scan progress", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate progress", err)
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, award_key, xp, level_after, created_at
		 FROM progress_ledger
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		userID, lim,
	)
	if err != nil {
		return nil, classify("query ledger", err)
	}
	defer rows.Close()

	out := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.AwardKey, &e.XP, &e.LevelAfter, &e.CreatedAt); err != nil {
			return nil, classify("scan ledger", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate ledger", err)
	}
	return out, nil
}

func scanProgress(row pgx.Row) (*Progress, error) {
	var p Progress
	err := row.Scan(
		&p.UserID,
		&p.TotalXP,
		&p.CurrentLevel,
		&p.Badges,
		&p.Stats.CoursesCompleted,
		&p.Stats.ArticlesRead,
		&p.Stats.CommentsPosted,
		&p.Stats.CurrentStreak,
		&p.Stats.LongestStreak,
		&p.Stats.LastActivityDate,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return &p, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

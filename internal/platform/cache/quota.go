package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const quotaTTL = 48 * time.Hour

// admitScript adds ARGV[1] to the set at KEYS[1] unless the set already
// holds ARGV[2] members. Members already present are admitted again.
var admitScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
	return 1
end
if redis.call("SCARD", KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
return 1
`)

// CommentQuota caps scored comments per user and day across instances.
type CommentQuota struct {
	client *redis.Client
	limit  int
}

// NewCommentQuota creates a Redis-backed quota admitting limit comments
// per user and day.
func NewCommentQuota(c *Cache, limit int) *CommentQuota {
	return &CommentQuota{client: c.Client, limit: limit}
}

// Allow records commentID for the user's day and reports whether it is
// within the cap.
func (q *CommentQuota) Allow(ctx context.Context, userID, day, commentID string) (bool, error) {
	n, err := admitScript.Run(ctx, q.client,
		[]string{quotaKey(userID, day)},
		commentID, q.limit, int(quotaTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("comment quota for %s: %w", userID, err)
	}
	return n == 1, nil
}

func quotaKey(userID, day string) string {
	return "quota:comments:" + userID + ":" + day
}

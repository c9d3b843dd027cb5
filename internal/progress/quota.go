package progress

import (
	"context"
	"sync"
)

// DefaultCommentDailyCap is the number of comments per day that earn XP.
const DefaultCommentDailyCap = 10

// CommentQuota caps how many comments earn XP per user and day. Allow
// records commentID against the day and reports whether it is within the
// cap. Asking again for an already admitted comment returns true without
// using another slot.
type CommentQuota interface {
	Allow(ctx context.Context, userID, day, commentID string) (bool, error)
}

// MemoryQuota is an in-process CommentQuota. It holds the most recent
// day only: a newer day drops every earlier count and an older day is
// over the cap.
type MemoryQuota struct {
	limit    int
	day      string                         // YYYY-MM-DD
	admitted map[string]map[string]struct{} // user -> comment ids
	mu       sync.Mutex
}

// NewMemoryQuota creates a quota admitting limit comments per user and
// day. A limit below 1 admits nothing.
func NewMemoryQuota(limit int) *MemoryQuota {
	return &MemoryQuota{
		limit:    limit,
		admitted: make(map[string]map[string]struct{}),
	}
}

func (q *MemoryQuota) Allow(_ context.Context, userID, day, commentID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case day > q.day:
		q.day = day
		clear(q.admitted)
	case day < q.day:
		return false, nil
	}

	set, ok := q.admitted[userID]
	if !ok {
		set = make(map[string]struct{})
		q.admitted[userID] = set
	}
	if _, ok := set[commentID]; ok {
		return true, nil
	}
	if len(set) >= q.limit {
		return false, nil
	}
	set[commentID] = struct{}{}
	return true, nil
}

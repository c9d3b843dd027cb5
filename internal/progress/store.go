package progress

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store persists progress records, award claims and the XP ledger.
type Store interface {
	// Get returns the record for userID, creating the zero state when
	// none exists.
	Get(ctx context.Context, userID string) (*Progress, error)
	// Apply runs plan against the current record and persists the result
	// together with the claim for awardKey, atomically. When awardKey is
	// already claimed the record is returned unchanged with applied false.
	// An empty awardKey is never claimed.
	Apply(ctx context.Context, userID, awardKey string, plan PlanFunc) (p *Progress, applied bool, err error)
	// SetCounts overwrites the reconciled counters.
	SetCounts(ctx context.Context, userID string, c Counts) (*Progress, error)
	// List returns every stored record ordered by user id.
	List(ctx context.Context) ([]Progress, error)
	// History returns the newest ledger entries first.
	History(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	records map[string]*Progress
	claims  map[string]map[string]struct{}
	ledger  map[string][]LedgerEntry
	nextID  int64
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Progress),
		claims:  make(map[string]map[string]struct{}),
		ledger:  make(map[string][]LedgerEntry),
		now:     time.Now,
	}
}

// record returns the stored record, creating it. Caller holds mu.
func (s *MemoryStore) record(userID string) *Progress {
	p, ok := s.records[userID]
	if !ok {
		zero := NewProgress(userID)
		zero.UpdatedAt = s.now()
		p = &zero
		s.records[userID] = p
	}
	return p
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.record(userID).clone()
	return &p, nil
}

func (s *MemoryStore) Apply(_ context.Context, userID, awardKey string, plan PlanFunc) (*Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.record(userID)
	if awardKey != "" {
		if _, claimed := s.claims[userID][awardKey]; claimed {
			p := cur.clone()
			return &p, false, nil
		}
	}

	delta, err := plan(cur.clone())
	if err != nil {
		return nil, false, fmt.Errorf("plan update for %s: %w", userID, err)
	}
	now := s.now()
	next := delta.apply(*cur, now)
	*cur = next

	if awardKey != "" {
		set, ok := s.claims[userID]
		if !ok {
			set = make(map[string]struct{})
			s.claims[userID] = set
		}
		set[awardKey] = struct{}{}
	}
	s.nextID++
	s.ledger[userID] = append(s.ledger[userID], LedgerEntry{
		ID:         s.nextID,
		UserID:     userID,
		Kind:       delta.Kind,
		AwardKey:   awardKey,
		XP:         delta.XP,
		LevelAfter: next.CurrentLevel,
		CreatedAt:  now,
	})

	p := next.clone()
	return &p, true, nil
}

func (s *MemoryStore) SetCounts(_ context.Context, userID string, c Counts) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.record(userID)
	cur.Stats.CoursesCompleted = c.CoursesCompleted
	cur.Stats.ArticlesRead = c.ArticlesRead
	cur.Stats.CommentsPosted = c.CommentsPosted
	cur.UpdatedAt = s.now()

	p := cur.clone()
	return &p, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Progress, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Progress) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[userID]
	out := make([]LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

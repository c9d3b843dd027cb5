package progress_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/platform/database/databasetest"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := progress.NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestPostgresStore(t *testing.T) {
	pool := databasetest.New(t)
	store, err := progress.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	storeContract(t, store)
}

func TestPostgresStore_ConcurrentApply(t *testing.T) {
	pool := databasetest.New(t)
	store, err := progress.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	ctx := t.Context()

	// No external lock: the row lock and retries alone must keep every
	// increment and reject the duplicate claims.
	const n = 8
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 2 {
				if _, _, err := store.Apply(ctx, "u1", fmt.Sprintf("article:a%d", i), articleDelta(10)); err != nil {
					t.Errorf("Apply() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	p, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.TotalXP != n*10 || p.Stats.ArticlesRead != n {
		t.Errorf("after concurrent applies = %d XP, %d articles; want %d, %d", p.TotalXP, p.Stats.ArticlesRead, n*10, n)
	}
	if p.CurrentLevel != 1 {
		t.Errorf("CurrentLevel = %d, want 1", p.CurrentLevel)
	}

	entries, _ := store.History(ctx, "u1", 0)
	if len(entries) != n {
		t.Errorf("ledger entries = %d, want %d", len(entries), n)
	}
}

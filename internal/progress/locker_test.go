package progress_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var m progress.KeyedMutex
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, progress.LockKey("u1"))
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max holders = %d, want 1", maxInside.Load())
	}
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	var m progress.KeyedMutex
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) should not wait for a: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextTimeout(t *testing.T) {
	var m progress.KeyedMutex

	unlock, err := m.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "u1"); !errors.Is(err, progress.ErrConcurrentUpdate) {
		t.Errorf("Lock() error = %v, want ErrConcurrentUpdate", err)
	}

	unlock()
	unlock() // second release is a no-op

	again, err := m.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}

func TestMemoryQuota(t *testing.T) {
	q := progress.NewMemoryQuota(2)
	ctx := context.Background()

	steps := []struct {
		day, comment string
		want         bool
	}{
		{"2026-03-02", "c1", true},
		{"2026-03-02", "c2", true},
		{"2026-03-02", "c3", false},
		{"2026-03-02", "c1", true}, // already admitted
		{"2026-03-03", "c4", true},
		{"2026-03-02", "c5", false}, // earlier day is closed
		{"2026-03-03", "c5", true},
		{"2026-03-03", "c6", false},
	}
	for _, s := range steps {
		got, err := q.Allow(ctx, "u1", s.day, s.comment)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if got != s.want {
			t.Errorf("Allow(%s, %s) = %v, want %v", s.day, s.comment, got, s.want)
		}
	}

	if ok, _ := q.Allow(ctx, "u2", "2026-03-03", "c9"); !ok {
		t.Error("quota must be per user")
	}
}

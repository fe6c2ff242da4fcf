package taskstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemoryStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(testTTL)
	s.now = clock.Now
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		return newTestMemoryStore(t, clock)
	})
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	s.Put(ctx, "old", successRecord("https://x/old.jpg"))
	clock.Advance(40 * time.Minute)
	s.Put(ctx, "new", successRecord("https://x/new.jpg"))
	clock.Advance(20 * time.Minute)

	if removed := s.Sweep(); removed != 1 {
		t.Errorf("expected 1 record swept, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 record remaining, got %d", s.Len())
	}
	if got, _ := s.Get(ctx, "new"); got == nil {
		t.Error("expected fresh record to survive the sweep")
	}
}

func TestMemoryStore_ExpiredReadReclaims(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	s.Put(ctx, "t1", successRecord("https://x/a.jpg"))
	clock.Advance(testTTL)
	if got, _ := s.Get(ctx, "t1"); got != nil {
		t.Fatalf("expected expired record to be absent, got %#v", got)
	}
	if s.Len() != 0 {
		t.Errorf("expected expired record to be removed on read, got %d records", s.Len())
	}
}

func TestMemoryStore_StartSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	s.Put(ctx, "t1", successRecord("https://x/a.jpg"))
	clock.Advance(2 * testTTL)
	s.StartSweeper(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired record")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	rec := successRecord("https://x/a.jpg")
	s.Put(ctx, "t1", rec)
	rec.Payload[0] = 'X'

	got, _ := s.Get(ctx, "t1")
	got.Payload[1] = 'Y'

	again, _ := s.Get(ctx, "t1")
	if again.Payload[0] != '{' || again.Payload[1] != '"' {
		t.Errorf("stored payload was mutated through a caller's slice: %s", again.Payload)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("task-%d", i%5)
		go func() {
			defer wg.Done()
			s.Put(ctx, id, successRecord("https://x/a.jpg"))
		}()
		go func() {
			defer wg.Done()
			s.Get(ctx, id)
		}()
		go func() {
			defer wg.Done()
			s.Delete(ctx, id)
		}()
	}
	wg.Wait()

	if s.Len() > 5 {
		t.Errorf("expected at most 5 distinct keys, got %d", s.Len())
	}
}

func TestNewMemoryStore_DefaultTTL(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	if s.ttl != DefaultTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultTTL, s.ttl)
	}
}

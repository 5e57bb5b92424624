package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSet(ttl time.Duration) (*TTLSet[string], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewTTLSet[string](ttl)
	s.now = clock.Now
	return s, clock
}

func TestTTLSetAddContains(t *testing.T) {
	s, _ := newTestSet(time.Minute)

	if !s.Add("a") {
		t.Error("Expected first Add to report a new key")
	}
	if s.Add("a") {
		t.Error("Expected second Add to report an existing key")
	}
	if !s.Contains("a") {
		t.Error("Expected key to be present")
	}
	if s.Contains("b") {
		t.Error("Expected unknown key to be absent")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", s.Len())
	}

	s.Remove("a")
	if s.Contains("a") || s.Len() != 0 {
		t.Error("Expected key to be removed")
	}
}

func TestTTLSetExpiry(t *testing.T) {
	s, clock := newTestSet(time.Minute)
	s.Add("a")
	s.Add("b")

	clock.Advance(30 * time.Second)
	s.Add("b")

	clock.Advance(45 * time.Second)
	if s.Contains("a") {
		t.Error("Expected a to have expired")
	}
	if !s.Contains("b") {
		t.Error("Expected refreshed b to survive")
	}

	if !s.Add("a") {
		t.Error("Expected Add of an expired key to report it as new")
	}

	clock.Advance(2 * time.Minute)
	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Expected purge to reclaim every key, got %d", s.Len())
	}
}

func TestTTLSetCleanerLifecycle(t *testing.T) {
	s := NewTTLSet[int](time.Minute)
	s.Start()
	s.Start()
	s.Add(1)
	s.Stop()
	s.Stop()

	if !s.Contains(1) {
		t.Error("Expected the set to stay usable after Stop")
	}
}

func TestTTLSetConcurrentAdd(t *testing.T) {
	s, _ := newTestSet(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("Expected exactly one Add to win, got %d", fresh)
	}
}

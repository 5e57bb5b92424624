package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// TTLSet remembers keys for a fixed time. Expired keys are invisible to
// Contains immediately and are reclaimed by a background cleaner.
type TTLSet[K comparable] struct {
	entries sync.Map // K -> time.Time (expiry)
	size    atomic.Int64

	ttl           time.Duration
	cleanInterval time.Duration
	now           func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewTTLSet creates a set whose keys live for ttl.
func NewTTLSet[K comparable](ttl time.Duration) *TTLSet[K] {
	clean := ttl / 2
	if clean < time.Second {
		clean = time.Second
	}
	return &TTLSet[K]{
		ttl:           ttl,
		cleanInterval: clean,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the background cleaner.
func (s *TTLSet[K]) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.cleaner()
}

// Stop halts the cleaner. The set stays usable.
func (s *TTLSet[K]) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// Add inserts key, refreshing its expiry. It reports whether the key was
// newly added (absent or expired before the call).
func (s *TTLSet[K]) Add(key K) bool {
	now := s.now()
	prev, loaded := s.entries.Swap(key, now.Add(s.ttl))
	if !loaded {
		s.size.Add(1)
		return true
	}
	return !now.Before(prev.(time.Time))
}

// Contains reports whether key is present and unexpired.
func (s *TTLSet[K]) Contains(key K) bool {
	v, ok := s.entries.Load(key)
	if !ok {
		return false
	}
	return s.now().Before(v.(time.Time))
}

// Remove deletes key.
func (s *TTLSet[K]) Remove(key K) {
	if _, loaded := s.entries.LoadAndDelete(key); loaded {
		s.size.Add(-1)
	}
}

// Len returns the number of stored keys, including expired ones the cleaner
// has not reclaimed yet.
func (s *TTLSet[K]) Len() int {
	return int(s.size.Load())
}

func (s *TTLSet[K]) cleaner() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}

// Purge removes expired keys now.
func (s *TTLSet[K]) Purge() {
	now := s.now()
	s.entries.Range(func(key, value interface{}) bool {
		if !now.Before(value.(time.Time)) {
			if s.entries.CompareAndDelete(key, value) {
				s.size.Add(-1)
			}
		}
		return true
	})
}

// Package ledger keeps the overlay-wide stats ledger: per node address, the
// number of validations spent and puzzles solved. Entries are added or
// overwritten, never deleted, so a departed node's contribution survives.
package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is one node's counters.
type Entry struct {
	Validations int64 `json:"validations"`
	Solved      int64 `json:"solved"`
}

// Store persists ledger entries. Save is called with the lock held, in
// update order.
type Store interface {
	Load() (map[string]Entry, error)
	Save(key string, e Entry) error
	Close() error
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	store   Store
}

// New creates a ledger. A nil store keeps it in memory; otherwise the
// persisted entries are loaded first.
func New(store Store) (*Ledger, error) {
	l := &Ledger{
		entries: make(map[string]Entry),
		store:   store,
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
		for k, v := range loaded {
			l.entries[k] = v
		}
	}
	return l, nil
}

// Set overwrites the entry for key.
func (l *Ledger) Set(key string, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(key, e)
}

func (l *Ledger) setLocked(key string, e Entry) error {
	if cur, ok := l.entries[key]; ok && cur == e {
		return nil
	}
	l.entries[key] = e
	if l.store != nil {
		if err := l.store.Save(key, e); err != nil {
			return fmt.Errorf("failed to persist ledger entry %s: %w", key, err)
		}
	}
	return nil
}

// Merge overwrites every key present in entries. Keys absent from entries
// are left alone. The first persistence error is returned after all keys are
// applied in memory.
func (l *Ledger) Merge(entries map[string]Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, k := range sortedKeys(entries) {
		if err := l.setLocked(k, entries[k]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get returns the entry for key.
func (l *Ledger) Get(key string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	return e, ok
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns a copy of every entry.
func (l *Ledger) Snapshot() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Entry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Totals sums every entry.
func (l *Ledger) Totals() Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total Entry
	for _, e := range l.entries {
		total.Validations += e.Validations
		total.Solved += e.Solved
	}
	return total
}

// History renders the ledger in its wire form: address -> [validations, solved].
func (l *Ledger) History() map[string][2]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][2]int64, len(l.entries))
	for k, e := range l.entries {
		out[k] = [2]int64{e.Validations, e.Solved}
	}
	return out
}

// MergeHistory merges a wire-form history.
func (l *Ledger) MergeHistory(history map[string][2]int64) error {
	entries := make(map[string]Entry, len(history))
	for k, v := range history {
		entries[k] = Entry{Validations: v[0], Solved: v[1]}
	}
	return l.Merge(entries)
}

// Close closes the backing store, if any.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]Entry) []string {
	return sortedKeys(m)
}

func sortedKeys(m map[string]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

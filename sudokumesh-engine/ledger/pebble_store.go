package ledger

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"
)

var keyPrefix = []byte("ledger:")

// PebbleStore persists ledger entries in a Pebble database, one JSON value
// per address under the "ledger:" prefix.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func entryKey(addr string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(addr))
	k = append(k, keyPrefix...)
	return append(k, addr...)
}

// prefixEnd is the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Load implements Store.
func (s *PebbleStore) Load() (map[string]Entry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: prefixEnd(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[string]Entry)
	for ok := iter.First(); ok; ok = iter.Next() {
		addr := string(iter.Key()[len(keyPrefix):])
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("corrupt ledger entry %q: %w", addr, err)
		}
		out[addr] = e
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save implements Store.
func (s *PebbleStore) Save(addr string, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Set(entryKey(addr), val, pebble.Sync)
}

// Get reads one persisted entry.
func (s *PebbleStore) Get(addr string) (Entry, error) {
	val, closer, err := s.db.Get(entryKey(addr))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, fmt.Errorf("ledger entry %s: %w", addr, err)
		}
		return Entry{}, err
	}
	defer closer.Close()

	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Close implements Store.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

type persistentEntry struct {
	Value     []byte    `msgpack:"value"`
	CreatedAt time.Time `msgpack:"created_at"`
}

type persistentFile struct {
	Order   []string                   `msgpack:"order"`
	Entries map[string]persistentEntry `msgpack:"entries"`
}

// PersistentStore is a Storage backed by a single file on disk, flushed
// on every write. It never evicts entries; any ttl passed to
// NewPersistentStore is accepted for interface symmetry with TTLStore and
// then ignored, per the Open Question resolution documented in
// SPEC_FULL.md (the reference implementation silently accepts and drops
// this argument; we log instead).
type PersistentStore struct {
	mu   sync.Mutex
	path string
	file persistentFile
}

// NewPersistentStore opens (or creates) a persistent store at path. If a
// prior file exists, it is loaded eagerly.
func NewPersistentStore(path string, ttl time.Duration) (*PersistentStore, error) {
	if ttl != 0 {
		logrus.WithFields(logrus.Fields{
			"package": "store",
			"ttl":     ttl,
		}).Warn("persistent store does not honor ttl; argument ignored")
	}

	s := &PersistentStore{
		path: path,
		file: persistentFile{Entries: make(map[string]persistentEntry)},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := msgpack.Unmarshal(raw, &s.file); err != nil {
		return nil, fmt.Errorf("store: decoding %s: %w", path, err)
	}
	if s.file.Entries == nil {
		s.file.Entries = make(map[string]persistentEntry)
	}
	return s, nil
}

func (s *PersistentStore) Put(key, value []byte) error {
	k := hex.EncodeToString(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.file.Entries[k]; !exists {
		s.file.Order = append(s.file.Order, k)
	}
	s.file.Entries[k] = persistentEntry{Value: value, CreatedAt: time.Now()}
	return s.flushLocked()
}

func (s *PersistentStore) Get(key []byte) ([]byte, bool) {
	k := hex.EncodeToString(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.file.Entries[k]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (s *PersistentStore) ItemsOlderThan(age time.Duration) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var items []Item
	for _, k := range s.file.Order {
		e, ok := s.file.Entries[k]
		if !ok {
			continue
		}
		if e.CreatedAt.After(cutoff) {
			continue
		}
		key, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		items = append(items, Item{Key: key, Value: e.Value})
	}
	return items
}

func (s *PersistentStore) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Item, 0, len(s.file.Order))
	for _, k := range s.file.Order {
		e, ok := s.file.Entries[k]
		if !ok {
			continue
		}
		key, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		items = append(items, Item{Key: key, Value: e.Value})
	}
	return items
}

func (s *PersistentStore) Close() error { return nil }

// flushLocked writes the whole store to a temp file and renames it over
// path, so a crash mid-write never corrupts the previous good copy. This
// is "best effort": an I/O failure here surfaces to the caller, it does
// not silently drop the write.
func (s *PersistentStore) flushLocked() error {
	raw, err := msgpack.Marshal(&s.file)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: preparing directory for %s: %w", s.path, err)
		}
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("store: flushing %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: committing %s: %w", s.path, err)
	}
	return nil
}

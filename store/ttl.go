package store

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is the default lifetime of an entry in a TTLStore, one week.
const DefaultTTL = 7 * 24 * time.Hour

type ttlEntry struct {
	value     []byte
	createdAt time.Time
}

// TTLStore is an in-memory Storage that evicts entries older than its TTL.
// Eviction happens lazily, on every access ("cull on access"): the oldest
// entries are dropped, by key, until the remaining head is fresh. Put
// refreshes an overwritten key's position to the tail, so an entry's
// apparent age tracks its most recent write, not its first one.
type TTLStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	order []string // hex-encoded keys, oldest first
	data  map[string]ttlEntry
	now   func() time.Time
}

// NewTTLStore creates a TTLStore with the given entry lifetime. A
// non-positive ttl means every entry expires immediately on next access.
func NewTTLStore(ttl time.Duration) *TTLStore {
	return &TTLStore{
		ttl:  ttl,
		data: make(map[string]ttlEntry),
		now:  time.Now,
	}
}

// NewDefaultTTLStore creates a TTLStore using DefaultTTL.
func NewDefaultTTLStore() *TTLStore {
	return NewTTLStore(DefaultTTL)
}

func (s *TTLStore) Put(key, value []byte) error {
	k := hex.EncodeToString(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[k]; exists {
		s.removeFromOrderLocked(k)
	}
	s.data[k] = ttlEntry{value: value, createdAt: s.now()}
	s.order = append(s.order, k)
	s.cullLocked()
	return nil
}

func (s *TTLStore) Get(key []byte) ([]byte, bool) {
	k := hex.EncodeToString(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cullLocked()
	e, ok := s.data[k]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (s *TTLStore) ItemsOlderThan(age time.Duration) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	var items []Item
	for _, k := range s.order {
		e := s.data[k]
		if e.createdAt.After(cutoff) {
			break
		}
		key, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		items = append(items, Item{Key: key, Value: e.value})
	}
	return items
}

func (s *TTLStore) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cullLocked()
	items := make([]Item, 0, len(s.order))
	for _, k := range s.order {
		key, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		items = append(items, Item{Key: key, Value: s.data[k].value})
	}
	return items
}

func (s *TTLStore) Close() error { return nil }

// cullLocked drops entries whose age has reached the TTL, oldest first, by
// key rather than by slice position.
func (s *TTLStore) cullLocked() {
	for len(s.order) > 0 {
		k := s.order[0]
		e, ok := s.data[k]
		if !ok {
			s.order = s.order[1:]
			continue
		}
		if s.now().Sub(e.createdAt) < s.ttl {
			break
		}
		delete(s.data, k)
		s.order = s.order[1:]
		logrus.WithFields(logrus.Fields{
			"package": "store",
			"key":     k,
		}).Debug("evicted expired entry")
	}
}

func (s *TTLStore) removeFromOrderLocked(k string) {
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

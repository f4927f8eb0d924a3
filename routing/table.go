package routing

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/sirupsen/logrus"
)

// DefaultK is the conventional Kademlia bucket size / replication factor.
const DefaultK = 20

// LonelyThreshold is how long a bucket may go untouched before it is
// surfaced by LonelyBucketSeeds for refresh.
const LonelyThreshold = time.Hour

// Pinger lets the routing table probe a contact without importing the RPC
// package, avoiding the cyclic Table<->Protocol reference the source
// exhibits (SPEC_FULL.md §4, re-architecture notes). The RPC layer
// supplies an implementation once it is constructed.
type Pinger interface {
	Ping(ctx context.Context, c Contact) bool
}

// Table is the Kademlia routing table for a single local node: an ordered
// sequence of buckets partitioning [0, 2^160). The local node's own id is
// never added as a contact.
type Table struct {
	mu      sync.Mutex
	self    identifier.NodeId
	k       int
	buckets []*kbucket
	pinger  Pinger
}

// NewTable creates a routing table for self, starting with a single
// bucket covering the entire identifier space.
func NewTable(self identifier.NodeId, k int) *Table {
	if k <= 0 {
		k = DefaultK
	}
	maxID := new(big.Int).Lsh(big.NewInt(1), uint(identifier.Size*8))
	maxID.Sub(maxID, big.NewInt(1))
	return &Table{
		self:    self,
		k:       k,
		buckets: []*kbucket{newKBucket(big.NewInt(0), maxID, k)},
	}
}

// SetPinger installs the prober used when a full, unsplittable bucket
// needs to check whether its least-recently-seen contact is still alive.
func (t *Table) SetPinger(p Pinger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinger = p
}

// BucketCount reports the current number of buckets, for tests and
// diagnostics.
func (t *Table) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// bucketIndexLocked finds the bucket whose range contains id. Callers
// must hold t.mu.
func (t *Table) bucketIndexLocked(id identifier.NodeId) int {
	v := idToInt(id)
	for i, b := range t.buckets {
		if v.Cmp(b.high) <= 0 {
			return i
		}
	}
	return len(t.buckets) - 1
}

// AddContact admits node into the routing table, following the
// split/replacement algorithm in SPEC_FULL.md §4.3. It never blocks on
// network I/O: when a full bucket must verify its head contact, that ping
// runs in a background goroutine. It reports whether c had never been
// seen before (neither live nor queued as a replacement), which the RPC
// layer uses to decide whether to run the welcome-new-node key transfer.
func (t *Table) AddContact(c Contact) bool {
	if c.ID == t.self {
		return false
	}

	t.mu.Lock()
	idx := t.bucketIndexLocked(c.ID)
	b := t.buckets[idx]

	if i := b.indexOfLive(c.ID); i >= 0 {
		b.live = append(append(b.live[:i], b.live[i+1:]...), c)
		b.touch()
		t.mu.Unlock()
		return false
	}

	if len(b.live) < t.k {
		b.live = append(b.live, c)
		b.touch()
		t.mu.Unlock()
		return true
	}

	if b.inRange(t.self) || b.depth()%5 != 0 {
		t.splitBucketLocked(idx)
		t.mu.Unlock()
		return t.AddContact(c)
	}

	isNew := b.indexOfReplacement(c.ID) < 0
	head := b.live[0]
	b.pushReplacement(c)
	pinger := t.pinger
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"package": "routing",
		"head":    head.String(),
		"new":     c.String(),
	}).Debug("bucket full; probing least-recently-seen contact")

	if pinger != nil {
		go t.pingHeadAndReplace(pinger, head)
	}
	return isNew
}

// splitBucketLocked replaces buckets[idx] with the two halves produced by
// splitting it. Callers must hold t.mu.
func (t *Table) splitBucketLocked(idx int) {
	one, two := t.buckets[idx].split()
	merged := make([]*kbucket, 0, len(t.buckets)+1)
	merged = append(merged, t.buckets[:idx]...)
	merged = append(merged, one, two)
	merged = append(merged, t.buckets[idx+1:]...)
	t.buckets = merged

	logrus.WithFields(logrus.Fields{
		"package": "routing",
		"buckets": len(t.buckets),
	}).Debug("split bucket")
}

func (t *Table) pingHeadAndReplace(pinger Pinger, head Contact) {
	ok := pinger.Ping(context.Background(), head)

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndexLocked(head.ID)
	b := t.buckets[idx]
	i := b.indexOfLive(head.ID)
	if i < 0 {
		return
	}

	if ok {
		b.live = append(append(b.live[:i], b.live[i+1:]...), head)
		b.touch()
		return
	}

	b.live = append(b.live[:i], b.live[i+1:]...)
	if len(b.replacement) > 0 {
		promoted := b.replacement[len(b.replacement)-1]
		b.replacement = b.replacement[:len(b.replacement)-1]
		b.live = append(b.live, promoted)
	}
	b.touch()
}

// RemoveContact deletes id from the live list of its bucket, promoting
// the tail of the replacement list if one is available.
func (t *Table) RemoveContact(id identifier.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndexLocked(id)
	b := t.buckets[idx]
	i := b.indexOfLive(id)
	if i < 0 {
		return
	}
	b.live = append(b.live[:i], b.live[i+1:]...)
	if len(b.replacement) > 0 {
		promoted := b.replacement[len(b.replacement)-1]
		b.replacement = b.replacement[:len(b.replacement)-1]
		b.live = append(b.live, promoted)
	}
}

// FindNeighbors returns up to k contacts nearest to target, excluding any
// contact sharing exclude's (host, port) and any contact equal to target
// itself. k of zero uses the table's configured bucket size.
func (t *Table) FindNeighbors(target identifier.NodeId, k int, exclude *Contact) []Contact {
	if k <= 0 {
		k = t.k
	}

	t.mu.Lock()
	all := make([]Contact, 0, t.k*len(t.buckets))
	for _, b := range t.buckets {
		all = append(all, b.live...)
	}
	t.mu.Unlock()

	filtered := all[:0]
	for _, c := range all {
		if c.ID == target {
			continue
		}
		if exclude != nil && c.SameHome(*exclude) {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ID.DistanceTo(target).Less(filtered[j].ID.DistanceTo(target))
	})

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}

// LonelyBucketSeeds returns one uniformly random id per bucket that has
// not been touched within LonelyThreshold, for the periodic refresh walk.
func (t *Table) LonelyBucketSeeds() ([]identifier.NodeId, error) {
	t.mu.Lock()
	cutoff := time.Now().Add(-LonelyThreshold)
	var ranges []*kbucket
	for _, b := range t.buckets {
		if b.lastUpdated.Before(cutoff) {
			ranges = append(ranges, b)
		}
	}
	t.mu.Unlock()

	seeds := make([]identifier.NodeId, 0, len(ranges))
	for _, b := range ranges {
		id, err := randomIDInRange(b.low, b.high)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, id)
	}
	return seeds, nil
}

func randomIDInRange(low, high *big.Int) (identifier.NodeId, error) {
	span := new(big.Int).Sub(high, low)
	span.Add(span, big.NewInt(1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return identifier.NodeId{}, err
	}
	n.Add(n, low)

	var id identifier.NodeId
	b := n.Bytes()
	copy(id[identifier.Size-len(b):], b)
	return id, nil
}

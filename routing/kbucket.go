package routing

import (
	"math/big"
	"time"

	"github.com/dhtkad/kademlia/identifier"
)

// kbucket covers a contiguous range [low, high] of the identifier space,
// interpreted as big-endian unsigned integers. All mutation of a kbucket
// happens while the owning Table's mutex is held; it carries no lock of
// its own.
type kbucket struct {
	low, high   *big.Int
	k           int
	live        []Contact
	replacement []Contact
	lastUpdated time.Time
}

func newKBucket(low, high *big.Int, k int) *kbucket {
	return &kbucket{low: low, high: high, k: k, lastUpdated: time.Now()}
}

func idToInt(id identifier.NodeId) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func (b *kbucket) inRange(id identifier.NodeId) bool {
	v := idToInt(id)
	return v.Cmp(b.low) >= 0 && v.Cmp(b.high) <= 0
}

func (b *kbucket) touch() {
	b.lastUpdated = time.Now()
}

func (b *kbucket) indexOfLive(id identifier.NodeId) int {
	for i, c := range b.live {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (b *kbucket) indexOfReplacement(id identifier.NodeId) int {
	for i, c := range b.replacement {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// depth returns the length of the shared bit prefix of every live
// contact's identifier, used to decide whether a full bucket may split.
func (b *kbucket) depth() int {
	if len(b.live) == 0 {
		return 0
	}
	bits := make([]string, len(b.live))
	for i, c := range b.live {
		bits[i] = identifier.BytesToBitString(c.ID)
	}
	return len(identifier.SharedPrefix(bits))
}

// pushReplacement appends c to the replacement list, lifting an existing
// entry for the same id to the tail instead of duplicating it, and drops
// the oldest entry once the list exceeds k.
func (b *kbucket) pushReplacement(c Contact) {
	for i, existing := range b.replacement {
		if existing.ID == c.ID {
			b.replacement = append(append(b.replacement[:i], b.replacement[i+1:]...), c)
			return
		}
	}
	b.replacement = append(b.replacement, c)
	if len(b.replacement) > b.k {
		b.replacement = b.replacement[1:]
	}
}

// split partitions the bucket at its midpoint into two half-width
// buckets, redistributing live and replacement contacts by id <= mid.
func (b *kbucket) split() (*kbucket, *kbucket) {
	mid := new(big.Int).Add(b.low, b.high)
	mid.Rsh(mid, 1)
	midPlusOne := new(big.Int).Add(mid, big.NewInt(1))

	one := newKBucket(new(big.Int).Set(b.low), new(big.Int).Set(mid), b.k)
	two := newKBucket(midPlusOne, new(big.Int).Set(b.high), b.k)

	for _, c := range b.live {
		if idToInt(c.ID).Cmp(mid) <= 0 {
			one.live = append(one.live, c)
		} else {
			two.live = append(two.live, c)
		}
	}
	for _, c := range b.replacement {
		if idToInt(c.ID).Cmp(mid) <= 0 {
			one.replacement = append(one.replacement, c)
		} else {
			two.replacement = append(two.replacement, c)
		}
	}
	return one, two
}

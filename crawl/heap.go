package crawl

import (
	"sort"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
)

// NearestHeap holds the nearest-to-target candidate set a lookup
// iteration narrows: at most k contacts, ordered by distance to target,
// deduplicated by id, with a side set tracking which have already been
// queried this lookup.
type NearestHeap struct {
	target    identifier.NodeId
	k         int
	items     []routing.Contact
	contacted map[identifier.NodeId]bool
}

// NewNearestHeap creates an empty heap bounded to k entries.
func NewNearestHeap(target identifier.NodeId, k int) *NearestHeap {
	return &NearestHeap{
		target:    target,
		k:         k,
		contacted: make(map[identifier.NodeId]bool),
	}
}

func (h *NearestHeap) distance(c routing.Contact) identifier.Distance {
	return c.ID.DistanceTo(h.target)
}

// Push inserts contacts, dropping duplicates by id (first occurrence
// wins) and trimming to the k nearest once everything is sorted.
func (h *NearestHeap) Push(contacts ...routing.Contact) {
	for _, c := range contacts {
		if c.ID == h.target {
			continue
		}
		if h.indexOf(c.ID) >= 0 {
			continue
		}
		h.items = append(h.items, c)
	}

	sort.Slice(h.items, func(i, j int) bool {
		return h.distance(h.items[i]).Less(h.distance(h.items[j]))
	})
	if len(h.items) > h.k {
		h.items = h.items[:h.k]
	}
}

func (h *NearestHeap) indexOf(id identifier.NodeId) int {
	for i, c := range h.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Remove drops the given ids from the heap, used after a round of calls
// that drew no response.
func (h *NearestHeap) Remove(ids ...identifier.NodeId) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[identifier.NodeId]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := h.items[:0]
	for _, c := range h.items {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	h.items = kept
}

// MarkContacted records that id has been queried this lookup.
func (h *NearestHeap) MarkContacted(id identifier.NodeId) {
	h.contacted[id] = true
}

// IDs returns the current heap membership's ids, used to detect
// no-progress rounds (compared against the previous iteration's IDs()).
func (h *NearestHeap) IDs() []identifier.NodeId {
	ids := make([]identifier.NodeId, len(h.items))
	for i, c := range h.items {
		ids[i] = c.ID
	}
	return ids
}

// Uncontacted returns the members not yet marked contacted, nearest
// first.
func (h *NearestHeap) Uncontacted() []routing.Contact {
	out := make([]routing.Contact, 0, len(h.items))
	for _, c := range h.items {
		if !h.contacted[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// AllContacted reports whether every member has been queried.
func (h *NearestHeap) AllContacted() bool {
	return len(h.Uncontacted()) == 0
}

// Len reports the current membership size.
func (h *NearestHeap) Len() int {
	return len(h.items)
}

// Contacts returns a copy of the current membership, nearest first.
func (h *NearestHeap) Contacts() []routing.Contact {
	out := make([]routing.Contact, len(h.items))
	copy(out, h.items)
	return out
}

// PopNearest removes and returns the single nearest member, for the
// opportunistic-cache step that needs "the nearest node that didn't
// return the value".
func (h *NearestHeap) PopNearest() (routing.Contact, bool) {
	if len(h.items) == 0 {
		return routing.Contact{}, false
	}
	nearest := h.items[0]
	h.items = h.items[1:]
	return nearest, true
}

// idsEqual reports whether two id slices hold the same ids in the same
// order. An order-insensitive comparison is not needed here since both
// sides come from IDs() in heap order and a no-progress round reproduces
// the exact same order.
func idsEqual(a, b []identifier.NodeId) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package crawl

import (
	"testing"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idWithFirstByte(b byte) identifier.NodeId {
	var id identifier.NodeId
	id[0] = b
	return id
}

func TestNearestHeapPushDedupsAndOrdersByDistance(t *testing.T) {
	target := idWithFirstByte(0)
	h := NewNearestHeap(target, 10)

	far := routing.Contact{ID: idWithFirstByte(0xF0)}
	near := routing.Contact{ID: idWithFirstByte(0x01)}
	h.Push(far, near, near)

	ids := h.IDs()
	require.Len(t, ids, 2)
	assert.Equal(t, near.ID, ids[0])
	assert.Equal(t, far.ID, ids[1])
}

func TestNearestHeapBoundedByK(t *testing.T) {
	target := idWithFirstByte(0)
	h := NewNearestHeap(target, 1)

	h.Push(
		routing.Contact{ID: idWithFirstByte(0xF0)},
		routing.Contact{ID: idWithFirstByte(0x01)},
	)

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, idWithFirstByte(0x01), h.IDs()[0])
}

func TestNearestHeapExcludesTargetItself(t *testing.T) {
	target := idWithFirstByte(5)
	h := NewNearestHeap(target, 10)
	h.Push(routing.Contact{ID: target})
	assert.Equal(t, 0, h.Len())
}

func TestNearestHeapUncontactedAndMarkContacted(t *testing.T) {
	target := idWithFirstByte(0)
	h := NewNearestHeap(target, 10)
	a := routing.Contact{ID: idWithFirstByte(1)}
	b := routing.Contact{ID: idWithFirstByte(2)}
	h.Push(a, b)

	assert.Len(t, h.Uncontacted(), 2)
	h.MarkContacted(a.ID)
	assert.Len(t, h.Uncontacted(), 1)
	assert.False(t, h.AllContacted())

	h.MarkContacted(b.ID)
	assert.True(t, h.AllContacted())
}

func TestNearestHeapRemove(t *testing.T) {
	target := idWithFirstByte(0)
	h := NewNearestHeap(target, 10)
	a := routing.Contact{ID: idWithFirstByte(1)}
	b := routing.Contact{ID: idWithFirstByte(2)}
	h.Push(a, b)

	h.Remove(a.ID)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, b.ID, h.IDs()[0])
}

func TestNearestHeapPopNearest(t *testing.T) {
	target := idWithFirstByte(0)
	h := NewNearestHeap(target, 10)
	near := routing.Contact{ID: idWithFirstByte(1)}
	far := routing.Contact{ID: idWithFirstByte(0xF0)}
	h.Push(far, near)

	popped, ok := h.PopNearest()
	require.True(t, ok)
	assert.Equal(t, near.ID, popped.ID)
	assert.Equal(t, 1, h.Len())

	_, _ = h.PopNearest()
	_, ok = h.PopNearest()
	assert.False(t, ok)
}

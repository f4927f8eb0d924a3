package routing

import (
	"context"
	"testing"
	"time"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idWithFirstByte(b byte) identifier.NodeId {
	var id identifier.NodeId
	id[0] = b
	return id
}

func TestAddContactFillsBucketBeforeSplitting(t *testing.T) {
	table := NewTable(idWithFirstByte(0xFF), 2)
	c1 := Contact{ID: idWithFirstByte(1), Host: "h1", Port: 1}
	c2 := Contact{ID: idWithFirstByte(2), Host: "h2", Port: 2}

	table.AddContact(c1)
	table.AddContact(c2)

	assert.Equal(t, 1, table.BucketCount())
	neighbors := table.FindNeighbors(idWithFirstByte(0), 10, nil)
	assert.Len(t, neighbors, 2)
}

func TestBucketSplitsWhenLocalNodeInRange(t *testing.T) {
	// self id 0 falls in the initial bucket's range, so a third insertion
	// beyond capacity must split rather than fall back to replacement.
	table := NewTable(identifier.NodeId{}, 2)
	a := Contact{ID: idWithFirstByte(5), Host: "a", Port: 1}
	b := Contact{ID: idWithFirstByte(6), Host: "b", Port: 2}
	c := Contact{ID: idWithFirstByte(7), Host: "c", Port: 3}

	table.AddContact(a)
	table.AddContact(b)
	table.AddContact(c)

	assert.Greater(t, table.BucketCount(), 1)

	neighbors := table.FindNeighbors(idWithFirstByte(7), 10, nil)
	var ids []identifier.NodeId
	for _, n := range neighbors {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, c.ID)
}

func TestAddContactMovesExistingToTail(t *testing.T) {
	table := NewTable(idWithFirstByte(0xFF), 20)
	c := Contact{ID: idWithFirstByte(1), Host: "h", Port: 1}
	table.AddContact(c)
	updated := Contact{ID: c.ID, Host: "h-new", Port: 2}
	table.AddContact(updated)

	neighbors := table.FindNeighbors(idWithFirstByte(0), 10, nil)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "h-new", neighbors[0].Host)
}

type fakePinger struct {
	alive map[identifier.NodeId]bool
	calls chan identifier.NodeId
}

func (p *fakePinger) Ping(ctx context.Context, c Contact) bool {
	if p.calls != nil {
		p.calls <- c.ID
	}
	return p.alive[c.ID]
}

func TestFullUnsplittableBucketReplacesDeadHead(t *testing.T) {
	// self id far from the bucket under test, ensure depth%5==0 by using
	// a small k and ids that keep the bucket from qualifying for split on
	// the local-node-in-range rule.
	self := idWithFirstByte(0xFF)
	table := NewTable(self, 1)
	head := Contact{ID: idWithFirstByte(0x10), Host: "head", Port: 1}
	table.AddContact(head)

	calls := make(chan identifier.NodeId, 1)
	pinger := &fakePinger{alive: map[identifier.NodeId]bool{}, calls: calls}
	table.SetPinger(pinger)

	newContact := Contact{ID: idWithFirstByte(0x10) /* same top byte forces shared bucket after any split */, Host: "new", Port: 2}
	newContact.ID[1] = 1
	table.AddContact(newContact)

	<-calls
	assert.Eventually(t, func() bool {
		neighbors := table.FindNeighbors(idWithFirstByte(0), 10, nil)
		return len(neighbors) == 1 && neighbors[0].Host == "new"
	}, time.Second, 10*time.Millisecond)
}

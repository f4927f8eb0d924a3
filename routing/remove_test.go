package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveContactPromotesReplacement(t *testing.T) {
	table := NewTable(idWithFirstByte(0xFF), 1)
	head := Contact{ID: idWithFirstByte(1), Host: "head", Port: 1}
	table.AddContact(head)

	// force a replacement entry directly via the bucket, bypassing the
	// ping path which is exercised separately.
	idx := table.bucketIndexLocked(head.ID)
	table.buckets[idx].pushReplacement(Contact{ID: idWithFirstByte(2), Host: "repl", Port: 2})

	table.RemoveContact(head.ID)

	neighbors := table.FindNeighbors(idWithFirstByte(0), 10, nil)
	assert.Len(t, neighbors, 1)
	assert.Equal(t, "repl", neighbors[0].Host)
}

func TestFindNeighborsExcludesSameHome(t *testing.T) {
	table := NewTable(idWithFirstByte(0xFF), 20)
	a := Contact{ID: idWithFirstByte(1), Host: "h", Port: 1}
	table.AddContact(a)

	neighbors := table.FindNeighbors(idWithFirstByte(0), 10, &Contact{Host: "h", Port: 1})
	assert.Empty(t, neighbors)
}

func TestFindNeighborsExcludesTargetItself(t *testing.T) {
	table := NewTable(idWithFirstByte(0xFF), 20)
	a := Contact{ID: idWithFirstByte(1), Host: "h", Port: 1}
	table.AddContact(a)

	neighbors := table.FindNeighbors(a.ID, 10, nil)
	assert.Empty(t, neighbors)
}

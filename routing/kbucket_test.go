package routing

import (
	"math/big"
	"testing"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKBucketSplitPartitionsByMidpoint(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(10), 2)
	var id5, id6 identifier.NodeId
	id5[identifier.Size-1] = 5
	id6[identifier.Size-1] = 6
	b.live = []Contact{
		{ID: id5},
		{ID: id6},
	}

	one, two := b.split()

	require.Len(t, one.live, 1)
	require.Len(t, two.live, 1)
	assert.Equal(t, id5, one.live[0].ID)
	assert.Equal(t, id6, two.live[0].ID)
}

func TestKBucketPushReplacementLiftsDuplicateToTail(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(100), 3)
	a := Contact{ID: idWithFirstByte(1)}
	c := Contact{ID: idWithFirstByte(2)}
	b.pushReplacement(a)
	b.pushReplacement(c)
	b.pushReplacement(a)

	require.Len(t, b.replacement, 2)
	assert.Equal(t, a.ID, b.replacement[len(b.replacement)-1].ID)
}

func TestKBucketPushReplacementBoundedByK(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(100), 2)
	b.pushReplacement(Contact{ID: idWithFirstByte(1)})
	b.pushReplacement(Contact{ID: idWithFirstByte(2)})
	b.pushReplacement(Contact{ID: idWithFirstByte(3)})

	assert.Len(t, b.replacement, 2)
}

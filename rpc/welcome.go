package rpc

import (
	"context"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/store"
	"github.com/sirupsen/logrus"
)

// welcomeNewNode runs the key-transfer policy of SPEC_FULL.md §4.6: for
// every locally held key, if node is now closer to it than our
// previously-furthest known neighbor, and we are still the closest known
// node to it, hand node a copy. It is invoked only the first time a
// contact is admitted, never on a refresh of an already-known one.
func (p *Protocol) welcomeNewNode(node routing.Contact) {
	for _, item := range p.storage.Items() {
		if len(item.Key) != identifier.Size {
			continue
		}
		var keyID identifier.NodeId
		copy(keyID[:], item.Key)

		neighbors := p.table.FindNeighbors(keyID, p.k, &node)
		if len(neighbors) == 0 {
			continue
		}

		furthest := neighbors[len(neighbors)-1]
		closest := neighbors[0]
		newNodeCloser := node.ID.DistanceTo(keyID).Less(furthest.ID.DistanceTo(keyID))
		weAreClosest := p.self.DistanceTo(keyID).Less(closest.ID.DistanceTo(keyID))
		if !newNodeCloser || !weAreClosest {
			continue
		}

		go p.transferKey(node, item)
	}
}

func (p *Protocol) transferKey(node routing.Contact, item store.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Store(ctx, node, item.Key, item.Value); err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"peer":    node.String(),
			"error":   err,
		}).Debug("key transfer to new node failed")
	}
}

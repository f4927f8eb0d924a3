package crawl

import (
	"context"
	"sync"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/rpc"
	"github.com/sirupsen/logrus"
)

// Responder is the subset of *rpc.Protocol a Crawler needs to drive a
// lookup. Parameterizing on this interface rather than the concrete type
// keeps the crawler independently testable and avoids the reference
// implementation's per-verb subclassing.
type Responder interface {
	FindNode(ctx context.Context, contact routing.Contact, target identifier.NodeId) ([]routing.Contact, error)
	FindValue(ctx context.Context, contact routing.Contact, key []byte) (rpc.Response, error)
	Store(ctx context.Context, contact routing.Contact, key, value []byte) error
}

// Crawler runs the iterative lookup algorithm against a routing table
// (for its starting peers) and a Responder (for the RPCs themselves).
type Crawler struct {
	table *routing.Table
	proto Responder
	k     int
	alpha int
}

// New creates a Crawler with bucket size k and concurrency alpha.
func New(table *routing.Table, proto Responder, k, alpha int) *Crawler {
	return &Crawler{table: table, proto: proto, k: k, alpha: alpha}
}

// findResult is one peer's outcome for a single iteration round.
type findResult struct {
	peer     routing.Contact
	nodes    []routing.Contact
	value    []byte
	hasValue bool
	err      error
}

// roundtrip issues fn against each of batch concurrently and collects
// every result, preserving which peer each came from.
func roundtrip(ctx context.Context, batch []routing.Contact, fn func(context.Context, routing.Contact) findResult) []findResult {
	results := make([]findResult, len(batch))
	var wg sync.WaitGroup
	for i, peer := range batch {
		wg.Add(1)
		go func(i int, peer routing.Contact) {
			defer wg.Done()
			results[i] = fn(ctx, peer)
		}(i, peer)
	}
	wg.Wait()
	return results
}

// nextBatch computes which uncontacted members of nearest to query this
// round, per the count/no-progress rule in SPEC_FULL.md §4.5, and
// records the round's membership snapshot for the next call's
// comparison.
func nextBatch(nearest *NearestHeap, lastIDs []identifier.NodeId, alpha int) ([]routing.Contact, []identifier.NodeId) {
	ids := nearest.IDs()
	count := alpha
	if idsEqual(ids, lastIDs) {
		count = nearest.Len()
	}

	uncontacted := nearest.Uncontacted()
	if len(uncontacted) > count {
		uncontacted = uncontacted[:count]
	}
	return uncontacted, ids
}

// LookupNodes finds the k nodes nearest target, seeding the search from
// the local routing table's alpha nearest known contacts.
func (c *Crawler) LookupNodes(ctx context.Context, target identifier.NodeId) ([]routing.Contact, error) {
	nearest := NewNearestHeap(target, c.k)
	nearest.Push(c.table.FindNeighbors(target, c.alpha, nil)...)

	var lastIDs []identifier.NodeId
	for {
		batch, round := nextBatch(nearest, lastIDs, c.alpha)
		lastIDs = round
		if len(batch) == 0 {
			return nearest.Contacts(), nil
		}
		for _, peer := range batch {
			nearest.MarkContacted(peer.ID)
		}

		results := roundtrip(ctx, batch, func(ctx context.Context, peer routing.Contact) findResult {
			nodes, err := c.proto.FindNode(ctx, peer, target)
			return findResult{peer: peer, nodes: nodes, err: err}
		})

		var unreachable []identifier.NodeId
		for _, r := range results {
			if r.err != nil {
				unreachable = append(unreachable, r.peer.ID)
				continue
			}
			nearest.Push(r.nodes...)
		}
		nearest.Remove(unreachable...)

		if nearest.AllContacted() {
			return nearest.Contacts(), nil
		}
	}
}

// LookupValue finds the value stored under target, or reports not-found
// once every candidate in range has been exhausted. On success it also
// opportunistically STOREs the value at the nearest queried node that did
// not already have it (the paper's §2.3 caching step).
func (c *Crawler) LookupValue(ctx context.Context, target identifier.NodeId) ([]byte, bool, error) {
	nearest := NewNearestHeap(target, c.k)
	nearest.Push(c.table.FindNeighbors(target, c.alpha, nil)...)
	withoutValue := NewNearestHeap(target, 1)

	var lastIDs []identifier.NodeId
	for {
		batch, round := nextBatch(nearest, lastIDs, c.alpha)
		lastIDs = round
		if len(batch) == 0 {
			return nil, false, nil
		}
		for _, peer := range batch {
			nearest.MarkContacted(peer.ID)
		}

		results := roundtrip(ctx, batch, func(ctx context.Context, peer routing.Contact) findResult {
			resp, err := c.proto.FindValue(ctx, peer, target[:])
			if err != nil {
				return findResult{peer: peer, err: err}
			}
			if resp.Kind == rpc.ResponseValue {
				return findResult{peer: peer, value: resp.Value, hasValue: true}
			}
			return findResult{peer: peer, nodes: resp.Nodes}
		})

		var unreachable []identifier.NodeId
		var found [][]byte
		for _, r := range results {
			switch {
			case r.err != nil:
				unreachable = append(unreachable, r.peer.ID)
			case r.hasValue:
				found = append(found, r.value)
			default:
				withoutValue.Push(r.peer)
				nearest.Push(r.nodes...)
			}
		}
		nearest.Remove(unreachable...)

		if len(found) > 0 {
			value := majorityValue(found)
			if cacheAt, ok := withoutValue.PopNearest(); ok {
				if err := c.proto.Store(ctx, cacheAt, target[:], value); err != nil {
					logrus.WithFields(logrus.Fields{
						"package": "crawl",
						"peer":    cacheAt.String(),
						"error":   err,
					}).Debug("opportunistic cache store failed")
				}
			}
			return value, true, nil
		}

		if nearest.AllContacted() {
			return nil, false, nil
		}
	}
}

// majorityValue picks the most common value, breaking ties
// lexicographically, and logs when responses disagreed.
func majorityValue(values [][]byte) []byte {
	tally := make(map[string]int, len(values))
	for _, v := range values {
		tally[string(v)]++
	}

	var best string
	bestCount := -1
	for v, count := range tally {
		if count > bestCount || (count == bestCount && v < best) {
			best = v
			bestCount = count
		}
	}

	if len(tally) > 1 {
		logrus.WithFields(logrus.Fields{
			"package":  "crawl",
			"variants": len(tally),
		}).Warn("conflicting values for key; picked the most common")
	}
	return []byte(best)
}

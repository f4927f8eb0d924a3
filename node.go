package kademlia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhtkad/kademlia/crawl"
	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/rpc"
	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/store"
	"github.com/sirupsen/logrus"
)

// ErrNotListening is returned by operations that require a bound
// transport before Listen has been called.
var ErrNotListening = errors.New("kademlia: node is not listening")

// ErrBootstrapFailed is returned when every seed in a Bootstrap call
// failed to respond.
var ErrBootstrapFailed = errors.New("kademlia: no seed responded")

// Node is a single DHT peer: a routing table, a storage backend, the RPC
// protocol serving them over UDP, and a crawler driving lookups. The
// zero Node is not usable; construct one with New.
type Node struct {
	opts    Options
	self    identifier.NodeId
	table   *routing.Table
	storage store.Storage
	proto   *rpc.Protocol
	crawler *crawl.Crawler

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Node with a freshly generated identifier. It does not
// bind a socket; call Listen to start serving.
func New(opts Options) (*Node, error) {
	opts = opts.withDefaults()

	self, err := identifier.FromRandomSeed()
	if err != nil {
		return nil, fmt.Errorf("kademlia: generate node id: %w", err)
	}

	var storage store.Storage
	if opts.PersistPath != "" {
		storage, err = store.NewPersistentStore(opts.PersistPath, opts.StorageTTL)
		if err != nil {
			return nil, fmt.Errorf("kademlia: open persistent store: %w", err)
		}
	} else {
		storage = store.NewTTLStore(opts.StorageTTL)
	}

	return &Node{
		opts:    opts,
		self:    self,
		table:   routing.NewTable(self, opts.K),
		storage: storage,
		stopCh:  make(chan struct{}),
	}, nil
}

// ID returns the node's own identifier.
func (n *Node) ID() identifier.NodeId { return n.self }

// Listen binds the UDP transport on port (0 for an ephemeral port) and
// starts serving RPCs. It also starts the background refresh loop.
func (n *Node) Listen(port int) error {
	proto, err := rpc.NewProtocol(n.self, port, n.opts.K, n.table, n.storage)
	if err != nil {
		return fmt.Errorf("kademlia: listen: %w", err)
	}
	n.proto = proto
	n.table.SetPinger(proto)
	n.crawler = crawl.New(n.table, proto, n.opts.K, n.opts.Alpha)

	n.wg.Add(1)
	go n.refreshLoop()
	return nil
}

// LocalPort reports the bound UDP port. Panics if called before Listen.
func (n *Node) LocalPort() int { return n.proto.LocalPort() }

// Stop cancels background loops, fails any in-flight calls, and closes
// the socket. Safe to call more than once.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		if n.proto != nil {
			err = n.proto.Close()
		}
		if closeErr := n.storage.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

// Bootstrap pings each seed and, for those that answer, folds them into
// the routing table; it then runs a FIND_NODE lookup on the node's own
// id to populate the table with the peers nearest to it.
func (n *Node) Bootstrap(ctx context.Context, seeds []routing.Contact) error {
	if n.proto == nil {
		return ErrNotListening
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	reached := 0
	for _, seed := range seeds {
		wg.Add(1)
		go func(seed routing.Contact) {
			defer wg.Done()
			if _, ok := n.proto.PingDiscover(ctx, seed.Host, int(seed.Port)); ok {
				mu.Lock()
				reached++
				mu.Unlock()
			}
		}(seed)
	}
	wg.Wait()

	if len(seeds) > 0 && reached == 0 {
		return ErrBootstrapFailed
	}

	_, err := n.crawler.LookupNodes(ctx, n.self)
	return err
}

// Get runs a FIND_VALUE lookup for key, returning the value or ok=false
// if no replica holds it.
func (n *Node) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if n.proto == nil {
		return nil, false, ErrNotListening
	}
	target := identifier.Digest(key)

	if raw, ok := n.storage.Get(target[:]); ok {
		return decodeAndVerify(raw)
	}

	raw, found, err := n.crawler.LookupValue(ctx, target)
	if err != nil || !found {
		return nil, false, err
	}
	return decodeAndVerify(raw)
}

// decodeAndVerify unwraps a stored envelope and, if it carries an
// authorization, re-verifies its signature before the value is handed
// back to the caller — a value is never returned on the strength of a
// peer's (or the local store's) say-so alone.
func decodeAndVerify(raw []byte) ([]byte, bool, error) {
	value, auth, err := store.DecodeEnvelope(raw)
	if err != nil {
		return nil, false, err
	}
	if auth != nil {
		if err := store.Verify(value, *auth, time.Now()); err != nil {
			return nil, false, err
		}
	}
	return value, true, nil
}

// DiscoverAddress asks seed, a known contact, what address it observed
// this node sending from — the rpc_stun echo verb, useful for learning
// one's own externally visible host:port.
func (n *Node) DiscoverAddress(ctx context.Context, seed routing.Contact) (host string, port int, err error) {
	if n.proto == nil {
		return "", 0, ErrNotListening
	}
	return n.proto.Stun(ctx, seed)
}

// Set runs a FIND_NODE lookup for digest(key) and STOREs value to every
// contact returned, succeeding if at least one acknowledges.
func (n *Node) Set(ctx context.Context, key string, value []byte) error {
	return n.setValue(ctx, key, value, nil)
}

// SetAuth stores value under key with an authorization binding it to a
// signer's public key, enforcing the write gate described in
// SPEC_FULL.md §4.2 before distributing it.
func (n *Node) SetAuth(ctx context.Context, key string, value []byte, auth store.Authorization) error {
	return n.setValue(ctx, key, value, &auth)
}

func (n *Node) setValue(ctx context.Context, key string, value []byte, auth *store.Authorization) error {
	if n.proto == nil {
		return ErrNotListening
	}
	target := identifier.Digest(key)

	existingAuth := n.existingAuthFor(target)
	if err := store.CheckAuthorizedWrite(target[:], value, existingAuth, auth, time.Now()); err != nil {
		return err
	}

	wire := store.EncodeEnvelope(value, auth)
	if err := n.storage.Put(target[:], wire); err != nil {
		return fmt.Errorf("kademlia: local put: %w", err)
	}

	neighbors, err := n.crawler.LookupNodes(ctx, target)
	if err != nil {
		return err
	}

	return storeToAny(ctx, n.proto, neighbors, target, wire)
}

func storeToAny(ctx context.Context, proto *rpc.Protocol, neighbors []routing.Contact, target identifier.NodeId, wire []byte) error {
	if len(neighbors) == 0 {
		return fmt.Errorf("kademlia: no known peers to store to")
	}

	type outcome struct {
		peer routing.Contact
		err  error
	}
	results := make(chan outcome, len(neighbors))
	for _, peer := range neighbors {
		go func(peer routing.Contact) {
			results <- outcome{peer: peer, err: proto.Store(ctx, peer, target[:], wire)}
		}(peer)
	}

	succeeded := false
	for range neighbors {
		o := <-results
		if o.err != nil {
			logrus.WithFields(logrus.Fields{
				"package": "kademlia",
				"peer":    o.peer.String(),
				"error":   o.err,
			}).Debug("store rpc failed")
			continue
		}
		succeeded = true
	}
	if !succeeded {
		return fmt.Errorf("kademlia: no peer acknowledged store")
	}
	return nil
}

// existingAuthFor returns the authorization already bound to target's
// locally held value, if any, so a new write can be checked against it.
func (n *Node) existingAuthFor(target identifier.NodeId) *store.Authorization {
	raw, ok := n.storage.Get(target[:])
	if !ok {
		return nil
	}
	_, auth, err := store.DecodeEnvelope(raw)
	if err != nil {
		return nil
	}
	return auth
}

func (n *Node) refreshLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.Refresh(context.Background())
		}
	}
}

// Refresh runs a FIND_NODE lookup seeded at a random id for each lonely
// bucket, and republishes locally-held entries older than
// RepublishInterval by storing them again at their current nearest nodes.
func (n *Node) Refresh(ctx context.Context) {
	seeds, err := n.table.LonelyBucketSeeds()
	if err != nil {
		logrus.WithFields(logrus.Fields{"package": "kademlia", "error": err}).Warn("refresh: generating bucket seeds")
	}
	for _, seed := range seeds {
		if _, err := n.crawler.LookupNodes(ctx, seed); err != nil {
			logrus.WithFields(logrus.Fields{"package": "kademlia", "error": err}).Debug("refresh: bucket lookup failed")
		}
	}

	for _, item := range n.storage.ItemsOlderThan(n.opts.RepublishInterval) {
		var target identifier.NodeId
		copy(target[:], item.Key)
		neighbors, err := n.crawler.LookupNodes(ctx, target)
		if err != nil {
			continue
		}
		_ = storeToAny(ctx, n.proto, neighbors, target, item.Value)
	}
}

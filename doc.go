// Package kademlia composes the identifier, store, routing, rpc, and
// crawl packages into a runnable DHT node: listen on a UDP port, bootstrap
// against known seeds, and serve get/set against the rest of the network.
//
//	node, err := kademlia.New(kademlia.DefaultOptions())
//	if err != nil { ... }
//	if err := node.Listen(33445); err != nil { ... }
//	defer node.Stop()
//	node.Bootstrap(ctx, []routing.Contact{{Host: "seed.example", Port: 33445}})
//	node.Set(ctx, "greeting", []byte("hello"))
package kademlia

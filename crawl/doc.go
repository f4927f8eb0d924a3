// Package crawl implements the iterative node lookup ("spider crawl")
// that the public node API builds on: find the k nodes nearest a target
// id, or find the value stored under it.
//
// A single Crawler drives both lookups, parameterized by a Responder
// (satisfied by *rpc.Protocol) rather than subclassed per verb. NearestHeap
// holds the bounded, deduplicated, contacted-tracking candidate set each
// iteration narrows.
package crawl

// Package routing implements the Kademlia k-bucket routing table: an
// ordered sequence of buckets partitioning the 160-bit identifier space,
// with bucket splitting, a bounded replacement cache, and lonely-bucket
// tracking to drive periodic refresh.
//
// Mutation is serialized by a single mutex per Table, matching the
// single-task-owns-shared-state concurrency model: no bucket is
// ever observed partially split, and a contact never appears in two
// buckets at once.
package routing

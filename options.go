package kademlia

import (
	"time"

	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/store"
)

// Options configures a Node. Zero-value fields are replaced with their
// DefaultOptions value when the Options are passed to New.
type Options struct {
	// K is the bucket size / replication factor.
	K int
	// Alpha is the lookup concurrency.
	Alpha int
	// StorageTTL is the in-memory store's entry lifetime. Ignored if
	// PersistPath is set.
	StorageTTL time.Duration
	// PersistPath, if non-empty, switches storage to a PersistentStore
	// backed by this file instead of an in-memory TTLStore.
	PersistPath string
	// RefreshInterval is how often lonely buckets are refreshed.
	RefreshInterval time.Duration
	// RepublishInterval is the age past which a locally-held entry is
	// re-issued as a STORE to its current nearest nodes.
	RepublishInterval time.Duration
}

// DefaultOptions returns the conventional Kademlia parameters.
func DefaultOptions() Options {
	return Options{
		K:                 routing.DefaultK,
		Alpha:             3,
		StorageTTL:        store.DefaultTTL,
		RefreshInterval:   routing.LonelyThreshold,
		RepublishInterval: store.DefaultTTL / 2,
	}
}

func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = routing.DefaultK
	}
	if o.Alpha <= 0 {
		o.Alpha = 3
	}
	if o.StorageTTL <= 0 {
		o.StorageTTL = store.DefaultTTL
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = routing.LonelyThreshold
	}
	if o.RepublishInterval <= 0 {
		o.RepublishInterval = store.DefaultTTL / 2
	}
	return o
}

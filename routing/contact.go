package routing

import (
	"fmt"

	"github.com/dhtkad/kademlia/identifier"
)

// Contact is a peer known to the routing table: its identifier and the
// network address ("home") it was last seen at.
type Contact struct {
	ID   identifier.NodeId
	Host string
	Port uint16
}

// SameHome reports whether two contacts share a (host, port) pair,
// regardless of identifier. Used to avoid echoing a node back to itself
// during neighbor lookups.
func (c Contact) SameHome(other Contact) bool {
	return c.Host == other.Host && c.Port == other.Port
}

// String renders the contact for log fields.
func (c Contact) String() string {
	return fmt.Sprintf("%s@%s:%d", c.ID.String()[:8], c.Host, c.Port)
}

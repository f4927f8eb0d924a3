package rpc

import (
	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
)

// ResponseKind tags which alternative of Response is populated.
type ResponseKind int

const (
	// ResponseTimeout means no reply arrived within the call's deadline.
	ResponseTimeout ResponseKind = iota
	// ResponsePong is rpc_ping's reply: the responder's own id.
	ResponsePong
	// ResponseStored is rpc_store's reply: a bare acknowledgement.
	ResponseStored
	// ResponseNodes is rpc_find_node's reply, and rpc_find_value's reply
	// when the responder does not hold the key.
	ResponseNodes
	// ResponseValue is rpc_find_value's reply when the responder holds
	// the key.
	ResponseValue
	// ResponseStun is rpc_stun's reply: the address as observed by the
	// responder.
	ResponseStun
)

// Response is the outcome of a single outbound call, one field of which
// is meaningful depending on Kind. Protocol.FindValue returns it with Kind
// ResponseValue or ResponseNodes; the outstanding-call table itself
// carries raw response bodies.
type Response struct {
	Kind     ResponseKind
	PeerID   identifier.NodeId
	Nodes    []routing.Contact
	Value    []byte
	StunHost string
	StunPort int
}

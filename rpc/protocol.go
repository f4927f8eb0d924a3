package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/store"
	"github.com/sirupsen/logrus"
)

// Protocol answers inbound RPC requests against a local routing table and
// storage, and issues outbound requests to peers. It implements
// routing.Pinger so the routing table can probe a bucket's head contact
// without importing this package.
type Protocol struct {
	self      identifier.NodeId
	k         int
	transport Transport
	table     *routing.Table
	storage   store.Storage
	calls     *callTable
	timeout   time.Duration
}

// NewProtocol binds a UDP socket on port and returns a Protocol serving
// table and storage over it. Every inbound datagram admits its sender to
// table before any reply is formed (the "welcome" rule).
func NewProtocol(self identifier.NodeId, port, k int, table *routing.Table, storage store.Storage) (*Protocol, error) {
	p := &Protocol{
		self:    self,
		k:       k,
		table:   table,
		storage: storage,
		calls:   newCallTable(),
		timeout: DefaultCallTimeout,
	}

	transport, err := NewUDPTransport(port, p.handleDatagram)
	if err != nil {
		return nil, err
	}
	p.transport = transport
	return p, nil
}

// LocalPort reports the bound UDP port.
func (p *Protocol) LocalPort() int { return p.transport.LocalPort() }

// Close releases the underlying socket and fails every call still
// awaiting a response, stopping its timeout timer.
func (p *Protocol) Close() error {
	err := p.transport.Close()

	p.calls.mu.Lock()
	ids := make([]MsgID, 0, len(p.calls.pending))
	for id, call := range p.calls.pending {
		call.timer.Stop()
		ids = append(ids, id)
	}
	p.calls.mu.Unlock()
	for _, id := range ids {
		p.calls.cancel(id)
	}
	return err
}

func (p *Protocol) handleDatagram(typ frameType, id MsgID, body []byte, host string, port int) {
	if typ == frameResponse {
		p.calls.complete(id, body)
		return
	}

	verb, args, err := decodeRequest(body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"peer":    fmt.Sprintf("%s:%d", host, port),
			"error":   err,
		}).Debug("dropping malformed request")
		return
	}

	senderID, err := senderIDFromArgs(args)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"peer":    fmt.Sprintf("%s:%d", host, port),
			"error":   err,
		}).Debug("dropping request with bad sender id")
		return
	}

	sender := routing.Contact{ID: senderID, Host: host, Port: uint16(port)}
	if p.table.AddContact(sender) {
		p.welcomeNewNode(sender)
	}

	respBody, err := p.dispatch(verb, args, sender)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"verb":    verb,
			"peer":    sender.String(),
			"error":   err,
		}).Debug("request handler failed; dropping without reply")
		return
	}

	frame, err := encodeFrame(frameResponse, id, respBody)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"verb":    verb,
			"error":   err,
		}).Warn("failed to encode response")
		return
	}
	if err := p.transport.Send(frame, host, port); err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "rpc",
			"peer":    sender.String(),
			"error":   err,
		}).Debug("failed to send response")
	}
}

func senderIDFromArgs(args []interface{}) (identifier.NodeId, error) {
	if len(args) < 1 {
		return identifier.NodeId{}, fmt.Errorf("%w: missing sender id", ErrMalformed)
	}
	raw, ok := args[0].([]byte)
	if !ok || len(raw) != identifier.Size {
		return identifier.NodeId{}, fmt.Errorf("%w: malformed sender id", ErrMalformed)
	}
	var id identifier.NodeId
	copy(id[:], raw)
	return id, nil
}

// dispatch runs the handler for verb and returns the value to encode as
// the response body.
func (p *Protocol) dispatch(verb Verb, args []interface{}, sender routing.Contact) (interface{}, error) {
	switch verb {
	case VerbPing:
		return p.self[:], nil

	case VerbStun:
		return []interface{}{sender.Host, int(sender.Port)}, nil

	case VerbStore:
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: store requires key and value", ErrMalformed)
		}
		key, ok := args[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: store key is not bytes", ErrMalformed)
		}
		rawValue, ok := args[2].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: store value is not bytes", ErrMalformed)
		}
		value, auth, err := store.DecodeEnvelope(rawValue)
		if err != nil {
			return nil, fmt.Errorf("store value: %w", err)
		}
		if err := store.CheckAuthorizedWrite(key, value, p.existingAuthFor(key), auth, time.Now()); err != nil {
			return nil, fmt.Errorf("store value: %w", err)
		}
		if err := p.storage.Put(key, rawValue); err != nil {
			return nil, fmt.Errorf("store value: %w", err)
		}
		return true, nil

	case VerbFindNode:
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: find_node requires target", ErrMalformed)
		}
		target, err := targetFromArg(args[1])
		if err != nil {
			return nil, err
		}
		neighbors := p.table.FindNeighbors(target, p.k, &sender)
		return encodeContacts(neighbors), nil

	case VerbFindValue:
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: find_value requires key", ErrMalformed)
		}
		key, ok := args[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: find_value key is not bytes", ErrMalformed)
		}
		if value, ok := p.storage.Get(key); ok {
			return map[string]interface{}{"value": value}, nil
		}
		var target identifier.NodeId
		copy(target[:], key)
		neighbors := p.table.FindNeighbors(target, p.k, &sender)
		return encodeContacts(neighbors), nil

	default:
		return nil, fmt.Errorf("%w: unhandled verb %q", ErrMalformed, verb)
	}
}

// existingAuthFor returns the authorization already bound to key's
// locally held value, if any, so an inbound write can be checked
// against it before it is accepted.
func (p *Protocol) existingAuthFor(key []byte) *store.Authorization {
	raw, ok := p.storage.Get(key)
	if !ok {
		return nil
	}
	_, auth, err := store.DecodeEnvelope(raw)
	if err != nil {
		return nil
	}
	return auth
}

func targetFromArg(arg interface{}) (identifier.NodeId, error) {
	raw, ok := arg.([]byte)
	if !ok || len(raw) != identifier.Size {
		return identifier.NodeId{}, fmt.Errorf("%w: malformed target id", ErrMalformed)
	}
	var id identifier.NodeId
	copy(id[:], raw)
	return id, nil
}

// callRaw sends a request to host:port and blocks for a response or
// timeout, without touching the routing table. It is the primitive
// bootstrap pinging a not-yet-identified seed needs, since there is no
// Contact (and hence no id) to welcome until the peer actually answers.
func (p *Protocol) callRaw(ctx context.Context, host string, port int, verb Verb, args []interface{}) ([]byte, error) {
	id, err := newMsgID()
	if err != nil {
		return nil, err
	}

	frame, err := encodeFrame(frameRequest, id, encodeRequestBody(verb, args))
	if err != nil {
		return nil, err
	}

	replies := p.calls.register(id, p.timeout)
	if err := p.transport.Send(frame, host, port); err != nil {
		p.calls.cancel(id)
		return nil, fmt.Errorf("rpc: send %s to %s:%d: %w", verb, host, port, err)
	}

	select {
	case body, ok := <-replies:
		if !ok {
			return nil, fmt.Errorf("%w: no reply from %s:%d", ErrTimeout, host, port)
		}
		return body, nil
	case <-ctx.Done():
		p.calls.cancel(id)
		return nil, ctx.Err()
	}
}

// call sends a request to a known contact, welcoming it into the
// routing table on success and evicting it on timeout, per the
// correlation rule in SPEC_FULL.md §4.4.
func (p *Protocol) call(ctx context.Context, contact routing.Contact, verb Verb, args []interface{}) ([]byte, error) {
	body, err := p.callRaw(ctx, contact.Host, int(contact.Port), verb, args)
	if err != nil {
		p.table.RemoveContact(contact.ID)
		return nil, err
	}
	if p.table.AddContact(contact) {
		p.welcomeNewNode(contact)
	}
	return body, nil
}

// PingDiscover pings an address with no known node id, for bootstrap
// seeds. On a successful reply it learns the peer's real id from the
// pong body and welcomes it into the routing table under that id.
func (p *Protocol) PingDiscover(ctx context.Context, host string, port int) (identifier.NodeId, bool) {
	body, err := p.callRaw(ctx, host, port, VerbPing, []interface{}{p.self[:]})
	if err != nil {
		return identifier.NodeId{}, false
	}

	var raw []byte
	if decErr := decodeInto(body, &raw); decErr != nil || len(raw) != identifier.Size {
		return identifier.NodeId{}, false
	}

	var peerID identifier.NodeId
	copy(peerID[:], raw)
	discovered := routing.Contact{ID: peerID, Host: host, Port: uint16(port)}
	if p.table.AddContact(discovered) {
		p.welcomeNewNode(discovered)
	}
	return peerID, true
}

// Ping implements routing.Pinger: true iff the contact answered rpc_ping
// within the call timeout.
func (p *Protocol) Ping(ctx context.Context, contact routing.Contact) bool {
	_, err := p.call(ctx, contact, VerbPing, []interface{}{p.self[:]})
	return err == nil
}

// Store issues rpc_store to contact.
func (p *Protocol) Store(ctx context.Context, contact routing.Contact, key, value []byte) error {
	_, err := p.call(ctx, contact, VerbStore, []interface{}{p.self[:], key, value})
	return err
}

// FindNode issues rpc_find_node to contact and parses the returned
// contact list.
func (p *Protocol) FindNode(ctx context.Context, contact routing.Contact, target identifier.NodeId) ([]routing.Contact, error) {
	body, err := p.call(ctx, contact, VerbFindNode, []interface{}{p.self[:], target[:]})
	if err != nil {
		return nil, err
	}
	return decodeFindNodeReply(body)
}

// FindValue issues rpc_find_value to contact, returning either a value
// (ResponseValue) or a neighbor list (ResponseNodes).
func (p *Protocol) FindValue(ctx context.Context, contact routing.Contact, key []byte) (Response, error) {
	body, err := p.call(ctx, contact, VerbFindValue, []interface{}{p.self[:], key})
	if err != nil {
		return Response{}, err
	}
	return decodeFindValueReply(body)
}

// Stun issues rpc_stun to contact, returning the address it was observed
// from.
func (p *Protocol) Stun(ctx context.Context, contact routing.Contact) (host string, port int, err error) {
	body, err := p.call(ctx, contact, VerbStun, []interface{}{p.self[:]})
	if err != nil {
		return "", 0, err
	}
	var tuple []interface{}
	if decErr := decodeInto(body, &tuple); decErr != nil || len(tuple) != 2 {
		return "", 0, fmt.Errorf("%w: malformed stun reply", ErrMalformed)
	}
	h, ok := tuple[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("%w: malformed stun host", ErrMalformed)
	}
	pt, convErr := toInt(tuple[1])
	if convErr != nil {
		return "", 0, fmt.Errorf("%w: malformed stun port", ErrMalformed)
	}
	return h, pt, nil
}

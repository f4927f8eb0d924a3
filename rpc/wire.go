package rpc

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// frameType distinguishes a request datagram from a response datagram.
type frameType byte

const (
	frameRequest  frameType = 0x00
	frameResponse frameType = 0x01
)

// MaxDatagramSize is the hard ceiling on an encoded datagram, matching the
// reference implementation's 8 KiB limit.
const MaxDatagramSize = 8 * 1024

// msgIDSize is the length in bytes of a correlation id, reusing the node
// identifier width rather than inventing a second 20-byte type.
const msgIDSize = 20

// MsgID correlates a request with its eventual response.
type MsgID [msgIDSize]byte

// newMsgID draws a uniformly random correlation id.
func newMsgID() (MsgID, error) {
	var id MsgID
	if _, err := rand.Read(id[:]); err != nil {
		return MsgID{}, fmt.Errorf("rpc: generate message id: %w", err)
	}
	return id, nil
}

// Verb names the requested operation. Values are the literal strings the
// wire protocol uses, not enum ordinals, so a byte-compatible peer
// implemented elsewhere can dispatch on them directly.
type Verb string

const (
	VerbPing      Verb = "rpc_ping"
	VerbStore     Verb = "rpc_store"
	VerbFindNode  Verb = "rpc_find_node"
	VerbFindValue Verb = "rpc_find_value"
	// VerbStun is a supplemented verb (see SPEC_FULL.md's Supplemented
	// Features): echoes back the observed source address so a node
	// behind NAT can learn its externally visible host:port.
	VerbStun Verb = "rpc_stun"
)

// ErrMalformed covers any datagram that is too short, unparseable, or
// names an unknown verb.
var ErrMalformed = errors.New("rpc: malformed datagram")

// ErrOversize is returned by encode when the finished datagram would
// exceed MaxDatagramSize.
var ErrOversize = errors.New("rpc: datagram exceeds maximum size")

// encodeFrame serializes a full datagram: type byte, message id, body.
func encodeFrame(typ frameType, id MsgID, body interface{}) ([]byte, error) {
	encoded, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode body: %w", err)
	}

	out := make([]byte, 0, 1+msgIDSize+len(encoded))
	out = append(out, byte(typ))
	out = append(out, id[:]...)
	out = append(out, encoded...)

	if len(out) > MaxDatagramSize {
		return nil, ErrOversize
	}
	return out, nil
}

// decodeFrame splits a raw datagram into its type, message id, and raw
// body bytes, without decoding the body itself.
func decodeFrame(raw []byte) (frameType, MsgID, []byte, error) {
	if len(raw) > MaxDatagramSize {
		return 0, MsgID{}, nil, ErrOversize
	}
	if len(raw) < 1+msgIDSize {
		return 0, MsgID{}, nil, fmt.Errorf("%w: short frame (%d bytes)", ErrMalformed, len(raw))
	}

	typ := frameType(raw[0])
	if typ != frameRequest && typ != frameResponse {
		return 0, MsgID{}, nil, fmt.Errorf("%w: unknown frame type %#x", ErrMalformed, raw[0])
	}

	var id MsgID
	copy(id[:], raw[1:1+msgIDSize])
	return typ, id, raw[1+msgIDSize:], nil
}

// encodeRequestBody builds the two-element [verb, args] array a request
// body is encoded as.
func encodeRequestBody(verb Verb, args []interface{}) []interface{} {
	return []interface{}{string(verb), args}
}

// decodeRequest unmarshals a request body, rejecting unknown verbs.
func decodeRequest(raw []byte) (Verb, []interface{}, error) {
	var tuple []interface{}
	if err := msgpack.Unmarshal(raw, &tuple); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(tuple) != 2 {
		return "", nil, fmt.Errorf("%w: request body has %d elements", ErrMalformed, len(tuple))
	}
	name, ok := tuple[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("%w: verb is not a string", ErrMalformed)
	}
	verb := Verb(name)
	switch verb {
	case VerbPing, VerbStore, VerbFindNode, VerbFindValue, VerbStun:
	default:
		return "", nil, fmt.Errorf("%w: unknown verb %q", ErrMalformed, name)
	}

	args, ok := tuple[1].([]interface{})
	if !ok {
		if tuple[1] == nil {
			args = nil
		} else {
			return "", nil, fmt.Errorf("%w: args is not an array", ErrMalformed)
		}
	}
	return verb, args, nil
}

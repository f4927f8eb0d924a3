package rpc

import (
	"errors"
	"fmt"

	"github.com/dhtkad/kademlia/routing"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrTimeout is returned by Protocol's call methods when no response
// arrives within the call timeout.
var ErrTimeout = errors.New("rpc: call timed out")

func decodeInto(body []byte, v interface{}) error {
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// decodeFindNodeReply parses a plain neighbor-list response body.
func decodeFindNodeReply(body []byte) ([]routing.Contact, error) {
	var raw interface{}
	if err := decodeInto(body, &raw); err != nil {
		return nil, err
	}
	return decodeContacts(raw)
}

// decodeFindValueReply parses a find_value response body, which is
// either {"value": bytes} or the same neighbor-list shape find_node
// returns.
func decodeFindValueReply(body []byte) (Response, error) {
	var raw interface{}
	if err := decodeInto(body, &raw); err != nil {
		return Response{}, err
	}

	if m, ok := raw.(map[string]interface{}); ok {
		value, ok := m["value"].([]byte)
		if !ok {
			return Response{}, fmt.Errorf("%w: find_value map missing value", ErrMalformed)
		}
		return Response{Kind: ResponseValue, Value: value}, nil
	}

	contacts, err := decodeContacts(raw)
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: ResponseNodes, Nodes: contacts}, nil
}

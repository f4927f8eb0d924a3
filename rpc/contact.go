package rpc

import (
	"fmt"

	"github.com/dhtkad/kademlia/identifier"
	"github.com/dhtkad/kademlia/routing"
)

// encodeContacts converts contacts to their wire-triple form for
// inclusion in a response body.
func encodeContacts(contacts []routing.Contact) []interface{} {
	out := make([]interface{}, len(contacts))
	for i, c := range contacts {
		out[i] = []interface{}{c.ID[:], c.Host, int(c.Port)}
	}
	return out
}

// decodeContacts parses the wire-triple form produced by encodeContacts.
func decodeContacts(raw interface{}) ([]routing.Contact, error) {
	list, ok := raw.([]interface{})
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: contact list is not an array", ErrMalformed)
	}

	out := make([]routing.Contact, 0, len(list))
	for _, entry := range list {
		triple, ok := entry.([]interface{})
		if !ok || len(triple) != 3 {
			return nil, fmt.Errorf("%w: malformed contact triple", ErrMalformed)
		}

		idBytes, ok := triple[0].([]byte)
		if !ok || len(idBytes) != identifier.Size {
			return nil, fmt.Errorf("%w: malformed contact id", ErrMalformed)
		}
		host, ok := triple[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: malformed contact host", ErrMalformed)
		}
		port, err := toInt(triple[2])
		if err != nil {
			return nil, fmt.Errorf("%w: malformed contact port: %v", ErrMalformed, err)
		}

		var id identifier.NodeId
		copy(id[:], idBytes)
		out = append(out, routing.Contact{ID: id, Host: host, Port: uint16(port)})
	}
	return out, nil
}

// toInt normalizes the assortment of numeric types msgpack may produce
// for an integer field depending on its encoded width.
func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

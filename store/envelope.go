package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// envelope is the wire and storage representation of a value plus its
// optional authorization: what is actually held in a Storage
// implementation and carried as a STORE RPC's value argument, so a
// receiving node can decode and verify it on its own rather than
// trusting the sender's local check. Its JSON shape mirrors the admin
// facade's signed-value contract (data, authorization.sign,
// authorization.pub_key).
type envelope struct {
	Data string        `json:"data"`
	Auth *envelopeAuth `json:"authorization,omitempty"`
}

type envelopeAuth struct {
	Sign   string         `json:"sign"`
	PubKey envelopePubKey `json:"pub_key"`
}

type envelopePubKey struct {
	Key     string `json:"key"`
	ExpTime *int64 `json:"exp_time"`
}

// EncodeEnvelope serializes value and its optional authorization for
// storage and network transport. data is carried base64 via a plain
// string field, since JSON has no byte-string type.
func EncodeEnvelope(value []byte, auth *Authorization) []byte {
	e := envelope{Data: base64.StdEncoding.EncodeToString(value)}
	if auth != nil {
		e.Auth = &envelopeAuth{
			Sign: auth.Signature,
			PubKey: envelopePubKey{
				Key:     auth.PublicKey,
				ExpTime: auth.Expiry,
			},
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		// e contains only strings and a *int64; Marshal cannot fail.
		panic(fmt.Sprintf("store: encoding envelope: %v", err))
	}
	return raw
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(raw []byte) (value []byte, auth *Authorization, err error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, nil, fmt.Errorf("store: decoding envelope: %w", err)
	}
	value, err = base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("store: decoding envelope data field: %w", err)
	}
	if e.Auth == nil {
		return value, nil, nil
	}
	return value, &Authorization{
		PublicKey: e.Auth.PubKey.Key,
		Expiry:    e.Auth.PubKey.ExpTime,
		Signature: e.Auth.Sign,
	}, nil
}

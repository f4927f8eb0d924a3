// Package rpc implements the datagram protocol that lets DHT nodes talk
// to each other: a four(-plus-one)-verb request/response exchange framed
// over UDP and encoded with MessagePack.
//
// Every datagram starts with a one-byte type (request or response)
// followed by a 20-byte random message id and a MessagePack-encoded
// body. Requests carry [verb, args]; responses carry the verb's return
// value directly. A Protocol owns the local routing table and storage
// and answers inbound requests; its outstanding-call table correlates
// outbound requests with their eventual responses or timeouts.
package rpc

// Package store implements the key-value layer backing each DHT node.
//
// Two Storage implementations are provided: TTLStore, an in-memory store
// that culls entries older than its TTL on every access, and
// PersistentStore, a best-effort flush-to-disk store with no eviction.
// Authorization binds a stored value to a signer's public key via an
// RSA-PSS signature over the value's SHA-256 hex digest, following the
// scheme in the reference implementation's crypto module.
package store

package store

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dhtkad/kademlia/identifier"
	"golang.org/x/crypto/ssh"
)

// Sentinel errors surfaced to the administration facade boundary, per the
// error taxonomy in SPEC_FULL.md §2.
var (
	ErrInvalidSign           = errors.New("store: signature does not verify")
	ErrExpiredAuthorization  = errors.New("store: authorization has expired")
	ErrUnauthorizedOperation = errors.New("store: cannot replace an authorized value with a different key")
	ErrKeyMismatch           = errors.New("store: signing key does not hash to the dht key")
)

// Authorization binds a stored value to a signer's public key. A value is
// authorized iff Signature verifies sha256(value).hex() (as ASCII bytes)
// under PublicKey using RSA-PSS with MGF1-SHA256 and maximal salt length.
type Authorization struct {
	// PublicKey is the base64 encoding of the signer's public key in raw
	// SSH wire format (the "ssh-base64" shape from the admin facade).
	PublicKey string
	// Expiry is the optional Unix-seconds expiry of the authorization.
	Expiry *int64
	// Signature is the base64-encoded RSA-PSS signature.
	Signature string
}

// prehash computes the ASCII-hex SHA-256 digest of value, which is the
// message actually signed (see SPEC_FULL.md §4.2 and the crypto.py this
// is ported from).
func prehash(value []byte) []byte {
	sum := sha256.Sum256(value)
	return []byte(hex.EncodeToString(sum[:]))
}

// Sign produces a base64-encoded RSA-PSS signature over value under priv.
func Sign(value []byte, priv *rsa.PrivateKey) (string, error) {
	hashed := sha256.Sum256(prehash(value))
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, hashed[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("store: signing value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether auth's signature verifies over value under the
// public key it carries, and that any expiry has not passed.
func Verify(value []byte, auth Authorization, now time.Time) error {
	if auth.Expiry != nil && *auth.Expiry < now.Unix() {
		return ErrExpiredAuthorization
	}

	pub, err := parsePublicKey(auth.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSign, err)
	}

	sig, err := base64.StdEncoding.DecodeString(auth.Signature)
	if err != nil {
		return fmt.Errorf("%w: decoding signature: %v", ErrInvalidSign, err)
	}

	hashed := sha256.Sum256(prehash(value))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSign, err)
	}
	return nil
}

func parsePublicKey(b64 string) (*rsa.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	parsed, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh public key: %w", err)
	}
	cryptoKey, ok := parsed.(ssh.CryptoPublicKey)
	if !ok {
		return nil, errors.New("public key does not expose a crypto.PublicKey")
	}
	rsaKey, ok := cryptoKey.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaKey, nil
}

// CheckAuthorizedWrite enforces the signed-value write gate described in
// SPEC_FULL.md §4.2. It is composed by the Node/RPC layer ahead of a call
// to Storage.Put, not by Storage itself.
//
// dhtKey is the key bytes the value is stored under (it must equal the
// SHA-1 digest of the signer's public key, binding key-space location to
// signer identity). existing is the Authorization on the value already
// stored at dhtKey, if any. newAuth is the Authorization accompanying the
// incoming write, if any.
func CheckAuthorizedWrite(dhtKey, newValue []byte, existing, newAuth *Authorization, now time.Time) error {
	if existing != nil && existing.PublicKey != "" {
		// An authorized value may only be replaced by another value
		// authorized under the identical public key.
		if newAuth == nil || newAuth.PublicKey != existing.PublicKey {
			return ErrUnauthorizedOperation
		}
	}

	if newAuth != nil {
		if err := Verify(newValue, *newAuth, now); err != nil {
			return err
		}
		if err := checkKeyBindsToDHTKey(dhtKey, newAuth.PublicKey); err != nil {
			return err
		}
	}

	return nil
}

// checkKeyBindsToDHTKey verifies that SHA-1(publicKeyRaw) == dhtKey, which
// binds a key-space location to the signer who may write there.
func checkKeyBindsToDHTKey(dhtKey []byte, publicKeyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: decoding public key: %v", ErrKeyMismatch, err)
	}
	digest := identifier.DigestBytes(raw)
	if len(dhtKey) != identifier.Size {
		return fmt.Errorf("%w: dht key is not %d bytes", ErrKeyMismatch, identifier.Size)
	}
	for i := 0; i < identifier.Size; i++ {
		if digest[i] != dhtKey[i] {
			return ErrKeyMismatch
		}
	}
	return nil
}

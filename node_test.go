package kademlia

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/dhtkad/kademlia/routing"
	"github.com/dhtkad/kademlia/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// newListeningNode starts a Node on an ephemeral loopback port and
// arranges for it to be stopped at test end.
func newListeningNode(t *testing.T) *Node {
	t.Helper()
	node, err := New(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, node.Listen(0))
	t.Cleanup(func() { _ = node.Stop() })
	return node
}

func seedFor(node *Node) routing.Contact {
	return routing.Contact{Host: "127.0.0.1", Port: uint16(node.LocalPort())}
}

// TestInceptionStoreGet is scenario 1 of spec.md's end-to-end scenarios:
// start node A, start node B, bootstrap B against A, B.Set, then both
// B.Get and A.Get observe the value.
func TestInceptionStoreGet(t *testing.T) {
	a := newListeningNode(t)
	b := newListeningNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, b.Bootstrap(ctx, []routing.Contact{seedFor(a)}))
	require.NoError(t, b.Set(ctx, "k", []byte("v")))

	value, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	value, ok, err = a.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

// TestAuthorizedReplaceRejection is scenario 5: once a key is written
// with an authorization, only the same signer may replace it.
func TestAuthorizedReplaceRejection(t *testing.T) {
	a := newListeningNode(t)
	b := newListeningNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Bootstrap(ctx, []routing.Contact{seedFor(a)}))

	privA, pubA, rawA := mustSSHKeypair(t)
	key := keyDigestingTo(rawA)

	valueA := []byte("v")
	sigA, err := store.Sign(valueA, privA)
	require.NoError(t, err)
	require.NoError(t, b.SetAuth(ctx, key, valueA, store.Authorization{PublicKey: pubA, Signature: sigA}))

	valueB := []byte("v-prime")
	// Signed correctly under a different key, but that key is not the
	// signer of record for this dht key.
	privB, pubB, _ := mustSSHKeypair(t)
	sigB, err := store.Sign(valueB, privB)
	require.NoError(t, err)

	err = b.SetAuth(ctx, key, valueB, store.Authorization{PublicKey: pubB, Signature: sigB})
	assert.ErrorIs(t, err, store.ErrUnauthorizedOperation)

	// The original value survives the rejected overwrite attempt.
	got, ok, err := a.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, valueA, got)
}

// keyDigestingTo returns a Node.Set/SetAuth key string whose
// identifier.Digest equals identifier.DigestBytes(raw): since Digest
// just SHA-1s the key's own bytes, using raw's bytes directly as the
// key string makes the two hash to the same dht key, which is what
// checkKeyBindsToDHTKey requires of an authorization naming raw's
// owning keypair.
func keyDigestingTo(raw []byte) string {
	return string(raw)
}

func mustSSHKeypair(t *testing.T) (priv *rsa.PrivateKey, pubB64 string, raw []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	raw = sshPub.Marshal()
	return priv, base64.StdEncoding.EncodeToString(raw), raw
}

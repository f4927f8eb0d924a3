package rpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	id, err := newMsgID()
	require.NoError(t, err)

	body := encodeRequestBody(VerbPing, []interface{}{[]byte("sender-id-2020202020")})
	raw, err := encodeFrame(frameRequest, id, body)
	require.NoError(t, err)

	typ, gotID, gotBody, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, frameRequest, typ)
	assert.Equal(t, id, gotID)

	verb, args, err := decodeRequest(gotBody)
	require.NoError(t, err)
	assert.Equal(t, VerbPing, verb)
	require.Len(t, args, 1)
}

func TestEncodeFrameRejectsOversizeDatagram(t *testing.T) {
	id, err := newMsgID()
	require.NoError(t, err)

	huge := strings.Repeat("x", MaxDatagramSize*2)
	_, err = encodeFrame(frameRequest, id, huge)
	assert.ErrorIs(t, err, ErrOversize)
}

func TestDecodeFrameRejectsShortDatagram(t *testing.T) {
	_, _, _, err := decodeFrame([]byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	raw := make([]byte, 1+msgIDSize)
	raw[0] = 0x07
	_, _, _, err := decodeFrame(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequestRejectsUnknownVerb(t *testing.T) {
	body := encodeRequestBody(Verb("rpc_explode"), nil)
	raw, err := msgpack.Marshal(body)
	require.NoError(t, err)

	_, _, err = decodeRequest(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

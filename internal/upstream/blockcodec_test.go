package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/payload"
)

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	want := compressor.Block{
		Header: []byte("block-header"),
		Txs: []*payload.Payload{
			payload.New([]byte("tx1")),
			payload.New([]byte("a-longer-transaction-body")),
		},
	}
	want.Hash[0] = 0xAA

	encoded := EncodeBlock(want)
	got, err := DecodeBlock(encoded)
	require.NoError(t, err)

	require.Equal(t, want.Hash, got.Hash)
	require.Equal(t, want.Header, got.Header)
	require.Len(t, got.Txs, 2)
	require.Equal(t, want.Txs[0].Bytes(), got.Txs[0].Bytes())
	require.Equal(t, want.Txs[1].Bytes(), got.Txs[1].Bytes())
}

func TestDecodeHeadersSplitsConcatenatedHashes(t *testing.T) {
	var data []byte
	var h1, h2 [32]byte
	h1[0] = 1
	h2[0] = 2
	data = append(data, h1[:]...)
	data = append(data, h2[:]...)

	hashes, err := DecodeHeaders(data)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{h1, h2}, hashes)
}

func TestDecodeHeadersRejectsMisalignedPayload(t *testing.T) {
	_, err := DecodeHeaders(make([]byte, 31))
	require.Error(t, err)
}

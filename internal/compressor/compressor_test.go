package compressor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaynet.dev/relayd/internal/payload"
)

func mkTx(tag byte) *payload.Payload {
	buf := make([]byte, 60)
	buf[59] = tag
	return payload.New(buf)
}

func TestNewUnknownVersionRejected(t *testing.T) {
	_, err := New("not a real version")
	require.Error(t, err)
}

func TestGetRelayTransactionSuppressesRepeat(t *testing.T) {
	c, err := New("the blocksize")
	require.NoError(t, err)
	defer c.Close()

	tx := mkTx(1)
	wire1, ok := c.GetRelayTransaction(tx)
	require.True(t, ok)
	require.NotEmpty(t, wire1)

	_, ok = c.GetRelayTransaction(tx)
	require.False(t, ok, "a transaction already relayed to this version must be suppressed")

	require.True(t, c.WasTxSent(tx.Hash()))
}

func TestCompressRecompressRoundTrip(t *testing.T) {
	c, err := New("spammy memeater")
	require.NoError(t, err)
	defer c.Close()

	tx1, tx2 := mkTx(1), mkTx(2)
	c.knownTx.Add(tx1, false)

	block := Block{Header: []byte("header-bytes"), Txs: []*payload.Payload{tx1, tx2}}
	compressed, reject := c.MaybeCompressBlock([32]byte{0xAA}, block, false)
	require.Empty(t, reject)
	require.NotEmpty(t, compressed)

	decoded, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Len(t, decoded.Txs, 2)
	require.True(t, decoded.Txs[0] == tx1, "known transaction should resolve to the same dictionary entry")
	require.Equal(t, tx2.Bytes(), decoded.Txs[1].Bytes())

	recompressed := c.RecompressBlock(decoded)
	require.Equal(t, compressed, recompressed)
}

func TestMaybeCompressBlockRejectsEmptyWhenCheckingMerkle(t *testing.T) {
	c, err := New("the blocksize")
	require.NoError(t, err)
	defer c.Close()

	_, reject := c.MaybeCompressBlock([32]byte{0x01}, Block{}, true)
	require.NotEmpty(t, reject)
}

func TestBlockSentHistory(t *testing.T) {
	c, err := New("sponsor printer")
	require.NoError(t, err)
	defer c.Close()

	var h1, h2 [32]byte
	h1[0] = 1
	h2[0] = 2
	c.BlockSent(h1)
	c.BlockSent(h2)

	require.Equal(t, 2, c.BlocksSent())
}

func TestRelayNodeConnectedReplaysInLearnedOrder(t *testing.T) {
	c, err := New("the blocksize")
	require.NoError(t, err)
	defer c.Close()

	tx1, tx2 := mkTx(1), mkTx(2)
	_, _ = c.GetRelayTransaction(tx1)
	_, _ = c.GetRelayTransaction(tx2)

	var sent [][]byte
	err = c.RelayNodeConnected(func(frame []byte) error {
		sent = append(sent, append([]byte{}, frame...))
		return nil
	})
	require.NoError(t, err)
	// Two forms per transaction, two transactions, in insertion order.
	require.Len(t, sent, 4)
	require.Equal(t, tx1.Bytes(), sent[0])
	require.Equal(t, tx2.Bytes(), sent[2])
}

func TestSponsorPrinterSharesTheBlocksizeCompressor(t *testing.T) {
	idxA, ok := CompressorIndexForTag("the blocksize")
	require.True(t, ok)
	idxB, ok := CompressorIndexForTag("sponsor printer")
	require.True(t, ok)
	require.Equal(t, idxA, idxB, "both tags share one (flags, freeze) pair and must route to the same Compressor")

	require.False(t, VersionTable["the blocksize"].SendsSponsor)
	require.True(t, VersionTable["sponsor printer"].SendsSponsor, "the two tags disagree only on SendsSponsor, tracked per peer rather than per Compressor")
}

func TestCompressorIndexForTagCoversVersionOrder(t *testing.T) {
	for i, tag := range VersionOrder {
		idx, ok := CompressorIndexForTag(tag)
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
}

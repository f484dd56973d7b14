package compressor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"relaynet.dev/relayd/internal/hashutil"
	"relaynet.dev/relayd/internal/payload"
	"relaynet.dev/relayd/internal/wire"
)

// Block is a trusted-upstream or peer-relayed block, already framed by
// the (out-of-scope) bitcoin P2P codec into a header and an ordered list
// of whole transaction payloads with their hashes attached (spec.md §1
// "Out of scope" black-box framer). relayd never parses bitcoin script or
// transaction structure; the compressor's only job is deciding, per
// transaction, whether the receiving version's dictionary already has it.
type Block struct {
	Hash   [hashutil.Size]byte
	Header []byte
	Txs    []*payload.Payload
}

// recompressRejectLimit is the original's 80-byte rejection threshold for
// recompressed blocks. Nothing consults it: RecompressBlock always returns
// real compressed bytes, and callers fan out the result whatever its
// length, so a short result is never read back as a reason string.
const recompressRejectLimit = 80

const (
	knownMarker   = 1
	unknownMarker = 0
)

// compress renders block using this compressor's dictionary. When freeze
// is requested by the variant, membership is resolved from a single
// snapshot taken before any transaction is considered, so an index
// referenced early in the block cannot be invalidated by a concurrent Add
// later in the same call (spec.md §4.3 "freeze_indexes_during_block").
func (c *Compressor) compress(b Block) []byte {
	var snapshot map[[hashutil.Size]byte]int
	if c.variant.FreezeIndexesDuringBlock {
		snapshot = make(map[[hashutil.Size]byte]int)
		i := 0
		c.knownTx.ForEach(func(p *payload.Payload, _ bool) {
			snapshot[p.Hash()] = i
			i++
		})
	}

	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(b.Header)))
	buf.Write(b.Header)
	writeUint32(&buf, uint32(len(b.Txs)))

	for _, tx := range b.Txs {
		idx, known := c.indexFor(tx, snapshot)
		if known {
			buf.WriteByte(knownMarker)
			if c.variant.UseFlagsAndSmallerMax {
				writeUint16(&buf, uint16(idx))
			} else {
				writeUint32(&buf, uint32(idx))
			}
			continue
		}
		buf.WriteByte(unknownMarker)
		writeUint32(&buf, uint32(len(tx.Bytes())))
		buf.Write(tx.Bytes())
	}
	return buf.Bytes()
}

func (c *Compressor) indexFor(tx *payload.Payload, snapshot map[[hashutil.Size]byte]int) (int, bool) {
	if snapshot != nil {
		idx, ok := snapshot[tx.Hash()]
		return idx, ok
	}
	idx := 0
	found := -1
	c.knownTx.ForEach(func(p *payload.Payload, _ bool) {
		if found < 0 && p.Hash() == tx.Hash() {
			found = idx
		}
		idx++
	})
	return found, found >= 0
}

// decompress reverses compress, resolving known-tx references against
// this compressor's current dictionary.
func (c *Compressor) decompress(data []byte) (Block, error) {
	r := bytes.NewReader(data)
	headerLen, err := readUint32(r)
	if err != nil {
		return Block{}, fmt.Errorf("compressor: read header length: %w", err)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Block{}, fmt.Errorf("compressor: read header: %w", err)
	}
	txCount, err := readUint32(r)
	if err != nil {
		return Block{}, fmt.Errorf("compressor: read tx count: %w", err)
	}

	txs := make([]*payload.Payload, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		marker := make([]byte, 1)
		if _, err := io.ReadFull(r, marker); err != nil {
			return Block{}, fmt.Errorf("compressor: read marker: %w", err)
		}
		if marker[0] == knownMarker {
			var idx int
			if c.variant.UseFlagsAndSmallerMax {
				v, err := readUint16(r)
				if err != nil {
					return Block{}, fmt.Errorf("compressor: read short index: %w", err)
				}
				idx = int(v)
			} else {
				v, err := readUint32(r)
				if err != nil {
					return Block{}, fmt.Errorf("compressor: read index: %w", err)
				}
				idx = int(v)
			}
			tx, ok := c.knownTx.At(idx)
			if !ok {
				return Block{}, fmt.Errorf("compressor: unknown dictionary index %d", idx)
			}
			txs = append(txs, tx)
			continue
		}
		length, err := readUint32(r)
		if err != nil {
			return Block{}, fmt.Errorf("compressor: read inline tx length: %w", err)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return Block{}, fmt.Errorf("compressor: read inline tx: %w", err)
		}
		txs = append(txs, payload.New(body))
	}
	return Block{Header: header, Txs: txs}, nil
}

// MaybeCompressBlock validates b (when checkMerkle is set, a minimal
// sanity gate, full merkle verification is the out-of-scope bitcoin
// codec's job, per spec.md §1) and compresses it for this version's
// peers. An empty reject string means b was accepted.
func (c *Compressor) MaybeCompressBlock(hash [hashutil.Size]byte, b Block, checkMerkle bool) ([]byte, string) {
	if checkMerkle {
		if len(b.Txs) == 0 {
			return nil, "empty block"
		}
		var zero [hashutil.Size]byte
		for _, tx := range b.Txs {
			if tx == nil || tx.Hash() == zero {
				return nil, "insane transaction in block"
			}
		}
	}
	b.Hash = hash
	return c.compress(b), ""
}

// RecompressBlock re-emits a block already decompressed from an untrusted
// relay peer, for this version's peers (spec.md §4.3 "recompress_block").
// No merkle check: the block was already accepted once. It never signals
// a rejection: the result is always the compressed bytes, even when it is
// recompressRejectLimit bytes or fewer.
func (c *Compressor) RecompressBlock(b Block) []byte {
	return c.compress(b)
}

// Decompress exposes decompress for callers (the relay connection's
// BLOCK handler) that receive an already-compressed block from an
// untrusted peer and must reconstruct it before recompressing for other
// versions.
func (c *Compressor) Decompress(data []byte) (Block, error) {
	return c.decompress(data)
}

// GetRelayTransaction produces a per-version transaction announcement, or
// ok=false if tx is already known to this version's peers (spec.md §4.3
// "get_relay_transaction"). A newly admitted transaction is recorded in
// the dictionary so a later block referencing it compresses to an index.
func (c *Compressor) GetRelayTransaction(tx *payload.Payload) ([]byte, bool) {
	if c.knownTx.Contains(tx) {
		return nil, false
	}
	c.knownTx.Add(tx, false)
	return txWireForm(tx), true
}

// txHandshakeForm is the legacy, pre-negotiation transaction encoding
// replayed to a peer immediately after handshake (spec.md §4.3
// "relay_node_connected"): the raw transaction bytes with no wire
// envelope, matching tx_to_msg(tx, false, false) in the original.
func txHandshakeForm(tx *payload.Payload) []byte {
	return tx.Bytes()
}

// txWireForm is the standard framed TRANSACTION message.
func txWireForm(tx *payload.Payload) []byte {
	var buf bytes.Buffer
	_ = wire.WriteFrame(&buf, wire.TypeTransaction, tx.Bytes())
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

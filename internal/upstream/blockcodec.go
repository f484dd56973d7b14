package upstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/hashutil"
	"relaynet.dev/relayd/internal/payload"
)

// DecodeBlock reconstructs a compressor.Block from a "block" Message's
// payload. The trusted P2P source's actual wire format is explicitly out
// of scope (spec.md §1): relayd only needs a hash, a header, and an
// ordered list of whole transactions out of it, so this decoder expects
// that much and nothing more, hash(32) || header_len(4) || header ||
// tx_count(4) || (tx_len(4) || tx_bytes)*tx_count, every transaction
// written out in full (the upstream source never uses relayd's own
// known-tx indexing, which only exists for the downstream relay
// protocol).
func DecodeBlock(data []byte) (compressor.Block, error) {
	r := bytes.NewReader(data)

	var hash [hashutil.Size]byte
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return compressor.Block{}, fmt.Errorf("upstream: read block hash: %w", err)
	}
	headerLen, err := readU32(r)
	if err != nil {
		return compressor.Block{}, fmt.Errorf("upstream: read header length: %w", err)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return compressor.Block{}, fmt.Errorf("upstream: read header: %w", err)
	}
	txCount, err := readU32(r)
	if err != nil {
		return compressor.Block{}, fmt.Errorf("upstream: read tx count: %w", err)
	}

	txs := make([]*payload.Payload, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		txLen, err := readU32(r)
		if err != nil {
			return compressor.Block{}, fmt.Errorf("upstream: read tx length: %w", err)
		}
		body := make([]byte, txLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return compressor.Block{}, fmt.Errorf("upstream: read tx: %w", err)
		}
		txs = append(txs, payload.New(body))
	}
	return compressor.Block{Hash: hash, Header: header, Txs: txs}, nil
}

// EncodeBlock is DecodeBlock's inverse, used by tests and by any future
// local upstream simulator.
func EncodeBlock(b compressor.Block) []byte {
	var buf bytes.Buffer
	buf.Write(b.Hash[:])
	writeU32(&buf, uint32(len(b.Header)))
	buf.Write(b.Header)
	writeU32(&buf, uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		writeU32(&buf, uint32(tx.Len()))
		buf.Write(tx.Bytes())
	}
	return buf.Bytes()
}

// DecodeHeaders splits a "headers" Message's payload into the block
// hashes it announces (SPEC_FULL.md §C.2 "header-sync suppression"): a
// flat concatenation of 32-byte hashes, one per announced header.
func DecodeHeaders(data []byte) ([][hashutil.Size]byte, error) {
	if len(data)%hashutil.Size != 0 {
		return nil, fmt.Errorf("upstream: headers payload not a multiple of %d bytes", hashutil.Size)
	}
	out := make([][hashutil.Size]byte, 0, len(data)/hashutil.Size)
	for i := 0; i < len(data); i += hashutil.Size {
		var h [hashutil.Size]byte
		copy(h[:], data[i:i+hashutil.Size])
		out = append(out, h)
	}
	return out, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

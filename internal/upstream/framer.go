// Package upstream implements the two outbound connections relayd
// maintains to its trusted data sources (spec.md §1 "Out of scope": the
// actual bitcoin P2P wire codec is a black box here; relayd only needs a
// command name and an opaque payload per message) and §6 "External
// interfaces": a persistent P2P source connection carrying blocks and
// transactions, and a mempool hint channel carrying bare transaction
// hashes. Grounded on otus's Source lifecycle (Start(ctx)/Stop()) and
// OutboundPersistentConnection in the original server.cpp.
package upstream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is one decoded frame from the trusted P2P source: a command
// name and its opaque payload. relayd never parses the payload itself;
// that is the out-of-scope bitcoin codec's job (spec.md §1). It only
// switches on Command to decide whether to hand the bytes to the block
// or transaction ingestion path.
type Message struct {
	Command string
	Payload []byte
}

// Framer reads and writes P2P-source messages on an underlying stream.
// The concrete implementation below is a minimal generic framing (magic +
// fixed command name + length + payload), deliberately not a bitcoin
// P2P codec: relayd's scope stops at getting bytes off the wire.
type Framer interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
}

const (
	frameMagic      = uint32(0x0B11B002)
	commandNameSize = 12
	maxMessageSize  = 32 << 20
)

// StreamFramer implements Framer over any io.ReadWriter.
type StreamFramer struct {
	rw io.ReadWriter
}

// NewStreamFramer wraps rw.
func NewStreamFramer(rw io.ReadWriter) *StreamFramer {
	return &StreamFramer{rw: rw}
}

// ReadMessage reads one frame: magic(4) || command(12, NUL-padded) ||
// length(4) || payload.
func (f *StreamFramer) ReadMessage() (Message, error) {
	var hdr [4 + commandNameSize + 4]byte
	if _, err := io.ReadFull(f.rw, hdr[:]); err != nil {
		return Message{}, fmt.Errorf("upstream: read header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != frameMagic {
		return Message{}, fmt.Errorf("upstream: bad magic %x", magic)
	}
	command := trimNUL(hdr[4 : 4+commandNameSize])
	length := binary.BigEndian.Uint32(hdr[4+commandNameSize:])
	if length > maxMessageSize {
		return Message{}, fmt.Errorf("upstream: message too large (%d bytes)", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(f.rw, payload); err != nil {
			return Message{}, fmt.Errorf("upstream: read payload: %w", err)
		}
	}
	return Message{Command: command, Payload: payload}, nil
}

// WriteMessage writes m in the same framing ReadMessage expects.
func (f *StreamFramer) WriteMessage(m Message) error {
	if len(m.Command) > commandNameSize {
		return fmt.Errorf("upstream: command %q longer than %d bytes", m.Command, commandNameSize)
	}
	var hdr [4 + commandNameSize + 4]byte
	binary.BigEndian.PutUint32(hdr[0:4], frameMagic)
	copy(hdr[4:4+commandNameSize], m.Command)
	binary.BigEndian.PutUint32(hdr[4+commandNameSize:], uint32(len(m.Payload)))
	if _, err := f.rw.Write(hdr[:]); err != nil {
		return fmt.Errorf("upstream: write header: %w", err)
	}
	if len(m.Payload) == 0 {
		return nil
	}
	if _, err := f.rw.Write(m.Payload); err != nil {
		return fmt.Errorf("upstream: write payload: %w", err)
	}
	return nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

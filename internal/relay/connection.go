package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/wire"
)

// Callbacks is the orchestrator-shaped seam a RelayConnection drives its
// handlers through (spec.md §4.4/§4.5). Defining the interface here,
// rather than importing the orchestrator package, keeps relay free of a
// dependency the orchestrator itself needs on relay's Peer type.
type Callbacks interface {
	// Connected is invoked once, under the peer's freshly acquired send
	// token, right after the VERSION/MAX_VERSION reply has gone out and
	// the peer has flipped LIVE (spec.md §4.4, SPEC_FULL.md §C.7 ordering).
	// write issues further bytes under that same token.
	Connected(p *Peer, write func([]byte) error) error

	// ProvideBlock hands a decompressed block (received from this peer)
	// to the orchestrator's single do_relay choke point (spec.md §4.5,
	// SPEC_FULL.md §C.1), returning the first negotiated version's
	// compressed size (0 if the block was not relayed). No queue timestamp
	// is returned.
	ProvideBlock(p *Peer, block compressor.Block) (firstVersionBytes int)

	// ProvideTransaction hands a raw transaction payload received from
	// this peer to the orchestrator for dictionary admission and fan-out.
	ProvideTransaction(p *Peer, tx []byte)
}

// Compressors maps every recognized peer version tag to the shared
// Compressor instance it routes to (compressor.CompressorIndexForTag).
type Compressors map[string]*compressor.Compressor

// Connection drives one accepted peer's read loop and VERSION handshake.
type Connection struct {
	peer        *Peer
	compressors Compressors
	preferred   string
	sponsor     string
	callbacks   Callbacks
	log         *logrus.Entry
}

// NewConnection wraps conn as a NEGOTIATING peer bound to host.
// compressors must have one entry per key of compressor.VersionTable.
func NewConnection(host string, conn net.Conn, compressors Compressors, preferredVersion, sponsor string, callbacks Callbacks, log *logrus.Entry) *Connection {
	return &Connection{
		peer:        NewPeer(host, conn),
		compressors: compressors,
		preferred:   preferredVersion,
		sponsor:     sponsor,
		callbacks:   callbacks,
		log:         log.WithField("peer", host),
	}
}

// NewConnectionFromPeer wraps an already-registered Peer. The registry
// constructs and owns the Peer on Accept (so duplicate-connect and
// whitelist bookkeeping see it immediately); the accept loop then drives
// that same Peer through the handshake and read loop, rather than this
// Connection constructing a second, unregistered one.
func NewConnectionFromPeer(p *Peer, compressors Compressors, preferredVersion, sponsor string, callbacks Callbacks, log *logrus.Entry) *Connection {
	return &Connection{
		peer:        p,
		compressors: compressors,
		preferred:   preferredVersion,
		sponsor:     sponsor,
		callbacks:   callbacks,
		log:         log.WithField("peer", p.Host),
	}
}

// Peer returns the connection's Peer.
func (c *Connection) Peer() *Peer { return c.peer }

// SponsorFrame returns this connection's pre-framed SPONSOR message, ready
// to pass to Peer.ReceiveTransaction's sponsorFrame argument. Empty if no
// sponsor string was configured.
func (c *Connection) SponsorFrame() []byte {
	if c.sponsor == "" {
		return nil
	}
	var buf bytes.Buffer
	_ = wire.WriteFrame(&buf, wire.TypeSponsor, []byte(c.sponsor))
	return buf.Bytes()
}

// Run reads frames until ctx is done, the peer disconnects, or a handler
// returns an error (in which case the connection is torn down).
func (c *Connection) Run(ctx context.Context) {
	defer c.peer.BeginDisconnect()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := wire.ReadFrame(c.peer.conn)
		if err != nil {
			c.log.WithError(err).Debug("relay: connection closed")
			return
		}

		if err := c.dispatch(frame); err != nil {
			c.log.WithError(err).Warn("relay: disconnecting peer")
			return
		}
	}
}

func (c *Connection) dispatch(f wire.Frame) error {
	switch f.Type {
	case wire.TypeVersion:
		return c.handleVersion(string(f.Payload))
	case wire.TypeMaxVersion:
		return c.handleMaxVersion(string(f.Payload))
	case wire.TypeSponsor, wire.TypePong:
		return nil // accepted, ignored (spec.md §4.4)
	case wire.TypeBlock:
		return c.handleBlock(f.Payload)
	case wire.TypeTransaction:
		c.callbacks.ProvideTransaction(c.peer, f.Payload)
		return nil
	default:
		c.log.WithField("type", f.Type).Debug("relay: unhandled frame type")
		return nil
	}
}

// handleVersion implements the VERSION handler per SPEC_FULL.md §C.7:
// optional MAX_VERSION advisory, then VERSION echo, then phase flip, then
// the connected callback, all under one send token so nothing else can
// interleave on the wire ahead of the replay.
func (c *Connection) handleVersion(tag string) error {
	comp, ok := c.compressors[tag]
	if !ok {
		return c.rejectUnknownVersion(tag)
	}

	tok := c.peer.AcquireSend()
	defer tok.Release()

	if tag != c.preferred {
		if err := writeFrame(tok, wire.TypeMaxVersion, []byte(c.preferred)); err != nil {
			return err
		}
	}
	if err := writeFrame(tok, wire.TypeVersion, []byte(tag)); err != nil {
		return err
	}

	c.peer.bindVersion(tag, comp, sendsSponsorFor(tag))

	return c.callbacks.Connected(c.peer, tok.Write)
}

// handleMaxVersion logs a peer-advertised MAX_VERSION and treats it as
// fatal misuse only if the peer echoed back our own preferred tag
// (spec.md §4.4 "MAX_VERSION").
func (c *Connection) handleMaxVersion(tag string) error {
	c.log.WithField("tag", tag).Warn("relay: peer sent MAX_VERSION")
	if tag == c.preferred {
		return fmt.Errorf("relay: peer echoed our preferred version %q as MAX_VERSION", tag)
	}
	return nil
}

// rejectUnknownVersion disconnects with a MAX_VERSION advisory carrying
// this server's preferred tag (spec.md §4.4 "An unknown version...").
func (c *Connection) rejectUnknownVersion(tag string) error {
	tok := c.peer.AcquireSend()
	_ = writeFrame(tok, wire.TypeMaxVersion, []byte(c.preferred))
	tok.Release()
	return fmt.Errorf("relay: unrecognized version %q", tag)
}

func (c *Connection) handleBlock(payload []byte) error {
	comp := c.peer.Compressor()
	if comp == nil {
		return fmt.Errorf("relay: BLOCK received before VERSION handshake")
	}
	block, err := comp.Decompress(payload)
	if err != nil {
		return fmt.Errorf("relay: decompress block: %w", err)
	}
	c.callbacks.ProvideBlock(c.peer, block)
	return nil
}

func writeFrame(tok SendToken, t wire.Type, payload []byte) error {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, t, payload); err != nil {
		return err
	}
	return tok.Write(buf.Bytes())
}

func sendsSponsorFor(tag string) bool {
	return compressor.VersionTable[tag].SendsSponsor
}

// Package relay implements the per-peer connection state machine, the
// peer registry, and the fan-out/accept/cull loop (spec.md §4.4
// "RelayConnection state machine" and §4.5 "PeerRegistry and
// Orchestrator"). Grounded on RelayNetworkClient and the clientMap/cull
// thread in the original server.cpp.
package relay

import (
	"bytes"
	"net"
	"sync"

	"github.com/tevino/abool"
	uberatomic "go.uber.org/atomic"

	"relaynet.dev/relayd/internal/compressor"
)

// Phase is a peer's position in the connection state machine (spec.md
// §4.4): NEGOTIATING (0) -> LIVE (2), terminal DISCONNECTING.
type Phase int32

const (
	PhaseNegotiating   Phase = 0
	PhaseLive          Phase = 2
	PhaseDisconnecting Phase = 3
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiating:
		return "NEGOTIATING"
	case PhaseLive:
		return "LIVE"
	case PhaseDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Peer is one connected downstream relay client.
type Peer struct {
	Host string

	conn net.Conn

	phase uberatomic.Int32

	sendMu sync.Mutex
	// txSentSinceLive gates the sponsor piggyback (spec.md §4.4
	// receive_transaction): the sponsor is only opportunistically sent on
	// the first transaction after the peer went LIVE.
	txSentSinceLive uberatomic.Int64

	version      string
	compressor   *compressor.Compressor
	sendsSponsor bool // looked up from compressor.VersionTable[version] at handshake time, never from the shared Compressor (spec.md §4.3, CompressorIndexForTag)

	disconnecting  *abool.AtomicBool
	disconnectDone *abool.AtomicBool
}

// NewPeer wraps conn as a NEGOTIATING peer.
func NewPeer(host string, conn net.Conn) *Peer {
	return &Peer{
		Host:           host,
		conn:           conn,
		disconnecting:  abool.New(),
		disconnectDone: abool.New(),
	}
}

// Phase returns the peer's current connection phase.
func (p *Peer) Phase() Phase { return Phase(p.phase.Load()) }

func (p *Peer) setPhase(ph Phase) { p.phase.Store(int32(ph)) }

// Version returns the negotiated protocol version tag, or "" if the peer
// has not completed VERSION negotiation.
func (p *Peer) Version() string { return p.version }

// Compressor returns the shared compressor instance bound to this peer's
// negotiated version (spec.md §4.3, compressor.CompressorIndexForTag), or
// nil before negotiation completes.
func (p *Peer) Compressor() *compressor.Compressor { return p.compressor }

// bindVersion completes VERSION negotiation: it records the negotiated
// tag, the shared Compressor it routes to, and this tag's own
// SendsSponsor bit (which can differ from a sibling tag sharing the same
// Compressor), then flips the peer LIVE.
func (p *Peer) bindVersion(tag string, comp *compressor.Compressor, sendsSponsor bool) {
	p.version = tag
	p.compressor = comp
	p.sendsSponsor = sendsSponsor
	p.setPhase(PhaseLive)
}

// Disconnecting reports whether disconnect has been initiated for this
// peer; fan-out traversals must skip such peers (spec.md §5
// "Cancellation/timeout").
func (p *Peer) Disconnecting() bool { return p.disconnecting.IsSet() }

// DisconnectComplete reports whether the peer's connection has finished
// tearing down, gating lazy culling (spec.md §5).
func (p *Peer) DisconnectComplete() bool { return p.disconnectDone.IsSet() }

// BeginDisconnect marks the peer DISCONNECTING and closes its connection.
// Safe to call more than once.
func (p *Peer) BeginDisconnect() {
	if !p.disconnecting.SetToIf(false, true) {
		return
	}
	p.setPhase(PhaseDisconnecting)
	_ = p.conn.Close()
	p.disconnectDone.Set()
}

// SendToken is the opaque handle returned by acquiring a peer's outbound
// lock (spec.md §9 "Send token"), proving to subsequent writes that the
// caller holds it. Every write to a peer's stream goes through one.
type SendToken struct {
	peer *Peer
}

// AcquireSend blocks until the peer's outbound lock is free, then returns
// a token good for any number of writes until Release.
func (p *Peer) AcquireSend() SendToken {
	p.sendMu.Lock()
	return SendToken{peer: p}
}

// Release gives up the outbound lock acquired by AcquireSend.
func (t SendToken) Release() {
	t.peer.sendMu.Unlock()
}

// Write sends b on the peer's stream. The caller must hold the token for
// the duration of this call (and any related calls that must be ordered
// with it).
func (t SendToken) Write(b []byte) error {
	_, err := t.peer.conn.Write(b)
	return err
}

// ReceiveTransaction forwards a pre-framed transaction message to the
// peer if it is LIVE (spec.md §4.4 "receive_transaction"). first marks
// the first send of a fan-out batch: on that send, if this peer's
// negotiated version opted into the sponsor and this is the first
// transaction ever forwarded to the peer, the sponsor string is
// opportunistically appended under the same token (spec.md §4.3 sponsor
// gate, SPEC_FULL.md §D "not sent at connect time").
func (p *Peer) ReceiveTransaction(framedTx []byte, first bool, sponsorFrame []byte) error {
	if p.Phase() != PhaseLive {
		return nil
	}
	tok := p.AcquireSend()
	defer tok.Release()

	if err := tok.Write(framedTx); err != nil {
		return err
	}
	sentBefore := p.txSentSinceLive.Load()
	p.txSentSinceLive.Inc()

	if first && sentBefore == 0 && p.sendsSponsor && len(sponsorFrame) > 0 {
		return tok.Write(sponsorFrame)
	}
	return nil
}

// ReceiveBlock writes a compressed block followed by an END_BLOCK frame
// atomically under one send token (spec.md §4.4 "receive_block").
func (p *Peer) ReceiveBlock(blockFrame, endBlockFrame []byte) error {
	if p.Phase() != PhaseLive {
		return nil
	}
	tok := p.AcquireSend()
	defer tok.Release()

	var buf bytes.Buffer
	buf.Write(blockFrame)
	buf.Write(endBlockFrame)
	return tok.Write(buf.Bytes())
}

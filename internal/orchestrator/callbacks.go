package orchestrator

import (
	"time"

	"relaynet.dev/relayd/internal/hashutil"
	"relaynet.dev/relayd/internal/relay"
	"relaynet.dev/relayd/internal/upstream"
)

// Connected implements relay.Callbacks: once a peer flips LIVE, replay
// every transaction its negotiated version's compressor already knows
// about, in learned order, under the same send token the VERSION reply
// went out on (spec.md §4.3 "relay_node_connected", SPEC_FULL.md §C.7).
// The sponsor string is deliberately not sent here, SPEC_FULL.md §D
// resolves the original's ambiguity in favor of sending it opportunistically
// on the peer's first relayed transaction instead (Peer.ReceiveTransaction).
func (o *Orchestrator) Connected(p *relay.Peer, write func([]byte) error) error {
	comp := p.Compressor()
	if comp == nil {
		return nil
	}
	return comp.RelayNodeConnected(write)
}

const upstreamBlockCommand = "block"
const upstreamTxCommand = "tx"
const upstreamHeadersCommand = "headers"

// handleUpstreamMessage dispatches a decoded message from the trusted P2P
// source by command name (spec.md §6 "External interfaces").
func (o *Orchestrator) handleUpstreamMessage(msg upstream.Message) {
	readStart := time.Now()
	switch msg.Command {
	case upstreamBlockCommand:
		block, err := upstream.DecodeBlock(msg.Payload)
		if err != nil {
			o.log.WithError(err).Warn("orchestrator: malformed upstream block")
			return
		}
		o.ingestUpstreamBlock(block, readStart)
	case upstreamTxCommand:
		o.admitUpstreamTransaction(msg.Payload)
	case upstreamHeadersCommand:
		o.markHeadersSeen(msg.Payload)
	default:
		o.log.WithField("command", msg.Command).Debug("orchestrator: unhandled upstream message")
	}
}

// markHeadersSeen implements the header-sync suppression supplement
// (SPEC_FULL.md §C.2): a block the server only ever saw a header for is
// recorded as sent, so a full block with that hash arriving later is not
// relayed (ingestBlock checks WasBlockSent).
func (o *Orchestrator) markHeadersSeen(payload []byte) {
	hashes, err := upstream.DecodeHeaders(payload)
	if err != nil {
		o.log.WithError(err).Warn("orchestrator: malformed headers message")
		return
	}
	for _, h := range hashes {
		for _, c := range o.compressors {
			c.MarkHeaderSeen(h)
		}
	}
}

// handleMempoolHash admits hash to the waiting-to-broadcast set and asks
// the upstream source to redeliver the full transaction (spec.md §6
// "Mempool channel": "each triggering a request to the upstream P2P
// channel for the full transaction").
func (o *Orchestrator) handleMempoolHash(hash [hashutil.Size]byte) {
	o.waiting.Admit(hash)
	if err := o.source.Request(upstreamTxCommand, hash[:]); err != nil {
		o.log.WithError(err).Debug("orchestrator: mempool-triggered tx request failed")
	}
}

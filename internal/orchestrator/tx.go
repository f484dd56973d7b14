package orchestrator

import (
	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/metrics"
	"relaynet.dev/relayd/internal/payload"
	"relaynet.dev/relayd/internal/relay"
	"relaynet.dev/relayd/internal/wire"
)

// ProvideTransaction handles a TRANSACTION frame received from a
// downstream relay peer (implements relay.Callbacks). A peer-submitted
// transaction is fanned out to the other LIVE downstream peers with no
// mempool gate; that gate applies only to transactions the trusted
// upstream redelivers on request. The transaction is not forwarded to the
// trusted upstream source.
func (o *Orchestrator) ProvideTransaction(origin *relay.Peer, tx []byte) {
	metrics.TransactionsRelayedTotal.WithLabelValues("peer").Inc()
	o.relayTransaction(origin, payload.New(tx))
}

// admitUpstreamTransaction handles a transaction the trusted upstream
// source redelivers. It is only relayed downstream if its hash was
// previously admitted to the waiting-to-broadcast set by a mempool hint
// (SPEC_FULL.md §C.4): an unsolicited transaction arriving from upstream
// as part of ordinary traffic (not requested) is not fanned out here.
func (o *Orchestrator) admitUpstreamTransaction(tx []byte) {
	p := payload.New(tx)
	if !o.waiting.TakeIfWaiting(p.Hash()) {
		return
	}
	metrics.TransactionsRelayedTotal.WithLabelValues("upstream").Inc()
	o.relayTransaction(nil, p)
}

// relayTransaction runs every version's dictionary admission
// (compressor.GetRelayTransaction) and fans newly admitted announcements
// out to that version's LIVE peers, skipping origin. Each version decides
// independently whether the transaction is new to it, so a transaction
// already known to version 0 can still be freshly announced to version 1.
func (o *Orchestrator) relayTransaction(origin *relay.Peer, tx *payload.Payload) {
	for _, c := range o.compressors {
		frame, ok := c.GetRelayTransaction(tx)
		if !ok {
			continue
		}
		o.fanOutTransaction(origin, c, frame)
	}
}

// fanOutTransaction sends frame to every LIVE peer bound to compressor c,
// except origin. The registry lock is held across the whole loop (spec.md
// §5's lock order), safe because Peer.ReceiveTransaction takes no FAS
// lock.
func (o *Orchestrator) fanOutTransaction(origin *relay.Peer, c *compressor.Compressor, frame []byte) {
	first := true
	o.registry.RunUnderLock(func(peers []*relay.Peer) {
		for _, p := range peers {
			if p == origin || p.Phase() != relay.PhaseLive || p.Disconnecting() {
				continue
			}
			if p.Compressor() != c {
				continue
			}
			if err := p.ReceiveTransaction(frame, first, o.sponsorFrame); err != nil {
				o.log.WithField("host", p.Host).WithError(err).Debug("orchestrator: transaction send failed")
			}
			first = false
		}
	})
}

// buildSponsorFrame pre-frames the configured sponsor string once, ready
// to opportunistically append to the first transaction sent to any peer
// whose negotiated version opted in (spec.md §4.3, Peer.ReceiveTransaction).
func buildSponsorFrame(sponsor string) []byte {
	if sponsor == "" {
		return nil
	}
	f, err := wire.FrameBytes(wire.TypeSponsor, []byte(sponsor))
	if err != nil {
		return nil
	}
	return f
}

package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/hashutil"
	"relaynet.dev/relayd/internal/metrics"
	"relaynet.dev/relayd/internal/relay"
	"relaynet.dev/relayd/internal/wire"
)

// blockSourceTag distinguishes the two places a block can enter the
// system, for the block-ingestion log line (spec.md §6).
type blockSourceTag string

const (
	sourcePeer     blockSourceTag = "peer"
	sourceUpstream blockSourceTag = "upstream"
)

// ProvideBlock hands a block freshly decompressed from an untrusted relay
// peer to ingestBlock, the single do_relay choke point (SPEC_FULL.md §C.1)
// that blocks decoded off the trusted upstream source also pass through.
// It implements relay.Callbacks.
//
// Only compressor.VersionOrder[0] performs the sanity check a block must
// pass before being relayed at all. If it rejects the block, no later
// version is even consulted for recompression (SPEC_FULL.md §C.3): the
// original reports "(0 bytes, rejected=true)" straight from index 0's
// verdict rather than trying every version.
func (o *Orchestrator) ProvideBlock(origin *relay.Peer, block compressor.Block) int {
	return o.ingestBlock(origin, block, sourcePeer, time.Now())
}

// ingestUpstreamBlock is the trusted-source entry point, sharing the same
// choke point as peer-sourced blocks (SPEC_FULL.md §C.1 "single choke
// point, not two parallel relay paths").
func (o *Orchestrator) ingestUpstreamBlock(block compressor.Block, readStart time.Time) {
	o.ingestBlock(nil, block, sourceUpstream, readStart)
}

func (o *Orchestrator) ingestBlock(origin *relay.Peer, block compressor.Block, source blockSourceTag, readStart time.Time) int {
	hash := hashutil.DoubleSHA256(block.Header)
	processStart := time.Now()

	first := o.compressors[0]
	if first.WasBlockSent(hash) {
		return 0
	}

	compressed, reject := first.MaybeCompressBlock(hash, block, true)
	if reject != "" {
		metrics.BlocksRejectedTotal.WithLabelValues(reject).Inc()
		o.log.WithFields(logrus.Fields{
			"hash":   hashHex(hash),
			"reason": reject,
			"source": source,
		}).Warn("orchestrator: rejected block")
		return 0
	}
	first.BlockSent(hash)
	o.fanOutBlock(origin, 0, compressed)
	firstVersionBytes := len(compressed)

	for i := 1; i < len(o.compressors); i++ {
		c := o.compressors[i]
		recompressed := c.RecompressBlock(block)
		c.BlockSent(hash)
		o.fanOutBlock(origin, i, recompressed)
	}

	metrics.BlocksRelayedTotal.WithLabelValues(string(source)).Inc()
	metrics.CompressedBlockBytes.Observe(float64(firstVersionBytes))
	o.logBlockIngested(hash, origin, source, firstVersionBytes, block, readStart, processStart)
	return firstVersionBytes
}

// fanOutBlock sends version index idx's already-compressed block to every
// LIVE peer negotiated on that version, except origin (nil when the block
// came from upstream, so nothing is excluded). This is the one place the
// registry-lock -> FAS-lock -> send-token order (spec.md §5) is exercised
// for blocks: the registry lock is held across every peer send in the
// loop, which is safe because Peer.ReceiveBlock never touches a FAS lock.
func (o *Orchestrator) fanOutBlock(origin *relay.Peer, idx int, compressed []byte) {
	target := o.compressors[idx]

	blockFrame, err := wire.FrameBytes(wire.TypeBlock, compressed)
	if err != nil {
		o.log.WithError(err).Error("orchestrator: frame block")
		return
	}
	endFrame, err := wire.FrameBytes(wire.TypeEndBlock, nil)
	if err != nil {
		o.log.WithError(err).Error("orchestrator: frame end-block")
		return
	}

	o.registry.RunUnderLock(func(peers []*relay.Peer) {
		for _, p := range peers {
			if p == origin || p.Phase() != relay.PhaseLive || p.Disconnecting() {
				continue
			}
			if p.Compressor() != target {
				continue
			}
			if err := p.ReceiveBlock(blockFrame, endFrame); err != nil {
				o.log.WithField("host", p.Host).WithError(err).Debug("orchestrator: block send failed")
			}
		}
	})
}

func (o *Orchestrator) logBlockIngested(hash [hashutil.Size]byte, origin *relay.Peer, source blockSourceTag, firstVersionBytes int, block compressor.Block, readStart, processStart time.Time) {
	host := "upstream"
	if origin != nil {
		host = origin.Host
	}
	blockBytes := len(block.Header)
	for _, tx := range block.Txs {
		blockBytes += len(tx.Bytes())
	}

	now := time.Now()
	o.log.WithFields(logrus.Fields{
		"epoch_ms":    readStart.UnixMilli(),
		"host":        host,
		"source":      source,
		"first_bytes": firstVersionBytes,
		"block_bytes": blockBytes,
		"read_ms":     processStart.Sub(readStart).Milliseconds(),
		"process_ms":  now.Sub(processStart).Milliseconds(),
	}).Infof("%s BLOCK", hashHex(hash))
}

func hashHex(hash [hashutil.Size]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(hash)*2)
	for i, b := range hash {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// Package metrics implements Prometheus metrics for the relay: FAS
// occupancy, dedup hits, peer counts, and block/transaction throughput.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FASSize tracks the current flagged-array-set size per compressor
	// version (spec.md §3 "size").
	FASSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayd_fas_size",
			Help: "Current number of entries in a compressor's flagged array set",
		},
		[]string{"version"},
	)

	// FASFlagCount tracks the current flagged-count per compressor
	// version (spec.md §3 "num_flagged").
	FASFlagCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayd_fas_flagged_total",
			Help: "Current number of flagged entries in a compressor's flagged array set",
		},
		[]string{"version"},
	)

	// DedupCount counts how many FAS entries the process-wide Deduper's
	// sweeps rewrote to share one payload buffer.
	DedupCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayd_dedup_hits_total",
			Help: "Total number of duplicate hashes suppressed by the Deduper",
		},
	)

	// PeerCount tracks registered peer counts under two phase labels:
	// "live" and "negotiating_or_disconnecting".
	PeerCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayd_peers",
			Help: "Current number of peer connections by phase",
		},
		[]string{"phase"},
	)

	// BlocksRelayedTotal counts blocks that passed the index-0 sanity
	// check and were fanned out, by source (peer/upstream).
	BlocksRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_blocks_relayed_total",
			Help: "Total number of blocks relayed",
		},
		[]string{"source"},
	)

	// BlocksRejectedTotal counts blocks rejected at the index-0 sanity
	// check (spec.md §C.1/§C.3).
	BlocksRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_blocks_rejected_total",
			Help: "Total number of blocks rejected by the first negotiated version's sanity check",
		},
		[]string{"reason"},
	)

	// TransactionsRelayedTotal counts transactions fanned out, by source
	// (peer-submitted vs. mempool-admitted upstream redelivery).
	TransactionsRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_transactions_relayed_total",
			Help: "Total number of transactions relayed",
		},
		[]string{"source"},
	)

	// CompressedBlockBytes observes the first negotiated version's
	// compressed size per relayed block (spec.md §6 log line).
	CompressedBlockBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayd_compressed_block_bytes",
			Help:    "Compressed size in bytes of the first negotiated version of relayed blocks",
			Buckets: prometheus.ExponentialBuckets(64, 2, 16),
		},
	)
)

// Package compressor implements the per-protocol-version block and
// transaction compression pipeline backed by a FlaggedArraySet dictionary
// (spec.md §4.3 "Compressor"). It is grounded on RelayNodeCompressor /
// RelayNetworkCompressor in the original server.cpp: the compressor_types
// map of version tag to (use_flags_and_smaller_max,
// freeze_indexes_during_block), relay_node_connected's replay loop, and
// the known-transaction / block-history bookkeeping.
package compressor

import (
	"fmt"

	"relaynet.dev/relayd/internal/fas"
	"relaynet.dev/relayd/internal/hashutil"
	"relaynet.dev/relayd/internal/payload"
)

// maxKnownTx and maxBlockHistory bound the dictionary and suppression
// history FAS instances. The original ties these to peer-negotiated
// limits; relayd fixes them, which is conservative (never worse than the
// bounds a real peer would negotiate).
const (
	maxKnownTx      = 50000
	maxBlockHistory = 4096
)

// Variant is the (use_flags_and_smaller_max, freeze_indexes_during_block)
// pair spec.md §4.3 parameterizes a compressor by, plus the table's
// per-tag SendsSponsor column.
type Variant struct {
	UseFlagsAndSmallerMax  bool
	FreezeIndexesDuringBlock bool
	SendsSponsor           bool
}

// VersionTable is spec.md §4.3's table of recognized peer version tags.
var VersionTable = map[string]Variant{
	"what i should have done": {UseFlagsAndSmallerMax: false, FreezeIndexesDuringBlock: true, SendsSponsor: true},
	"spammy memeater":         {UseFlagsAndSmallerMax: false, FreezeIndexesDuringBlock: false, SendsSponsor: true},
	"the blocksize":           {UseFlagsAndSmallerMax: true, FreezeIndexesDuringBlock: false, SendsSponsor: false},
	"sponsor printer":         {UseFlagsAndSmallerMax: true, FreezeIndexesDuringBlock: false, SendsSponsor: true},
}

// VersionOrder fixes the index each version occupies for fan-out (spec.md
// §4.5 "for each protocol version (in index order 0,1,2)"). Index 0 is the
// server's preferred tag: MAX_VERSION advisories quote it.
var VersionOrder = []string{
	"what i should have done",
	"spammy memeater",
	"the blocksize",
}

// PreferredVersion is this server's own tag, echoed in MAX_VERSION
// advisories (spec.md §4.4 "MAX_VERSION").
const PreferredVersion = "what i should have done"

// CompressorIndexForTag returns the VersionOrder index of the shared
// Compressor a recognized peer tag routes to. Several tags can disagree
// only on SendsSponsor while sharing one (use_flags_and_smaller_max,
// freeze_indexes_during_block) pair, spec.md §4.3's table has "the
// blocksize" and "sponsor printer" share theirs, so the orchestrator
// constructs exactly len(VersionOrder) Compressor instances and routes
// every recognized tag to one of them by this index; SendsSponsor is
// then looked up per negotiated tag from VersionTable directly, never
// from the shared Compressor.
func CompressorIndexForTag(tag string) (int, bool) {
	v, ok := VersionTable[tag]
	if !ok {
		return 0, false
	}
	for i, canon := range VersionOrder {
		cv := VersionTable[canon]
		if cv.UseFlagsAndSmallerMax == v.UseFlagsAndSmallerMax && cv.FreezeIndexesDuringBlock == v.FreezeIndexesDuringBlock {
			return i, true
		}
	}
	return 0, false
}

// Compressor holds one protocol version's compression dictionary and
// suppression history. Safe for concurrent use: all mutable state lives
// in the two FlaggedArraySet instances, each independently locked.
//
// A Compressor has no notion of SendsSponsor: that flag can differ
// between two tags that otherwise share a Compressor (see
// CompressorIndexForTag), so it is tracked per negotiated peer instead.
type Compressor struct {
	version string
	variant Variant

	knownTx      *fas.FlaggedArraySet
	blockHistory *fas.FlaggedArraySet
}

// New constructs a compressor for the named version tag's
// (use_flags_and_smaller_max, freeze_indexes_during_block) pair. version
// must be a key of VersionTable; callers should pass one tag per distinct
// pair (VersionOrder) rather than one Compressor per recognized tag.
func New(version string) (*Compressor, error) {
	variant, ok := VersionTable[version]
	if !ok {
		return nil, fmt.Errorf("compressor: unknown version %q", version)
	}
	c := &Compressor{
		version:      version,
		variant:      variant,
		knownTx:      fas.New(maxKnownTx, false),
		blockHistory: fas.New(maxBlockHistory, false),
	}
	return c, nil
}

// Close releases the compressor's dictionaries from the Deduper.
func (c *Compressor) Close() {
	c.knownTx.Close()
	c.blockHistory.Close()
}

// Version returns this Compressor's own constructing tag. Note that other
// tags sharing its (use_flags_and_smaller_max,
// freeze_indexes_during_block) pair route here too (CompressorIndexForTag)
// and are not reflected by this value.
func (c *Compressor) Version() string { return c.version }

// WasTxSent reports whether a transaction with this hash is already in
// the known-transaction dictionary.
func (c *Compressor) WasTxSent(hash [hashutil.Size]byte) bool {
	return c.knownTx.ContainsHash(hash)
}

// BlockSent records hash in the block announcement history, used both
// for full block relay and, per the header-sync supplement (SPEC_FULL.md
// §C.2), for headers-only notifications so a block the server only saw
// headers for is not re-announced later.
func (c *Compressor) BlockSent(hash [hashutil.Size]byte) {
	c.blockHistory.Add(payload.New(hash[:]), false)
}

// MarkHeaderSeen records hash as already announced without a full block
// ever being relayed (SPEC_FULL.md §C.2 "header-sync suppression"): the
// original calls this for every header in a trusted `headers` message so
// a block the server only saw headers for is not re-announced later. It
// shares BlockSent's history, since both answer the same question, "has
// this version's peers already heard about this block".
func (c *Compressor) MarkHeaderSeen(hash [hashutil.Size]byte) {
	c.BlockSent(hash)
}

// BlocksSent reports how many distinct block hashes are in the
// announcement history.
func (c *Compressor) BlocksSent() int {
	return c.blockHistory.Size()
}

// WasBlockSent reports whether hash is already in the block announcement
// history, whether from a relayed block or a suppressed header
// (MarkHeaderSeen).
func (c *Compressor) WasBlockSent(hash [hashutil.Size]byte) bool {
	return c.blockHistory.ContainsHash(hash)
}

// Size reports the current size of the known-transaction dictionary
// (spec.md §3 "size"), for the FAS size gauge (SPEC_FULL.md §B.2).
func (c *Compressor) Size() int {
	return c.knownTx.Size()
}

// NumFlagged reports the current flagged-entry count of the
// known-transaction dictionary (spec.md §3 "num_flagged").
func (c *Compressor) NumFlagged() int {
	return c.knownTx.FlaggedCount()
}

// RelayNodeConnected replays every transaction this compressor has
// learned, in the order learned, to a newly LIVE peer (spec.md §4.3
// "relay_node_connected"). send is called once per form per transaction,
// in order: the handshake-specific form, then the standard wire form; the
// caller is responsible for invoking this under the peer's send token so
// ordering with concurrent outbound traffic is preserved.
func (c *Compressor) RelayNodeConnected(send func(frame []byte) error) error {
	var sendErr error
	c.knownTx.ForEach(func(p *payload.Payload, _ bool) {
		if sendErr != nil {
			return
		}
		if err := send(txHandshakeForm(p)); err != nil {
			sendErr = err
			return
		}
		if err := send(txWireForm(p)); err != nil {
			sendErr = err
		}
	})
	return sendErr
}

// Package orchestrator wires the trusted upstream source, the mempool
// hint channel, the peer registry, and the per-version compressors
// together (spec.md §4.5 "PeerRegistry and Orchestrator"). It is grounded
// on main()'s do_relay/relayBlock/relayTx/connected closures in the
// original server.cpp.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/dedup"
	"relaynet.dev/relayd/internal/metrics"
	"relaynet.dev/relayd/internal/relay"
	"relaynet.dev/relayd/internal/upstream"
)

// Config is spec.md §6's fixed positional CLI, already parsed, plus the
// one ambient knob the orchestrator itself needs: how often the
// waiting-to-broadcast set is swept (SPEC_FULL.md §A.2, RELAYD_SWEEP_INTERVAL).
type Config struct {
	ListenAddr  string
	TrustedHost string
	TrustedPort string
	MempoolPort string
	Sponsor     string
	Whitelist   []string

	SweepInterval time.Duration
}

// Orchestrator is the relay server's top-level object.
type Orchestrator struct {
	cfg Config
	log *logrus.Entry

	compressors   []*compressor.Compressor
	tagCompressor map[string]*compressor.Compressor

	registry     *relay.Registry
	source       *upstream.Source
	mempool      *upstream.MempoolClient
	waiting      *waitSet
	sponsorFrame []byte

	wg conc.WaitGroup
}

// New constructs an Orchestrator. It builds exactly len(compressor.VersionOrder)
// Compressor instances and maps every recognized tag in
// compressor.VersionTable onto one of them (compressor.CompressorIndexForTag),
// per spec.md §4.3.
func New(cfg Config, log *logrus.Entry) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:           cfg,
		log:           log.WithField("component", "orchestrator"),
		compressors:   make([]*compressor.Compressor, len(compressor.VersionOrder)),
		tagCompressor: make(map[string]*compressor.Compressor),
		waiting:       newWaitSet(),
		sponsorFrame:  buildSponsorFrame(cfg.Sponsor),
	}

	for i, tag := range compressor.VersionOrder {
		c, err := compressor.New(tag)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build compressor %q: %w", tag, err)
		}
		o.compressors[i] = c
	}
	for tag := range compressor.VersionTable {
		idx, ok := compressor.CompressorIndexForTag(tag)
		if !ok {
			return nil, fmt.Errorf("orchestrator: tag %q has no compressor index", tag)
		}
		o.tagCompressor[tag] = o.compressors[idx]
	}

	o.registry = relay.NewRegistry(cfg.Whitelist, log)

	o.source = upstream.NewSource(o.dialTrusted, o.handleUpstreamMessage, log)
	o.mempool = upstream.NewMempoolClient(o.dialMempool, o.handleMempoolHash, log)

	return o, nil
}

func (o *Orchestrator) dialTrusted(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(o.cfg.TrustedHost, o.cfg.TrustedPort))
}

func (o *Orchestrator) dialMempool(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(o.cfg.TrustedHost, o.cfg.MempoolPort))
}

// Run starts every background loop and blocks until ctx is done, then
// tears everything down and returns. Background loops retry on their own
// and never surface an error here; the only error this returns is a
// failure to bind the downstream listener (spec.md §6 "Exit code -1 on
// ... socket bind/listen failure").
func (o *Orchestrator) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", o.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("orchestrator: listen on %s: %w", o.cfg.ListenAddr, err)
	}

	o.wg.Go(func() { o.source.Run(ctx) })
	o.wg.Go(func() { o.mempool.Run(ctx) })
	o.wg.Go(func() { o.acceptLoop(ctx, listener) })
	o.wg.Go(func() { o.registry.Run(ctx, o.onCullTick) })
	o.wg.Go(func() { o.waitSweepLoop(ctx) })

	<-ctx.Done()
	_ = listener.Close()
	o.wg.Wait()

	for _, c := range o.compressors {
		c.Close()
	}
	return nil
}

// Shutdown stops the process-wide Deduper, joined through the same
// background-loop discipline as everything else (SPEC_FULL.md §D
// "Deduper teardown").
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return dedup.Get().Stop(ctx)
}

// onCullTick fires on the registry's 10-second cull tick and emits the
// mempool keep-alive on the same cadence, per spec.md §4.5. It also samples
// peer and FAS gauges on this cadence rather than on every mutation
// (SPEC_FULL.md §B.2), since the cull tick is already the registry's own
// heartbeat.
func (o *Orchestrator) onCullTick() {
	if err := o.mempool.Keepalive(); err != nil {
		o.log.WithError(err).Debug("orchestrator: mempool keep-alive failed")
	}
	o.sampleGauges()
}

func (o *Orchestrator) sampleGauges() {
	live := 0
	o.registry.ForEachLive(func(*relay.Peer) { live++ })
	total := o.registry.Count()

	metrics.PeerCount.WithLabelValues("live").Set(float64(live))
	metrics.PeerCount.WithLabelValues("negotiating_or_disconnecting").Set(float64(total - live))

	for i, tag := range compressor.VersionOrder {
		c := o.compressors[i]
		metrics.FASSize.WithLabelValues(tag).Set(float64(c.Size()))
		metrics.FASFlagCount.WithLabelValues(tag).Set(float64(c.NumFlagged()))
	}
}

const defaultWaitSweepInterval = 30 * time.Second

func (o *Orchestrator) waitSweepLoop(ctx context.Context) {
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultWaitSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.waiting.sweep()
		}
	}
}

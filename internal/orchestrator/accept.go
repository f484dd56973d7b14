package orchestrator

import (
	"context"
	"net"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/relay"
)

// acceptLoop accepts downstream relay peer connections until ctx is done
// or the listener is closed (spec.md §6 "Downstream listener"). Each
// accepted connection is registered (whitelist/duplicate-connect checks,
// SPEC_FULL.md §C.5), then driven by its own Connection goroutine.
func (o *Orchestrator) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.WithError(err).Warn("orchestrator: accept failed")
			continue
		}
		go o.handleAccepted(ctx, conn)
	}
}

func (o *Orchestrator) handleAccepted(ctx context.Context, conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	peer, err := o.registry.Accept(host, conn)
	if err != nil {
		o.log.WithField("host", host).WithError(err).Debug("orchestrator: connection rejected")
		_ = conn.Close()
		return
	}

	relayCompressors := relay.Compressors(o.tagCompressor)
	rc := relay.NewConnectionFromPeer(peer, relayCompressors, compressor.PreferredVersion, o.cfg.Sponsor, o, o.log)
	rc.Run(ctx)
}

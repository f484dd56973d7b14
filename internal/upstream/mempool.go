package upstream

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"relaynet.dev/relayd/internal/hashutil"
)

// mempoolKeepaliveByte is the single byte spec.md §6's "Mempool channel"
// sends to hold the connection open. Its cadence is not owned by this
// client: spec.md §4.5 ties it to the registry's 10-second cull tick
// ("emits the mempool keep-alive ping on the same tick"), so Keepalive is
// called by whatever drives that tick rather than by an internal ticker
// here.
const mempoolKeepaliveByte = 0x42

// MempoolClient is the persistent outbound connection that delivers a
// stream of bare transaction hashes requested for broadcast (spec.md §6
// "Mempool channel"). Each hash is handed to onHash, which the
// orchestrator uses to admit the hash to the waiting-to-broadcast set and
// request the full transaction from the P2P source.
type MempoolClient struct {
	dial   func(ctx context.Context) (net.Conn, error)
	onHash func([hashutil.Size]byte)
	log    *logrus.Entry

	// reconnectDelay is the pause between failed dials; tests shrink it.
	reconnectDelay time.Duration

	conn chan net.Conn // current live connection, nil when disconnected
}

// NewMempoolClient constructs a client that dials via dial and reports
// each received hash to onHash.
func NewMempoolClient(dial func(ctx context.Context) (net.Conn, error), onHash func([hashutil.Size]byte), log *logrus.Entry) *MempoolClient {
	return &MempoolClient{
		dial:           dial,
		onHash:         onHash,
		log:            log.WithField("component", "mempool"),
		reconnectDelay: reconnectBackoff,
		conn:           make(chan net.Conn, 1),
	}
}

// Run dials and redials until ctx is done, reading 32-byte hashes. A dial
// error triggers a redial after a short backoff; a read error closes the
// connection and redials at once. Neither makes Run return.
func (m *MempoolClient) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := m.dial(ctx)
		if err != nil {
			m.log.WithError(err).Warn("upstream: mempool dial failed, retrying")
			if !sleepCtx(ctx, m.reconnectDelay) {
				return
			}
			continue
		}
		m.publishConn(conn)
		m.readLoop(conn)
		m.publishConn(nil)
		_ = conn.Close()
	}
}

func (m *MempoolClient) readLoop(conn net.Conn) {
	var buf [hashutil.Size]byte
	for {
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			m.log.WithError(err).Debug("upstream: mempool connection closed")
			return
		}
		m.onHash(buf)
	}
}

func (m *MempoolClient) publishConn(c net.Conn) {
	select {
	case <-m.conn:
	default:
	}
	m.conn <- c
}

// Keepalive writes the single 0x42 byte on the current connection, or is
// a no-op if currently disconnected. Callers drive this on the registry's
// 10-second cull tick (spec.md §4.5), not on an internal timer.
func (m *MempoolClient) Keepalive() error {
	c := <-m.conn
	m.conn <- c
	if c == nil {
		return nil
	}
	_, err := c.Write([]byte{mempoolKeepaliveByte})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package upstream

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// reconnectBackoff is the pause after a failed dial on the trusted P2P
// source connection; a connection that closes is redialed at once. It is
// also MempoolClient's default reconnectDelay. The original ties this to the OS
// socket-retry default; relayd fixes a conservative constant instead.
const reconnectBackoff = time.Second

// Source is the persistent outbound connection to the trusted P2P node
// that delivers blocks and transactions (spec.md §6, data-flow diagram
// "upstream trusted source -> Orchestrator"). It never parses message
// payloads itself, see Framer's doc comment, it only hands decoded
// Messages to OnMessage and offers Request for the orchestrator's
// mempool-triggered "please resend this transaction" path.
type Source struct {
	dial      func(ctx context.Context) (net.Conn, error)
	onMessage func(Message)
	log       *logrus.Entry

	framer chan *StreamFramer // current live framer, for Request; nil when disconnected
}

// NewSource constructs a Source that dials via dial and reports each
// decoded message to onMessage.
func NewSource(dial func(ctx context.Context) (net.Conn, error), onMessage func(Message), log *logrus.Entry) *Source {
	return &Source{
		dial:      dial,
		onMessage: onMessage,
		log:       log.WithField("component", "upstream-source"),
		framer:    make(chan *StreamFramer, 1),
	}
}

// Run dials and redials the trusted source until ctx is done.
func (s *Source) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dial(ctx)
		if err != nil {
			s.log.WithError(err).Warn("upstream: source dial failed, retrying")
			if !sleepCtx(ctx, reconnectBackoff) {
				return
			}
			continue
		}
		s.serve(ctx, conn)
		_ = conn.Close()
	}
}

func (s *Source) serve(ctx context.Context, conn net.Conn) {
	f := NewStreamFramer(conn)
	s.publishFramer(f)
	defer s.publishFramer(nil)

	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := f.ReadMessage()
		if err != nil {
			s.log.WithError(err).Debug("upstream: source connection closed")
			return
		}
		s.onMessage(msg)
	}
}

func (s *Source) publishFramer(f *StreamFramer) {
	select {
	case <-s.framer:
	default:
	}
	s.framer <- f
}

// Request asks the trusted source to (re)send the transaction named by
// hash, as triggered by the mempool hint channel (spec.md §6 "each
// triggering a request to the upstream P2P channel for the full
// transaction"). It is a no-op if the source is currently disconnected.
func (s *Source) Request(command string, hash []byte) error {
	f := <-s.framer
	s.framer <- f
	if f == nil {
		return nil
	}
	return f.WriteMessage(Message{Command: command, Payload: hash})
}

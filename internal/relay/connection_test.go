package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaynet.dev/relayd/internal/compressor"
	"relaynet.dev/relayd/internal/wire"
)

type fakeCallbacks struct {
	connectedCalls int
	connectedErr   error
}

func (f *fakeCallbacks) Connected(p *Peer, write func([]byte) error) error {
	f.connectedCalls++
	if f.connectedErr != nil {
		return f.connectedErr
	}
	return write(nil)
}

func (f *fakeCallbacks) ProvideBlock(p *Peer, b compressor.Block) int { return 0 }

func (f *fakeCallbacks) ProvideTransaction(p *Peer, tx []byte) {}

func allCompressors(t *testing.T) Compressors {
	t.Helper()
	out := make(Compressors)
	for _, tag := range compressor.VersionOrder {
		c, err := compressor.New(tag)
		require.NoError(t, err)
		t.Cleanup(c.Close)
		out[tag] = c
	}
	// "sponsor printer" shares "the blocksize"'s Compressor instance.
	out["sponsor printer"] = out["the blocksize"]
	return out
}

func TestHandleVersionKnownTagFlipsPeerLive(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.1", serverConn, allCompressors(t), compressor.PreferredVersion, "thanks for relaying", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte("the blocksize")))

	advisory, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeMaxVersion, advisory.Type)
	require.Equal(t, []byte(compressor.PreferredVersion), advisory.Payload)

	reply, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeVersion, reply.Type)
	require.Equal(t, []byte("the blocksize"), reply.Payload)

	require.Eventually(t, func() bool {
		return conn.Peer().Phase() == PhaseLive
	}, time.Second, time.Millisecond)

	require.Equal(t, "the blocksize", conn.Peer().Version())
	require.Equal(t, 1, cb.connectedCalls)
}

func TestHandleVersionPreferredTagSkipsMaxVersionAdvisory(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.2", serverConn, allCompressors(t), compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte(compressor.PreferredVersion)))

	reply, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeVersion, reply.Type, "no MAX_VERSION advisory when the peer already named our preferred tag")
}

func TestHandleVersionUnknownTagSendsMaxVersionThenDisconnects(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.3", serverConn, allCompressors(t), compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte("not a real tag")))

	reply, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeMaxVersion, reply.Type)
	require.Equal(t, []byte(compressor.PreferredVersion), reply.Payload)

	require.Eventually(t, func() bool {
		return conn.Peer().Disconnecting()
	}, time.Second, time.Millisecond)
	require.Equal(t, 0, cb.connectedCalls)
}

func TestHandleMaxVersionSelfEchoIsFatal(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.4", serverConn, allCompressors(t), compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeMaxVersion, []byte(compressor.PreferredVersion)))

	require.Eventually(t, func() bool {
		return conn.Peer().Disconnecting()
	}, time.Second, time.Millisecond)
}

func TestHandleMaxVersionOtherTagIsNotFatal(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.5", serverConn, allCompressors(t), compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeMaxVersion, []byte("spammy memeater")))
	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte("spammy memeater")))

	advisory, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeMaxVersion, advisory.Type)

	reply, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeVersion, reply.Type, "the connection must survive the MAX_VERSION and still negotiate")
}

func TestSponsorTagResolvedPerPeerNotPerCompressor(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	compressors := allCompressors(t)
	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.6", serverConn, compressors, compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte("sponsor printer")))
	// MAX_VERSION advisory, then the VERSION echo.
	_, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	_, err = wire.ReadFrame(clientConn)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return conn.Peer().Phase() == PhaseLive }, time.Second, time.Millisecond)

	require.True(t, conn.Peer().sendsSponsor)
	require.Same(t, compressors["the blocksize"], conn.Peer().Compressor(), "sponsor printer shares the blocksize's Compressor instance")
}

func TestIgnoredMessageTypesDoNotDisconnect(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cb := &fakeCallbacks{}
	conn := NewConnection("192.0.2.7", serverConn, allCompressors(t), compressor.PreferredVersion, "", cb, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeSponsor, []byte("hello")))
	require.NoError(t, wire.WriteFrame(clientConn, wire.TypePong, nil))
	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeVersion, []byte(compressor.PreferredVersion)))

	reply, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeVersion, reply.Type)
}

package relay

import (
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestAcceptRejectsUptimeRobotHost(t *testing.T) {
	r := NewRegistry(nil, testLog())
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	_, err := r.Accept("watchdog.uptimerobot.com", c1)
	require.Error(t, err)
	require.Equal(t, 0, r.Count())
}

func TestAcceptSuppressesDuplicateConnectFromSameHost(t *testing.T) {
	r := NewRegistry(nil, testLog())
	a1, a2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()
	b1, b2 := net.Pipe()
	defer b1.Close()
	defer b2.Close()

	_, err := r.Accept("203.0.113.5", a1)
	require.NoError(t, err)

	_, err = r.Accept("203.0.113.5", b1)
	require.Error(t, err)
	require.Equal(t, 1, r.Count())
}

// addrConn overrides RemoteAddr: every net.Pipe end reports the same
// placeholder address, so two pipes would share one host:port key.
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

func TestAcceptKeysWhitelistedHostByHostPort(t *testing.T) {
	r := NewRegistry([]string{"203.0.113."}, testLog())
	a1, a2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()
	b1, b2 := net.Pipe()
	defer b1.Close()
	defer b2.Close()

	_, err := r.Accept("203.0.113.5", addrConn{a1, &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40001}})
	require.NoError(t, err)

	// A second connection from the same whitelisted host must coexist
	// rather than being suppressed as a duplicate.
	_, err = r.Accept("203.0.113.5", addrConn{b1, &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40002}})
	require.NoError(t, err)
	require.Equal(t, 2, r.Count())
}

func TestCullOnceRemovesCompletedDisconnects(t *testing.T) {
	r := NewRegistry(nil, testLog())
	c1, c2 := net.Pipe()
	defer c2.Close()

	p, err := r.Accept("198.51.100.1", c1)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count())

	p.BeginDisconnect()
	r.cullOnce()
	require.Equal(t, 0, r.Count())
}

func TestForEachLiveSkipsNegotiatingAndDisconnecting(t *testing.T) {
	r := NewRegistry(nil, testLog())

	a1, a2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()
	live, err := r.Accept("198.51.100.2", a1)
	require.NoError(t, err)
	live.setPhase(PhaseLive)

	b1, b2 := net.Pipe()
	defer b1.Close()
	defer b2.Close()
	negotiating, err := r.Accept("198.51.100.3", b1)
	require.NoError(t, err)
	_ = negotiating

	c1, c2 := net.Pipe()
	defer c2.Close()
	disconnecting, err := r.Accept("198.51.100.4", c1)
	require.NoError(t, err)
	disconnecting.setPhase(PhaseLive)
	disconnecting.BeginDisconnect()

	var visited []string
	r.ForEachLive(func(p *Peer) { visited = append(visited, p.Host) })

	require.Equal(t, []string{"198.51.100.2"}, visited)
}

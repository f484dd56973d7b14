package relay

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// duplicateConnectLogThrottle bounds how often a repeat connection attempt
// from the same host is logged (spec.md §4.5, SPEC_FULL.md §C.5).
const duplicateConnectLogThrottle = 60 * time.Second

// cullInterval is how often the registry drops completed-disconnect peers
// and, on the same tick, lets the orchestrator emit its mempool keep-alive
// (spec.md §4.5, SPEC_FULL.md §C.6).
const cullInterval = 10 * time.Second

const rejectedHostSuffix = ".uptimerobot.com"

// Registry is the host-keyed table of connected peers (spec.md §4.5
// "PeerRegistry"). Whitelisted hosts are keyed by host:port instead of
// bare host so multiple connections from one whitelisted IP coexist
// (SPEC_FULL.md §C.5).
type Registry struct {
	mu        sync.Mutex
	peers     map[string]*Peer
	lastDupAt map[string]time.Time
	whitelist []string // IP address prefixes, matched against Peer.Host

	log *logrus.Entry
}

// NewRegistry constructs an empty registry. whitelist entries are IP
// prefixes (e.g. "10.0.0.") that key by host:port rather than suppressing
// duplicate connects.
func NewRegistry(whitelist []string, log *logrus.Entry) *Registry {
	return &Registry{
		peers:     make(map[string]*Peer),
		lastDupAt: make(map[string]time.Time),
		whitelist: whitelist,
		log:       log.WithField("component", "registry"),
	}
}

func (r *Registry) isWhitelisted(host string) bool {
	for _, prefix := range r.whitelist {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

// Accept registers a newly dialed-in connection as a NEGOTIATING peer, or
// rejects it per spec.md §4.5: known robot-monitor hosts are refused
// outright, and a second connection from a non-whitelisted host that
// already has an entry (in any phase, until culled) is refused with a
// throttled log line rather than silently dropped.
func (r *Registry) Accept(host string, conn net.Conn) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.HasSuffix(host, rejectedHostSuffix) {
		return nil, errRejectedHost(host)
	}

	whitelisted := r.isWhitelisted(host)
	key := host
	if whitelisted {
		key = host + ":" + remotePort(conn)
	}

	if existing, ok := r.peers[key]; ok && !whitelisted {
		_ = existing
		last := r.lastDupAt[host]
		if time.Since(last) > duplicateConnectLogThrottle {
			r.log.WithField("host", host).Warn("relay: duplicate connect attempt")
			r.lastDupAt[host] = time.Now()
		}
		return nil, errDuplicateConnect(host)
	}

	p := NewPeer(host, conn)
	r.peers[key] = p
	return p, nil
}

// Remove drops the peer registered under key immediately, without waiting
// for the cull tick.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, key)
}

// ForEachLive invokes fn for every peer that is LIVE and not already
// tearing down, without holding the registry lock across fn. Suitable for
// callers with no lock-order requirement (metrics, diagnostics).
func (r *Registry) ForEachLive(fn func(p *Peer)) {
	r.mu.Lock()
	snapshot := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	for _, p := range snapshot {
		if p.Phase() == PhaseLive && !p.Disconnecting() {
			fn(p)
		}
	}
}

// RunUnderLock holds the registry lock for the duration of fn, which
// receives every registered peer (live or not, fn must itself filter).
// This is the single critical section spec.md §5's lock order names
// ("registry-lock -> compressor-set FAS locks -> peer send-token"): the
// per-version block/transaction fan-out choke point holds the registry
// lock across the whole loop, including the peer sends it makes, which is
// safe because peer sends never themselves acquire a FAS lock.
func (r *Registry) RunUnderLock(fn func(peers []*Peer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	fn(peers)
}

// Count returns the number of registered peers, live or negotiating.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) cullOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.peers {
		if p.DisconnectComplete() {
			delete(r.peers, k)
		}
	}
}

// Run drives the cull tick until ctx is done. onTick, if non-nil, fires
// on the same 10-second cadence after culling, the orchestrator wires
// its mempool keep-alive ping there (SPEC_FULL.md §C.6).
func (r *Registry) Run(ctx context.Context, onTick func()) {
	ticker := time.NewTicker(cullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cullOnce()
			if onTick != nil {
				onTick()
			}
		}
	}
}

func remotePort(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	s := addr.String()
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

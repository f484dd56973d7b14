package orchestrator

import (
	"sync"
	"time"

	"relaynet.dev/relayd/internal/hashutil"
)

// waitingToBroadcastTTL bounds how long an admitted hash stays eligible:
// the set is short-lived (spec.md §4.5), not a durable mempool mirror.
const waitingToBroadcastTTL = 2 * time.Minute

// waitSet is the "waiting to broadcast" set spec.md §4.5/§5 describes:
// transaction hashes admitted by the mempool hint channel, consulted when
// the upstream source later redelivers the full transaction. spec.md §5
// requires it be guarded by its own lock, held alone, and never nested
// under the registry lock or a FAS lock. It is therefore a plain
// mutex-guarded map, not a FlaggedArraySet: there is no pack dependency
// for a short-lived TTL set, and a bare map with lazy expiry is the
// idiomatic minimum for this shape.
type waitSet struct {
	mu      sync.Mutex
	entries map[[hashutil.Size]byte]time.Time
}

func newWaitSet() *waitSet {
	return &waitSet{entries: make(map[[hashutil.Size]byte]time.Time)}
}

// Admit records hash as eligible for broadcast once the upstream source
// redelivers it.
func (s *waitSet) Admit(hash [hashutil.Size]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hash] = time.Now()
}

// TakeIfWaiting reports whether hash was admitted and has not yet expired,
// consuming the entry either way (spec.md §4.5: each admitted hash gates
// exactly one redelivered transaction).
func (s *waitSet) TakeIfWaiting(hash [hashutil.Size]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	admittedAt, ok := s.entries[hash]
	delete(s.entries, hash)
	if !ok {
		return false
	}
	return time.Since(admittedAt) <= waitingToBroadcastTTL
}

// sweep drops expired entries that were admitted but never redelivered.
func (s *waitSet) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for h, at := range s.entries {
		if now.Sub(at) > waitingToBroadcastTTL {
			delete(s.entries, h)
		}
	}
}

// Package dedup implements the process-wide background sweeper that
// coalesces identical payloads held by different FlaggedArraySet instances
// into a single shared reference (spec.md §4.2 "Deduper"). It is grounded
// on the Deduper class and add_to_fas/process in flaggedarrayset.cpp,
// reworked around a try-lock sweep instead of a shared global mutex.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"relaynet.dev/relayd/internal/metrics"
	"relaynet.dev/relayd/internal/payload"
)

// DefaultInterval is the production sweep period.
const DefaultInterval = 5 * time.Second

// Handle is the view of a FlaggedArraySet the Deduper needs: try-lock
// access, a waiter count to yield early on, and hooks to snapshot and
// rewrite its entries. *fas.FlaggedArraySet implements this.
type Handle interface {
	TryLock() bool
	Unlock()
	WaitCount() int64
	AllowsDuplicates() bool
	SweepSnapshot(yield func(p *payload.Payload) bool)
	SweepRewrite(byAddr map[*payload.Payload]*payload.Payload) int
}

// Deduper periodically scans every registered Handle for payloads that are
// byte-identical across sets and rewrites the duplicates to point at a
// single canonical Payload, so the duplicate becomes eligible for garbage
// collection once the map drops it.
type Deduper struct {
	interval time.Duration
	log      *logrus.Entry

	mu   sync.Mutex
	sets map[Handle]struct{}

	wg       conc.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

var (
	instance     *Deduper
	instanceOnce sync.Once
)

// Get returns the process-wide Deduper, starting its sweep loop on first
// use.
func Get() *Deduper {
	instanceOnce.Do(func() {
		instance = New(DefaultInterval)
		instance.Start()
	})
	return instance
}

// New creates a Deduper with the given sweep interval. Tests use a short
// interval directly instead of the process-wide singleton.
func New(interval time.Duration) *Deduper {
	return &Deduper{
		interval: interval,
		log:      logrus.WithField("component", "dedup"),
		sets:     make(map[Handle]struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds h to the sweep set. Safe to call before or after Start.
func (d *Deduper) Register(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets[h] = struct{}{}
}

// Unregister removes h from the sweep set.
func (d *Deduper) Unregister(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sets, h)
}

// Start launches the background sweep loop.
func (d *Deduper) Start() {
	d.wg.Go(d.loop)
}

// Stop signals the sweep loop to exit and waits for it to finish, or
// returns ctx.Err() if ctx is done first. This closes the "destructor is
// stubbed" gap spec.md §9 calls out: the Deduper now has an explicit
// graceful-shutdown signal instead of running forever.
func (d *Deduper) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.done) })
	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Deduper) loop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			n := d.SweepOnce()
			if n > 0 {
				metrics.DedupCount.Add(float64(n))
				d.log.WithField("rewritten", n).Debug("deduplicated payloads across sets")
			}
		}
	}
}

func (d *Deduper) snapshotSets() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sets) < 2 {
		// Nothing to deduplicate across with fewer than two registered sets.
		return nil
	}
	out := make([]Handle, 0, len(d.sets))
	for h := range d.sets {
		out = append(out, h)
	}
	return out
}

// SweepOnce runs a single dedup pass across all registered sets and
// returns the number of entries rewritten. It is exported so tests and
// callers needing a synchronous sweep (e.g. before shutdown) don't have to
// wait on the ticker.
func (d *Deduper) SweepOnce() int {
	sets := d.snapshotSets()
	if sets == nil {
		return 0
	}

	type seen struct {
		payload *payload.Payload
		hash    [32]byte
	}
	var collected []seen

	for _, h := range sets {
		if h.AllowsDuplicates() {
			continue
		}
		if !h.TryLock() {
			continue
		}
		h.SweepSnapshot(func(p *payload.Payload) bool {
			collected = append(collected, seen{payload: p, hash: p.Hash()})
			return true
		})
		h.Unlock()
	}

	byHash := make(map[[32]byte]*payload.Payload, len(collected))
	dupMap := make(map[*payload.Payload]*payload.Payload)
	for _, c := range collected {
		canonical, ok := byHash[c.hash]
		if !ok {
			byHash[c.hash] = c.payload
			continue
		}
		if canonical != c.payload {
			dupMap[c.payload] = canonical
		}
	}
	if len(dupMap) == 0 {
		return 0
	}

	total := 0
	for _, h := range sets {
		if h.AllowsDuplicates() {
			continue
		}
		if !h.TryLock() {
			continue
		}
		total += h.SweepRewrite(dupMap)
		h.Unlock()
	}
	return total
}

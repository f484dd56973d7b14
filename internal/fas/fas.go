// Package fas implements the FlaggedArraySet: a bounded, ordered,
// content-addressed collection that is simultaneously indexable by
// position and searchable by payload identity, with two removal modes
// (spec.md §4.1 "FlaggedArraySet"). It is grounded on ElemAndFlag/PtrPair
// and the FlaggedArraySet class in the original flaggedarrayset.cpp.
package fas

import (
	"bytes"
	"sort"
	"unsafe"

	"relaynet.dev/relayd/internal/assert"
	"relaynet.dev/relayd/internal/dedup"
	"relaynet.dev/relayd/internal/payload"
)

// entry is one logical member. The same *entry pointer is shared between
// the positional index and the backing map bucket chain, so mutating a
// field through either reference (notably the Deduper's payload swap)
// is visible from both.
type entry struct {
	payload *payload.Payload
	flag    bool
	seq     int
}

type slot struct {
	ent  *entry
	live bool // false only for a content-removed entry awaiting physical erase
}

// FlaggedArraySet is safe for concurrent use.
type FlaggedArraySet struct {
	mu waitMutex

	maxSize   int
	allowDups bool

	index   []slot
	backing map[uint64][]*entry

	offset  int // added to a fresh entry's seq; bumped on a front-half removal
	flagged int // count of live entries with flag set

	toBeRemoved []int // pending remove_by_index positions, not yet compacted
	maxRemove   int   // highest index passed to RemoveByIndex so far

	partiallyRemoved []int // positions marked !live, not yet compacted
}

// New creates a FlaggedArraySet bounded at maxSize entries. If allowDups is
// true, identity degenerates to object identity and no hash is ever
// materialized on insert (spec.md §4.1 "Equality").
func New(maxSize int, allowDups bool) *FlaggedArraySet {
	assert.That(maxSize > 0, "fas.New: maxSize must be positive")
	f := &FlaggedArraySet{
		maxSize:   maxSize,
		allowDups: allowDups,
		backing:   make(map[uint64][]*entry),
	}
	dedup.Get().Register(f)
	return f
}

// Close unregisters the set from the process-wide Deduper. Callers that
// construct a short-lived FlaggedArraySet (tests, or a compressor version
// that is being torn down) must call this or the Deduper will keep trying
// to lock a set nobody uses anymore.
func (f *FlaggedArraySet) Close() {
	dedup.Get().Unregister(f)
}

// --- key/equality helpers -------------------------------------------------

func (f *FlaggedArraySet) bucketKey(k payload.Key) uint64 {
	if f.allowDups {
		if owner, ok := k.Owner(); ok {
			return uint64(uintptr(unsafe.Pointer(owner)))
		}
		assert.That(false, "fas: allowDups set queried with a borrowed key")
	}
	return bucketKeyForBytes(k.Bytes())
}

// equalKeys implements spec.md §4.1 Equality: object identity when the set
// permits duplicates; hash equality when both sides already have a
// materialized hash; full byte comparison otherwise (including whenever
// either side is a borrowed range).
func (f *FlaggedArraySet) equalKeys(a, b payload.Key) bool {
	if f.allowDups {
		ao, aok := a.Owner()
		bo, bok := b.Owner()
		return aok && bok && ao == bo
	}
	if ah, aok := a.PeekHash(); aok {
		if bh, bok := b.PeekHash(); bok {
			return ah == bh
		}
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (f *FlaggedArraySet) find(k payload.Key) *entry {
	bucket := f.backing[f.bucketKey(k)]
	for _, e := range bucket {
		if f.equalKeys(k, payload.Owned(e.payload)) {
			return e
		}
	}
	return nil
}

func (f *FlaggedArraySet) insertBacking(e *entry) {
	key := f.bucketKey(payload.Owned(e.payload))
	f.backing[key] = append(f.backing[key], e)
}

func (f *FlaggedArraySet) deleteFromBacking(e *entry) {
	key := f.bucketKey(payload.Owned(e.payload))
	bucket := f.backing[key]
	for i, c := range bucket {
		if c == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(f.backing, key)
	} else {
		f.backing[key] = bucket
	}
}

// --- size / invariants -----------------------------------------------------

// size returns the live count with the caller already holding mu.
func (f *FlaggedArraySet) size() int {
	return len(f.index) - len(f.toBeRemoved) - len(f.partiallyRemoved)
}

// Size returns the current live entry count.
func (f *FlaggedArraySet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size()
}

func (f *FlaggedArraySet) sanityCheck() {
	assert.That(f.size() >= 0, "fas: negative size")
	assert.That(len(f.index) >= len(f.toBeRemoved)+len(f.partiallyRemoved),
		"fas: pending removal count exceeds backing index")
}

// --- compaction --------------------------------------------------------

// cleanupPartiallyRemoved physically erases content-removed tombstones,
// highest index first so earlier indices stay valid mid-erase.
func (f *FlaggedArraySet) cleanupPartiallyRemoved() {
	if len(f.partiallyRemoved) == 0 {
		return
	}
	sort.Ints(f.partiallyRemoved)
	for i := len(f.partiallyRemoved) - 1; i >= 0; i-- {
		idx := f.partiallyRemoved[i]
		assert.That(!f.index[idx].live, "fas: partially-removed slot unexpectedly live")
		f.index = append(f.index[:idx], f.index[idx+1:]...)
	}
	f.partiallyRemoved = f.partiallyRemoved[:0]
	f.sanityCheck()
}

// cleanupLateRemove physically applies pending remove_by_index calls, in
// the order they were recorded. Each recorded index was computed relative
// to the positions that would remain after all earlier pending removals
// had already been applied, so replaying them in order against the live
// index in a single pass lands each one on the correct physical slot.
func (f *FlaggedArraySet) cleanupLateRemove() {
	if len(f.toBeRemoved) == 0 {
		return
	}
	for _, idx := range f.toBeRemoved {
		f.removeAt(idx, false)
	}
	f.toBeRemoved = f.toBeRemoved[:0]
	// maxRemove is a monotonic high-water mark, not a pending count: it is
	// left as-is so a later call with an index below it still forces
	// compaction even though nothing is pending right now.
	f.sanityCheck()
}

func (f *FlaggedArraySet) cleanupAll() {
	f.cleanupPartiallyRemoved()
	f.cleanupLateRemove()
}

// removeAt physically removes the entry at physical index idx. When
// partial is true the slot is tombstoned (live=false) and left in place
// for a later cleanupPartiallyRemoved pass; otherwise it is spliced out
// immediately. Either way, every live entry on the shorter side of idx has
// its sequence number adjusted so seq stays equal to each live entry's
// position plus offset (spec.md §4.1 "remove from the shorter side").
func (f *FlaggedArraySet) removeAt(idx int, partial bool) {
	assert.That(idx >= 0 && idx < len(f.index), "fas.removeAt: index out of range")
	s := f.index[idx]
	assert.That(s.live, "fas.removeAt: slot not live")

	if s.ent.flag {
		f.flagged--
	}

	n := len(f.index)
	if idx < n-idx {
		for i := 0; i < idx; i++ {
			if f.index[i].live {
				f.index[i].ent.seq++
			}
		}
		f.offset++
	} else {
		for i := idx + 1; i < n; i++ {
			if f.index[i].live {
				f.index[i].ent.seq--
			}
		}
	}

	f.deleteFromBacking(s.ent)

	if partial {
		f.partiallyRemoved = append(f.partiallyRemoved, idx)
		f.index[idx].live = false
	} else {
		f.index = append(f.index[:idx], f.index[idx+1:]...)
	}
}

// --- public operations ---------------------------------------------------

// Add inserts p with flag, unless an equal entry already exists (spec.md
// §4.1 "add"). A duplicate add is a silent no-op; it does not update flag
// on the existing entry. If the insertion takes the set beyond maxSize,
// the oldest entry is evicted (FIFO).
func (f *FlaggedArraySet) Add(p *payload.Payload, flag bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()

	if !f.allowDups {
		p.EnsureHash()
	}
	if f.find(payload.Owned(p)) != nil {
		return
	}

	e := &entry{payload: p, flag: flag, seq: len(f.index) + f.offset}
	f.index = append(f.index, slot{ent: e, live: true})
	f.insertBacking(e)
	if flag {
		f.flagged++
	}

	for f.size() > f.maxSize {
		f.removeAt(0, false)
	}
	f.sanityCheck()
}

// Contains reports whether an entry equal to p is present.
func (f *FlaggedArraySet) Contains(p *payload.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	return f.find(payload.Owned(p)) != nil
}

// ContainsBytes is Contains for a borrowed byte range, avoiding a Payload
// allocation for a negative membership test (spec.md §9).
func (f *FlaggedArraySet) ContainsBytes(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	return f.find(payload.Borrowed(b)) != nil
}

// RemoveByIndex removes the entry at the given logical position (spec.md
// §4.1 "remove_by_index"). A call with index below the highest index seen
// so far forces a compaction first; otherwise the removal is deferred and
// merely marked pending. Returns the removed payload and whether anything
// was found.
func (f *FlaggedArraySet) RemoveByIndex(index int) (*payload.Payload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleanupPartiallyRemoved()
	if index < f.maxRemove {
		f.cleanupLateRemove()
	}

	lookup := index + len(f.toBeRemoved)
	if lookup < 0 || lookup >= len(f.index) {
		return nil, false
	}
	s := f.index[lookup]
	assert.That(s.live, "fas.RemoveByIndex: slot not live")
	p := s.ent.payload

	if index >= f.maxRemove {
		f.toBeRemoved = append(f.toBeRemoved, index)
		f.maxRemove = index
	} else {
		f.cleanupLateRemove()
		f.removeAt(index, false)
	}
	f.sanityCheck()
	return p, true
}

// RemoveByContent finds the entry equal to b and removes it, returning its
// logical position at the time of removal, or -1 if not found (spec.md
// §4.1 "remove_by_content"). Removal here is always the "partially
// removed" tombstone mode: the slot is marked dead in place and spliced
// out lazily, since a content removal's caller has no prior index to
// reconcile against.
func (f *FlaggedArraySet) RemoveByContent(b []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupLateRemove()

	e := f.find(payload.Borrowed(b))
	if e == nil {
		return -1
	}

	res := e.seq - f.offset
	idx := res
	for idx < len(f.index) && !(f.index[idx].live && f.index[idx].ent == e) {
		idx++
	}
	assert.That(idx < len(f.index), "fas.RemoveByContent: entry not found at expected position")

	f.removeAt(idx, true)
	f.sanityCheck()
	return res
}

// Clear empties the set.
func (f *FlaggedArraySet) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = nil
	f.backing = make(map[uint64][]*entry)
	f.offset = 0
	f.flagged = 0
	f.toBeRemoved = nil
	f.maxRemove = 0
	f.partiallyRemoved = nil
}

// ForEach visits every live entry's payload in positional order.
func (f *FlaggedArraySet) ForEach(fn func(p *payload.Payload, flag bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	for _, s := range f.index {
		fn(s.ent.payload, s.ent.flag)
	}
}

// ContainsHash reports whether a live entry has the given materialized
// identity hash. This is a narrower lookup than Contains/ContainsBytes: it
// is for callers (the compressor's was_tx_sent) that track membership by
// hash rather than by raw bytes, mirroring the original's direct use of
// the known-transaction map for hash-keyed "have we already sent this"
// checks in server.cpp.
func (f *FlaggedArraySet) ContainsHash(hash [32]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	for _, s := range f.index {
		if s.ent.payload.Hash() == hash {
			return true
		}
	}
	return false
}

// At returns the payload at the given live positional index without
// removing it, or ok=false if out of range. Grounded on the original's
// direct indexMap[i] reads used to resolve a compact-block short ID back
// to its transaction.
func (f *FlaggedArraySet) At(index int) (*payload.Payload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	if index < 0 || index >= len(f.index) {
		return nil, false
	}
	return f.index[index].ent.payload, true
}

// FlaggedCount reports how many live entries carry flag=true.
func (f *FlaggedArraySet) FlaggedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupAll()
	return f.flagged
}

// --- dedup.Handle implementation ------------------------------------------

// TryLock attempts to acquire the set's lock without blocking, for the
// Deduper's sweep (spec.md §4.2 "Deduper").
func (f *FlaggedArraySet) TryLock() bool { return f.mu.TryLock() }

// Unlock releases the lock acquired by TryLock.
func (f *FlaggedArraySet) Unlock() { f.mu.Unlock() }

// WaitCount reports how many goroutines are trying to acquire the set's
// lock right now, so a long sweep can yield early.
func (f *FlaggedArraySet) WaitCount() int64 { return f.mu.WaitCount() }

// AllowsDuplicates reports whether this set was constructed with
// allowDups=true, in which case the Deduper must skip it entirely: its
// entries have no materialized identity hash to dedupe by.
func (f *FlaggedArraySet) AllowsDuplicates() bool { return f.allowDups }

// SweepSnapshot calls yield once per live entry's payload while the caller
// holds the lock (via TryLock), stopping early if a waiter appears.
// Callers must not mutate the set from within yield.
func (f *FlaggedArraySet) SweepSnapshot(yield func(p *payload.Payload) bool) {
	for _, bucket := range f.backing {
		for _, e := range bucket {
			if f.mu.WaitCount() > 0 {
				return
			}
			if !yield(e.payload) {
				return
			}
		}
	}
}

// SweepRewrite replaces the payload reference of every entry whose current
// payload pointer is a key in byAddr with the mapped canonical payload, in
// place, so every other holder of that *entry observes the swap without a
// lock of its own. It asserts that the two payloads are byte- and
// hash-identical before swapping, per spec.md §9 "requires a mutex hold,
// not a lock-free swap". Returns the number of entries rewritten.
func (f *FlaggedArraySet) SweepRewrite(byAddr map[*payload.Payload]*payload.Payload) int {
	n := 0
	for _, bucket := range f.backing {
		for _, e := range bucket {
			if f.mu.WaitCount() > 0 {
				return n
			}
			canonical, ok := byAddr[e.payload]
			if !ok {
				continue
			}
			assert.That(bytes.Equal(e.payload.Bytes(), canonical.Bytes()),
				"fas: dedup swap target has different bytes")
			assert.That(e.payload.Hash() == canonical.Hash(),
				"fas: dedup swap target has different hash")
			e.payload = canonical
			n++
		}
	}
	return n
}

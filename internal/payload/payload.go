// Package payload implements the relay's reference-counted, content-addressed
// byte buffer (spec.md §3 "Payload") and the Owned/Borrowed lookup-key sum
// type used by the FlaggedArraySet for allocation-free negative membership
// tests (spec.md §9 "Borrowed vs owned lookup keys").
package payload

import (
	"sync"

	uberatomic "go.uber.org/atomic"

	"relaynet.dev/relayd/internal/hashutil"
)

// Payload is an immutable byte sequence shared by many FlaggedArraySet
// instances and in-flight sends. Its identity hash (double-SHA256) is
// computed lazily and cached, matching the ElemAndFlag/PtrPair shape in the
// original flaggedarrayset.cpp.
type Payload struct {
	buf []byte

	mu      sync.Mutex
	hash    [hashutil.Size]byte
	hashSet bool

	refs uberatomic.Int32
}

// New wraps buf in a Payload with an initial reference count of 1. buf is
// taken by reference, not copied; callers must not mutate it afterward.
func New(buf []byte) *Payload {
	p := &Payload{buf: buf}
	p.refs.Store(1)
	return p
}

// Bytes returns the underlying immutable byte slice.
func (p *Payload) Bytes() []byte {
	return p.buf
}

// Len returns len(Bytes()) without a call through the slice header twice.
func (p *Payload) Len() int {
	return len(p.buf)
}

// Hash returns the double-SHA256 identity hash, computing and caching it on
// first use.
func (p *Payload) Hash() [hashutil.Size]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hashSet {
		p.hash = hashutil.DoubleSHA256(p.buf)
		p.hashSet = true
	}
	return p.hash
}

// PeekHash returns the cached hash and whether it has been materialized,
// without computing it. Used by equality checks that must only compare
// hashes when both sides already paid for one (spec.md §4.1 Equality).
func (p *Payload) PeekHash() ([hashutil.Size]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hash, p.hashSet
}

// EnsureHash forces hash materialization; used on insert into a
// duplicate-rejecting FlaggedArraySet (spec.md §4.1 "Hash is computed
// lazily on insert when the set disallows duplicates").
func (p *Payload) EnsureHash() {
	p.Hash()
}

// Retain increments the reference count and returns p for chaining.
func (p *Payload) Retain() *Payload {
	p.refs.Inc()
	return p
}

// Release decrements the reference count and returns the count after the
// decrement. Callers that drive the count to zero are responsible for any
// pooling/cleanup; relayd itself relies on the GC for reclamation and uses
// the count only for diagnostics.
func (p *Payload) Release() int32 {
	return p.refs.Dec()
}

// RefCount reports the current reference count.
func (p *Payload) RefCount() int32 {
	return p.refs.Load()
}

// Key is the sum type of Owned(buffer)/Borrowed(range) lookup keys that the
// FlaggedArraySet accepts, so that a negative membership test against a
// byte range never has to allocate a Payload wrapper.
type Key struct {
	owned    *Payload
	borrowed []byte
}

// Owned wraps an existing Payload as a lookup key.
func Owned(p *Payload) Key { return Key{owned: p} }

// Borrowed wraps a byte range as a lookup key without allocating a Payload.
func Borrowed(b []byte) Key { return Key{borrowed: b} }

// Bytes returns the key's underlying bytes regardless of which variant it is.
func (k Key) Bytes() []byte {
	if k.owned != nil {
		return k.owned.Bytes()
	}
	return k.borrowed
}

// Owner returns the owning Payload and true, or nil/false if this key is a
// borrowed range.
func (k Key) Owner() (*Payload, bool) {
	if k.owned != nil {
		return k.owned, true
	}
	return nil, false
}

// PeekHash returns the materialized hash for an Owned key, or ok=false for
// a Borrowed key (which never carries a materialized hash) or an Owned key
// whose hash has not yet been computed.
func (k Key) PeekHash() ([hashutil.Size]byte, bool) {
	if k.owned == nil {
		return [hashutil.Size]byte{}, false
	}
	return k.owned.PeekHash()
}

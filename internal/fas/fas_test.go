package fas

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaynet.dev/relayd/internal/payload"
)

// mkPayload builds a payload at least long enough to carry the bucket
// hash window (41 bytes), with tag placed past the window so two payloads
// with different tags still collide in the same bucket and must be
// disambiguated by full content comparison.
func mkPayload(tag byte) *payload.Payload {
	buf := make([]byte, 50)
	buf[49] = tag
	return payload.New(buf)
}

func TestAddContainsRemoveByContent(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	p1 := mkPayload(1)
	p2 := mkPayload(2)

	f.Add(p1, false)
	f.Add(p2, true)

	require.True(t, f.Contains(p1))
	require.True(t, f.Contains(p2))
	require.Equal(t, 2, f.Size())
	require.Equal(t, 1, f.FlaggedCount())

	idx := f.RemoveByContent(p1.Bytes())
	require.Equal(t, 0, idx)
	require.False(t, f.Contains(p1))
	require.Equal(t, 1, f.Size())

	require.Equal(t, -1, f.RemoveByContent(p1.Bytes()))
}

func TestAddDuplicateIsNoOp(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	p1 := mkPayload(1)
	dup := mkPayload(1) // byte-identical, distinct object

	f.Add(p1, false)
	f.Add(dup, true) // should be a silent no-op, not update the flag

	require.Equal(t, 1, f.Size())
	require.Equal(t, 0, f.FlaggedCount())
}

func TestFIFOEvictionAtMaxSize(t *testing.T) {
	f := New(2, false)
	defer f.Close()

	p1, p2, p3 := mkPayload(1), mkPayload(2), mkPayload(3)
	f.Add(p1, false)
	f.Add(p2, false)
	f.Add(p3, false)

	require.Equal(t, 2, f.Size())
	require.False(t, f.Contains(p1), "oldest entry should have been evicted")
	require.True(t, f.Contains(p2))
	require.True(t, f.Contains(p3))
}

func TestRemoveByIndexDeferredThenForcedCompaction(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	ps := []*payload.Payload{mkPayload(1), mkPayload(2), mkPayload(3), mkPayload(4)}
	for _, p := range ps {
		f.Add(p, false)
	}

	// Monotonically increasing indices append to the pending list without
	// compacting.
	got0, ok := f.RemoveByIndex(0)
	require.True(t, ok)
	require.True(t, got0 == ps[0])
	require.Equal(t, 4, len(f.index), "pending removal must not shrink the backing index yet")

	// Index 2 here is relative to the view with the pending removal already
	// applied, i.e. [p1,p2,p3], so it targets p3.
	got2, ok := f.RemoveByIndex(2)
	require.True(t, ok)
	require.True(t, got2 == ps[3])

	// An index smaller than the highest one queued forces compaction of everything queued so
	// far, then removes immediately from the now-compacted view [p1,p2].
	got1, ok := f.RemoveByIndex(0)
	require.True(t, ok)
	require.True(t, got1 == ps[1])

	require.Equal(t, 1, f.Size())
	require.True(t, f.Contains(ps[2]))
	require.False(t, f.Contains(ps[0]))
	require.False(t, f.Contains(ps[1]))
	require.False(t, f.Contains(ps[3]))
}

func TestClear(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	f.Add(mkPayload(1), false)
	f.Add(mkPayload(2), true)
	f.Clear()

	require.Equal(t, 0, f.Size())
	require.Equal(t, 0, f.FlaggedCount())
}

func TestAllowDupsIdentityIsObjectIdentity(t *testing.T) {
	f := New(10, true)
	defer f.Close()

	p1 := mkPayload(1)
	dup := mkPayload(1)

	f.Add(p1, false)
	f.Add(dup, false) // distinct object, same bytes: both must be kept

	require.Equal(t, 2, f.Size())
	require.True(t, f.Contains(p1))
	require.True(t, f.Contains(dup))

	f.Add(p1, false) // same object added twice is a no-op
	require.Equal(t, 2, f.Size())
}

func TestContainsBytesAvoidsBorrowedAllocationSemantics(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	p1 := mkPayload(7)
	f.Add(p1, false)

	require.True(t, f.ContainsBytes(p1.Bytes()))
	other := mkPayload(8)
	require.False(t, f.ContainsBytes(other.Bytes()))
}

func TestForEachVisitsInPositionalOrder(t *testing.T) {
	f := New(10, false)
	defer f.Close()

	ps := []*payload.Payload{mkPayload(1), mkPayload(2), mkPayload(3)}
	for _, p := range ps {
		f.Add(p, false)
	}

	var seen []*payload.Payload
	f.ForEach(func(p *payload.Payload, flag bool) {
		seen = append(seen, p)
	})

	require.Equal(t, len(ps), len(seen))
	for i := range ps {
		require.True(t, ps[i] == seen[i])
	}
}

package payload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaynet.dev/relayd/internal/hashutil"
)

func TestHashIsLazyAndCached(t *testing.T) {
	p := New([]byte("hello world"))
	_, ok := p.PeekHash()
	require.False(t, ok, "hash must not be materialized before first use")

	h1 := p.Hash()
	h2, ok := p.PeekHash()
	require.True(t, ok)
	require.Equal(t, h1, h2)

	require.Equal(t, hashutil.DoubleSHA256([]byte("hello world")), h1)
}

func TestEnsureHashMaterializesWithoutReturningIt(t *testing.T) {
	p := New([]byte("data"))
	p.EnsureHash()
	_, ok := p.PeekHash()
	require.True(t, ok)
}

func TestRetainReleaseRefCount(t *testing.T) {
	p := New([]byte("x"))
	require.EqualValues(t, 1, p.RefCount())

	p.Retain()
	require.EqualValues(t, 2, p.RefCount())

	remaining := p.Release()
	require.EqualValues(t, 1, remaining)
	require.EqualValues(t, 1, p.RefCount())
}

func TestOwnedKeyBytesAndOwner(t *testing.T) {
	p := New([]byte("abc"))
	k := Owned(p)

	require.Equal(t, []byte("abc"), k.Bytes())
	owner, ok := k.Owner()
	require.True(t, ok)
	require.Same(t, p, owner)
}

func TestBorrowedKeyBytesAndOwner(t *testing.T) {
	b := []byte("abc")
	k := Borrowed(b)

	require.Equal(t, b, k.Bytes())
	_, ok := k.Owner()
	require.False(t, ok)
}

func TestBorrowedKeyNeverCarriesAMaterializedHash(t *testing.T) {
	k := Borrowed([]byte("abc"))
	_, ok := k.PeekHash()
	require.False(t, ok)
}

func TestOwnedKeyPeekHashReflectsUnderlyingPayload(t *testing.T) {
	p := New([]byte("abc"))
	k := Owned(p)

	_, ok := k.PeekHash()
	require.False(t, ok, "hash not yet materialized on the underlying payload")

	p.EnsureHash()
	h, ok := k.PeekHash()
	require.True(t, ok)
	require.Equal(t, p.Hash(), h)
}

func TestLenMatchesBytes(t *testing.T) {
	p := New([]byte("0123456789"))
	require.Equal(t, 10, p.Len())
	require.Len(t, p.Bytes(), p.Len())
}

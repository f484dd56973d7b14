package fas

import (
	"encoding/binary"
	"hash/fnv"
)

// The backing map's bucket key is not the payload's identity hash: it is a
// cheap structural hash taken from a fixed 8-byte window measured from the
// payload's end, matching std::hash<ElemAndFlag> in flaggedarrayset.cpp:
// the trailing 4 bytes are skipped and the 8 bytes before them are read
// (bytes len-12 up to len-4). The 41-byte minimum is the framed
// transaction layout (a 5-byte command tag, a 32-byte hash and a 4-byte
// length field); hashing the window is cheap and collision-resistant
// enough for bucketing, and real equality is always re-checked afterward.
const (
	minWindowPayload = 5 + 32 + 4 // 41
	windowTrailer    = 4
	windowLen        = 8
)

// windowHash folds the fixed window into a uint64 bucket key. ok is false
// when b is too short to carry the window, matching the original's
// "payloads shorter than 41 bytes are rejected at lookup" behavior.
func windowHash(b []byte) (uint64, bool) {
	if len(b) < minWindowPayload {
		return 0, false
	}
	start := len(b) - windowTrailer - windowLen
	return binary.LittleEndian.Uint64(b[start : start+windowLen]), true
}

// bucketKeyForBytes always returns a usable bucket key, falling back to a
// general-purpose hash for payloads too short to carry the window. The
// fallback only affects which bucket a short payload lands in; equality is
// still decided by the real comparison in equalKeys, so it never produces
// a false positive.
func bucketKeyForBytes(b []byte) uint64 {
	if h, ok := windowHash(b); ok {
		return h
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Package hashutil implements the double-SHA256 identity hash used
// throughout the relay to name blocks and transactions.
package hashutil

import "crypto/sha256"

// Size is the length in bytes of a double-SHA256 hash.
const Size = sha256.Size

// DoubleSHA256 computes SHA-256(SHA-256(b)), the identity hash for a block
// or transaction payload.
func DoubleSHA256(b []byte) [Size]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// Package assert implements programming-invariant checks that abort the
// process when violated, per spec.md §7 ("Programming-invariant violation:
// assertion; process aborts"). It mirrors the pervasive assert() calls in
// the original flaggedarrayset.cpp, which has no equivalent in Go.
package assert

import "fmt"

// That panics with msg if cond is false. It is reserved for invariants the
// caller has already established are programmer errors, never for
// validating untrusted input.
func That(cond bool, msg string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+msg, args...))
	}
}

// Package work implements the 256-bit proof-of-work accounting used by the
// header timechain: per-header "local work" and the running "total work"
// tiebreaker that decides which branch is heaviest. Represented with
// github.com/holiman/uint256 rather than math/big so that addition,
// subtraction, and comparison on the hot AddHeader path stay allocation-free.
package work

import "github.com/holiman/uint256"

// Work is a non-negative 256-bit integer: the expected number of hashes
// needed to produce a header meeting its target.
type Work struct {
	v uint256.Int
}

// Target is a header's compact-decoded proof-of-work target.
type Target struct {
	v uint256.Int
}

// Zero is the additive identity.
func Zero() Work { return Work{} }

// FromUint64 builds a Work from a small integer, handy in tests.
func FromUint64(u uint64) Work {
	var w Work
	w.v.SetUint64(u)
	return w
}

// FromBytes constructs a Work from a 256-bit big-endian byte string.
func FromBytes(b [32]byte) Work {
	var w Work
	w.v.SetBytes32(b[:])
	return w
}

// TargetFromUint64 builds a Target from a small integer, handy in tests.
func TargetFromUint64(u uint64) Target {
	var t Target
	t.v.SetUint64(u)
	return t
}

// TargetFromBytes builds a Target from a 256-bit big-endian byte string.
func TargetFromBytes(b [32]byte) Target {
	var t Target
	t.v.SetBytes32(b[:])
	return t
}

// Add returns w + other.
func (w Work) Add(other Work) Work {
	var out Work
	out.v.Add(&w.v, &other.v)
	return out
}

// Sub returns w - other. Callers are expected to keep results within the
// valid non-negative range; an underflow wraps modulo 2**256 and is
// never saturated.
func (w Work) Sub(other Work) Work {
	var out Work
	out.v.Sub(&w.v, &other.v)
	return out
}

// Cmp returns -1, 0, or 1 as w is less than, equal to, or greater than other.
func (w Work) Cmp(other Work) int {
	return w.v.Cmp(&other.v)
}

// GreaterThan reports whether w > other.
func (w Work) GreaterThan(other Work) bool {
	return w.Cmp(other) > 0
}

// Bytes returns the big-endian 32-byte encoding of w.
func (w Work) Bytes() [32]byte {
	return w.v.Bytes32()
}

// String renders the decimal value, matching uint256.Int's Stringer.
func (w Work) String() string { return w.v.String() }

// Work computes floor(2**256 / (target+1)), the expected number of hashes
// to produce a block meeting this target. Mirrors the Bitcoin Core
// GetBlockProof identity: since 2**256 cannot be represented in 256 bits,
//
//	2**256 / (target+1) == (^target / (target+1)) + 1
//
// using the complement-add-one-divide sequence, with no
// math/big allocation. A zero target (meaningless in practice) reports
// zero work rather than overflowing.
func (t Target) Work() Work {
	if t.v.IsZero() {
		return Zero()
	}
	var denom uint256.Int
	denom.AddUint64(&t.v, 1)

	var complement uint256.Int
	complement.Not(&t.v)

	var quotient uint256.Int
	quotient.Div(&complement, &denom)

	var result Work
	result.v.AddUint64(&quotient, 1)
	return result
}

// Bytes returns the big-endian 32-byte encoding of t.
func (t Target) Bytes() [32]byte {
	return t.v.Bytes32()
}

// String renders the decimal value.
func (t Target) String() string { return t.v.String() }

// Package chainhash defines the opaque 32-byte content-hash type shared by
// every component of the header timechain. The core never computes a hash
// itself; callers (the block/header validator, out of scope here) supply
// one per accepted header.
package chainhash

import (
	"encoding/hex"
	"fmt"
)

// Length is the size in bytes of a Hash.
const Length = 32

// Hash is an opaque, comparable content identifier. Equality and map
// hashing are byte-wise, which Go's array value semantics give for free.
type Hash [Length]byte

// Zero is the reserved hash denoting "no hash" / "parent of genesis".
var Zero = Hash{}

// BytesToHash left-pads b into a Hash, truncating from the front if b is
// longer than Length.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > Length {
		b = b[len(b)-Length:]
	}
	copy(h[Length-len(b):], b)
	return h
}

// HexToHash parses a "0x"-prefixed or bare hex string into a Hash.
func HexToHash(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("chainhash: invalid hex %q: %w", s, err)
	}
	return BytesToHash(b), nil
}

// Bytes returns the byte slice view of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the reserved zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// String renders the hash as "0x"-prefixed hex, matching the rest of the
// pack's Hash types.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

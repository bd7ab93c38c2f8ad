package timechain

import (
	"fmt"

	"github.com/hornetd/timechain/pkg/chainhash"
)

// LocatorKind tags which of Locator's two addressing modes is active.
type LocatorKind int

const (
	LocatorInvalid LocatorKind = iota
	LocatorByHeight
	LocatorByHash
)

// Locator is a stable reference across reorgs. A ByHeight locator's
// identity migrates if that slot's hash changes after a reorg; a ByHash
// locator names a specific node, typically one currently in the forest.
type Locator struct {
	kind   LocatorKind
	height int32
	hash   chainhash.Hash
}

// ByHeight builds a Locator referring to the linear-chain element at h.
func ByHeight(h int32) Locator { return Locator{kind: LocatorByHeight, height: h} }

// ByHash builds a Locator referring to a specific node by content hash.
func ByHash(h chainhash.Hash) Locator { return Locator{kind: LocatorByHash, hash: h} }

// Kind reports which addressing mode l uses.
func (l Locator) Kind() LocatorKind { return l.kind }

// Height is meaningful only when Kind() == LocatorByHeight.
func (l Locator) Height() int32 { return l.height }

// Hash is meaningful only when Kind() == LocatorByHash.
func (l Locator) Hash() chainhash.Hash { return l.hash }

func (l Locator) String() string {
	switch l.kind {
	case LocatorByHeight:
		return fmt.Sprintf("height(%d)", l.height)
	case LocatorByHash:
		return l.hash.String()
	default:
		return "invalid"
	}
}

// Key is a reference independent of reorgs: it resolves iff
// linear[Height].Hash == Hash, or the forest currently holds Hash.
type Key struct {
	Height int32
	Hash   chainhash.Hash
}

// AddSync is the event broadcast to every registered sidecar after one
// accepted header: the locator of its parent, its own hash, and, on
// reorg, the hashes demoted from the linear chain.
type AddSync struct {
	Parent         Locator
	Hash           chainhash.Hash
	MovedFromChain []chainhash.Hash
}

package timechain

import (
	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/chaintree"
	"github.com/hornetd/timechain/pkg/work"
)

// Header is the opaque contract the core needs from a validated block
// header: its own previous-hash link and timestamp, used for ancestry and
// median-time-past. Field layout, serialization, and proof-of-work
// verification belong to the validator, out of scope here.
type Header interface {
	PreviousHash() chainhash.Hash
	Timestamp() int64
}

// HeaderContext is one node's payload in the header timechain: a header
// plus the topology and work metadata the caller has already computed.
// It is self-describing, so it satisfies chaintree.Entry directly.
type HeaderContext struct {
	Header    Header
	Hash      chainhash.Hash
	LocalWork work.Work
	TotalWork work.Work
	Height    int32
}

// EntryHash implements chaintree.Entry.
func (c HeaderContext) EntryHash() chainhash.Hash { return c.Hash }

// EntryHeight implements chaintree.Entry.
func (c HeaderContext) EntryHeight() int32 { return c.Height }

// EntryParentHash implements chaintree.Entry.
func (c HeaderContext) EntryParentHash() chainhash.Hash {
	if c.Header == nil {
		return chainhash.Zero
	}
	return c.Header.PreviousHash()
}

// AddResult reports where a header landed and, if it triggered a reorg,
// which previously-linear hashes were demoted into the forest.
type AddResult struct {
	Iterator       *chaintree.AncestorIterator[HeaderContext]
	MovedFromChain []chainhash.Hash
}

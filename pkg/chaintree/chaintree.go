// Package chaintree implements ChainTree: a hybrid structure over a
// payload type D holding a contiguous "heaviest" linear chain plus a
// HashedForest of every non-canonical branch near the tip. HeaderTimechain
// (pkg/timechain) specialises it over block headers; the Sidecar family
// (also pkg/timechain) specialises it again, once per mirrored payload
// type, to keep an identical topology with independent storage.
package chaintree

import (
	"errors"
	"fmt"
	"math"

	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/forest"
)

// ErrInvalidParent reports a contract violation in Add or PromoteBranch: an
// inconsistent, absent, or out-of-bounds parent reference.
var ErrInvalidParent = errors.New("chaintree: invalid parent")

// Entry is the constraint every payload type D must satisfy: it already
// carries its own topology coordinates. Callers
// pre-compute height, hash, and (for headers) work before calling Add, so
// D never needs the core to derive these.
type Entry interface {
	EntryHash() chainhash.Hash
	EntryHeight() int32
	EntryParentHash() chainhash.Hash
}

// Policy abstracts the metadata propagation PromoteBranch needs when
// moving payloads between the linear chain and the forest.
// Every concrete Entry in this implementation is already
// self-describing (see Entry), so the policies actually wired in
// (pkg/timechain) are identity pass-throughs; the interface is kept
// distinct from a bare copy so a future payload type that does need
// recomputed metadata (e.g. a derived running total) has somewhere to
// hook in without changing PromoteBranch. See DESIGN.md.
type Policy[D Entry] interface {
	// Extend derives the context for a node being pushed from the linear
	// chain into the forest (a demotion), given its new forest parent's
	// context, its own raw payload, and its hash.
	Extend(parentCtx, nextData D, hash chainhash.Hash) D
	// Rewind derives the context one step toward genesis from a forest
	// branch root's context and the raw payload already sitting at that
	// height in the linear chain.
	Rewind(childCtx, prevData D) D
}

// IdentityPolicy implements Policy by returning the supplied payload
// unchanged, correct whenever D is already self-describing.
type IdentityPolicy[D Entry] struct{}

// Extend returns nextData unchanged.
func (IdentityPolicy[D]) Extend(_, nextData D, _ chainhash.Hash) D { return nextData }

// Rewind returns prevData unchanged.
func (IdentityPolicy[D]) Rewind(_, prevData D) D { return prevData }

// nodeData is the forest payload wrapper: a D plus the height of the
// earliest ancestor of this node that is still in the forest.
type nodeData[D Entry] struct {
	context    D
	rootHeight int32
}

func (n nodeData[D]) HashKey() chainhash.Hash { return n.context.EntryHash() }

type forestNode[D Entry] = forest.Node[nodeData[D]]

type iterState int

const (
	stateInvalid iterState = iota
	stateInChain
	stateInForest
)

// AncestorIterator walks from a starting tip toward genesis, migrating
// from the forest into the linear chain once it reaches a forest root.
// It is forward-only and not restartable once invalid.
type AncestorIterator[D Entry] struct {
	tree   *ChainTree[D]
	state  iterState
	height int32
	node   *forestNode[D]
}

// Valid reports whether the iterator currently denotes a node.
func (it *AncestorIterator[D]) Valid() bool { return it.state != stateInvalid }

// InChain reports whether the iterator currently denotes a linear-chain
// position.
func (it *AncestorIterator[D]) InChain() bool { return it.state == stateInChain }

// InForest reports whether the iterator currently denotes a forest node.
func (it *AncestorIterator[D]) InForest() bool { return it.state == stateInForest }

// Height returns the height of the current position. Valid only when
// Valid() is true.
func (it *AncestorIterator[D]) Height() int32 {
	switch it.state {
	case stateInChain:
		return it.height
	case stateInForest:
		return it.node.Payload().context.EntryHeight()
	default:
		return -1
	}
}

// Data returns the payload at the current position.
func (it *AncestorIterator[D]) Data() (D, bool) {
	switch it.state {
	case stateInChain:
		return it.tree.chain[it.height], true
	case stateInForest:
		return it.node.Payload().context, true
	default:
		var zero D
		return zero, false
	}
}

// Next advances the iterator one step toward genesis: following a forest
// parent pointer, migrating from a forest root into the chain at its
// logical parent height, or decrementing the in-chain height. Becomes
// invalid once height would fall below zero.
func (it *AncestorIterator[D]) Next() {
	switch it.state {
	case stateInForest:
		if p := it.node.Parent(); p != nil {
			it.node = p
			return
		}
		parentHeight := it.node.Payload().context.EntryHeight() - 1
		it.node = nil
		if parentHeight < 0 {
			it.state = stateInvalid
			return
		}
		it.state = stateInChain
		it.height = parentHeight
	case stateInChain:
		it.height--
		if it.height < 0 {
			it.state = stateInvalid
		}
	}
}

// ChainTree is a hybrid linear-chain-plus-forest structure over payload
// type D.
type ChainTree[D Entry] struct {
	chain         []D
	chainTip      D
	hasTip        bool
	forest        *forest.Forest[nodeData[D]]
	minRootHeight int32
}

// New constructs an empty ChainTree.
func New[D Entry]() *ChainTree[D] {
	return &ChainTree[D]{
		forest:        forest.New[nodeData[D]](),
		minRootHeight: math.MaxInt32,
	}
}

// Len returns the length of the linear chain.
func (t *ChainTree[D]) Len() int { return len(t.chain) }

// ForestLen returns the number of nodes currently held in the forest.
func (t *ChainTree[D]) ForestLen() int { return t.forest.Len() }

// ChainTip returns an iterator positioned at the head of the linear
// chain, or an invalid iterator if the tree is empty.
func (t *ChainTree[D]) ChainTip() *AncestorIterator[D] {
	if len(t.chain) == 0 {
		return &AncestorIterator[D]{tree: t, state: stateInvalid}
	}
	return t.chainIteratorAt(int32(len(t.chain) - 1))
}

// TipContext returns the full context of the linear-chain tip and whether
// the tree has any elements at all.
func (t *ChainTree[D]) TipContext() (D, bool) {
	return t.chainTip, t.hasTip
}

// InvalidIterator returns an iterator in the Invalid state, the required
// parent argument for Add on an empty tree.
func (t *ChainTree[D]) InvalidIterator() *AncestorIterator[D] {
	return &AncestorIterator[D]{tree: t, state: stateInvalid}
}

// BeginChain returns an iterator positioned in the linear chain at height.
func (t *ChainTree[D]) BeginChain(height int32) (*AncestorIterator[D], error) {
	if height < 0 || int(height) >= len(t.chain) {
		return nil, fmt.Errorf("chaintree: height %d out of range", height)
	}
	return t.chainIteratorAt(height), nil
}

func (t *ChainTree[D]) chainIteratorAt(height int32) *AncestorIterator[D] {
	return &AncestorIterator[D]{tree: t, state: stateInChain, height: height}
}

func (t *ChainTree[D]) forestIteratorAt(n *forestNode[D]) *AncestorIterator[D] {
	return &AncestorIterator[D]{tree: t, state: stateInForest, node: n}
}

// BeginForest returns an iterator positioned at the given forest node.
// The caller is responsible for ensuring node belongs to this tree's
// forest.
func (t *ChainTree[D]) BeginForest(node *forestNode[D]) *AncestorIterator[D] {
	return t.forestIteratorAt(node)
}

// Add attaches context as a child of parent, per the validation and
// placement rules below.
func (t *ChainTree[D]) Add(parent *AncestorIterator[D], context D) (*AncestorIterator[D], error) {
	if len(t.chain) == 0 {
		if parent != nil && parent.Valid() {
			return nil, fmt.Errorf("%w: empty tree requires an invalid parent", ErrInvalidParent)
		}
		t.chain = append(t.chain, context)
		t.chainTip = context
		t.hasTip = true
		return t.chainIteratorAt(0), nil
	}

	if parent == nil || !parent.Valid() {
		return nil, fmt.Errorf("%w: non-empty tree requires a valid parent", ErrInvalidParent)
	}

	switch parent.state {
	case stateInChain:
		if parent.height != context.EntryHeight()-1 || int(parent.height) >= len(t.chain) {
			return nil, fmt.Errorf("%w: chain parent at height %d cannot parent height %d",
				ErrInvalidParent, parent.height, context.EntryHeight())
		}
		if int(parent.height) == len(t.chain)-1 {
			t.chain = append(t.chain, context)
			t.chainTip = context
			return t.chainIteratorAt(parent.height + 1), nil
		}
		node := t.attachForestNode(nil, context)
		return t.forestIteratorAt(node), nil

	case stateInForest:
		if parent.node.Payload().context.EntryHeight() != context.EntryHeight()-1 {
			return nil, fmt.Errorf("%w: forest parent at height %d cannot parent height %d",
				ErrInvalidParent, parent.node.Payload().context.EntryHeight(), context.EntryHeight())
		}
		node := t.attachForestNode(parent.node, context)
		return t.forestIteratorAt(node), nil

	default:
		return nil, fmt.Errorf("%w: parent in neither chain nor forest", ErrInvalidParent)
	}
}

// attachForestNode creates a forest child of parent (nil for a new root)
// holding context, computing its root_height and keeping
// minRootHeight up to date.
func (t *ChainTree[D]) attachForestNode(parent *forestNode[D], context D) *forestNode[D] {
	rootHeight := context.EntryHeight()
	if parent != nil {
		rootHeight = parent.Payload().rootHeight
	} else if rootHeight < t.minRootHeight {
		t.minRootHeight = rootHeight
	}
	return t.forest.AddChild(parent, nodeData[D]{context: context, rootHeight: rootHeight})
}

// FindInTipOrForest matches the chain tip first (O(1) equality), then
// falls back to a forest lookup.
func (t *ChainTree[D]) FindInTipOrForest(hash chainhash.Hash) (*AncestorIterator[D], D, bool) {
	if t.hasTip && t.chainTip.EntryHash() == hash {
		return t.chainIteratorAt(int32(len(t.chain) - 1)), t.chainTip, true
	}
	if n, ok := t.forest.Find(hash); ok {
		return t.forestIteratorAt(n), n.Payload().context, true
	}
	var zero D
	return nil, zero, false
}

// ForestNode exposes the raw forest lookup for callers (e.g. sidecar
// replay) that need a node reference rather than an iterator.
func (t *ChainTree[D]) ForestNode(hash chainhash.Hash) (*forestNode[D], bool) {
	return t.forest.Find(hash)
}

// ForkPoint walks tip's forest branch up to its root (step 2) and rewinds
// one step further to recover the context of the fork point still
// sitting in the linear chain (step 3 of the PromoteBranch procedure).
// Exposed so callers (pkg/timechain) can compute the demoted-hash list
// from the still-intact chain before calling PromoteBranch, and reused by
// PromoteBranch itself so the two never disagree.
func (t *ChainTree[D]) ForkPoint(tip *AncestorIterator[D], policy Policy[D]) (D, error) {
	var zero D
	if policy == nil {
		policy = IdentityPolicy[D]{}
	}
	if tip == nil || tip.state != stateInForest {
		return zero, fmt.Errorf("%w: ForkPoint requires a forest tip", ErrInvalidParent)
	}
	root := tip.node
	for p := root.Parent(); p != nil; p = root.Parent() {
		root = p
	}
	forkHeight := root.Payload().context.EntryHeight() - 1
	if forkHeight < 0 || int(forkHeight) >= len(t.chain) {
		return zero, fmt.Errorf("%w: fork point at height %d out of chain range", ErrInvalidParent, forkHeight)
	}
	return policy.Rewind(root.Payload().context, t.chain[forkHeight]), nil
}

// PromoteBranch performs an in-place reorg, swapping the forest branch
// ending at tip into the linear chain in exchange for demoting the
// displaced suffix. tip must denote
// a forest leaf. oldChainHashes supplies the hash of each demoted element,
// oldest first.
func (t *ChainTree[D]) PromoteBranch(tip *AncestorIterator[D], oldChainHashes []chainhash.Hash, policy Policy[D]) error {
	if policy == nil {
		policy = IdentityPolicy[D]{}
	}
	if tip == nil || tip.state != stateInForest {
		return fmt.Errorf("%w: PromoteBranch requires a forest tip", ErrInvalidParent)
	}
	leaf := tip.node
	if !t.forest.IsLeaf(leaf) {
		return fmt.Errorf("%w: PromoteBranch requires a leaf", ErrInvalidParent)
	}

	// Step 2: collect the branch, leaf first, root last.
	var upChain []*forestNode[D]
	for n := leaf; n != nil; n = n.Parent() {
		upChain = append(upChain, n)
	}
	root := upChain[len(upChain)-1]

	// Step 3: rewind to the fork-point context.
	forkHeight := root.Payload().context.EntryHeight() - 1
	forkCtx, err := t.ForkPoint(tip, policy)
	if err != nil {
		return err
	}
	if !t.hasTip || !(forkCtx.EntryHeight() < t.chainTip.EntryHeight()) {
		return fmt.Errorf("%w: fork point must be below the current tip", ErrInvalidParent)
	}

	// Step 4: validate the demoted-hash count.
	wantDemoted := int(t.chainTip.EntryHeight() - forkCtx.EntryHeight())
	if wantDemoted == 0 || len(oldChainHashes) != wantDemoted {
		return fmt.Errorf("%w: expected %d demoted hashes, got %d", ErrInvalidParent, wantDemoted, len(oldChainHashes))
	}

	// Step 5: demote the current linear-chain suffix into the forest.
	var demotedParent *forestNode[D]
	for i := 0; i < wantDemoted; i++ {
		height := int(forkCtx.EntryHeight()) + 1 + i
		nextData := t.chain[height]
		parentCtx := forkCtx
		if demotedParent != nil {
			parentCtx = demotedParent.Payload().context
		}
		newCtx := policy.Extend(parentCtx, nextData, oldChainHashes[i])
		demotedParent = t.attachForestNode(demotedParent, newCtx)
	}

	// Step 6: truncate the chain to the fork point.
	t.chain = t.chain[:forkHeight+1]
	t.chainTip = forkCtx

	// Step 7: replay the promoted branch, root to leaf, onto the chain.
	for i := len(upChain) - 1; i >= 0; i-- {
		ctx := upChain[i].Payload().context
		t.chain = append(t.chain, ctx)
		t.chainTip = ctx
	}

	// Step 8: erase the now-promoted branch from the forest.
	t.forest.EraseChain(leaf)
	return nil
}

// PruneForest removes every forest root whose root_height is below
// chainTip.Height - maxKeepDepth, recomputing minRootHeight from the
// surviving roots. Children orphaned by this pass keep the erased root's
// root_height but are not counted in minRootHeight; a later call erases
// them once minRootHeight is below that call's floor.
func (t *ChainTree[D]) PruneForest(maxKeepDepth int32) {
	if !t.hasTip {
		return
	}
	threshold := t.chainTip.EntryHeight() - maxKeepDepth
	if t.minRootHeight >= threshold {
		return
	}

	var roots []*forestNode[D]
	for it := t.forest.ForwardFromOldest(); it.Valid(); it.Advance() {
		if it.Node().Parent() == nil {
			roots = append(roots, it.Node())
		}
	}

	newMin := int32(math.MaxInt32)
	for _, n := range roots {
		rh := n.Payload().rootHeight
		if rh < threshold {
			t.forest.Erase(n)
			continue
		}
		if rh < newMin {
			newMin = rh
		}
	}
	t.minRootHeight = newMin
}

// GetAncestorAtHeight returns the payload at height along tip's ancestry,
// walking through the forest into the linear region as needed.
func (t *ChainTree[D]) GetAncestorAtHeight(tip *AncestorIterator[D], height int32) (D, error) {
	var zero D
	if tip == nil || !tip.Valid() {
		return zero, fmt.Errorf("%w: invalid tip", ErrInvalidParent)
	}
	switch tip.state {
	case stateInChain:
		if height < 0 || int(height) >= len(t.chain) {
			return zero, fmt.Errorf("chaintree: height %d out of range", height)
		}
		return t.chain[height], nil
	case stateInForest:
		if tip.node.Payload().rootHeight > height {
			if height < 0 || int(height) >= len(t.chain) {
				return zero, fmt.Errorf("chaintree: height %d out of range", height)
			}
			return t.chain[height], nil
		}
		for n := tip.node; n != nil; n = n.Parent() {
			if n.Payload().context.EntryHeight() == height {
				return n.Payload().context, nil
			}
		}
		return zero, fmt.Errorf("chaintree: ancestor at height %d not found", height)
	default:
		return zero, fmt.Errorf("chaintree: invalid iterator state")
	}
}

// SetChainAt overwrites the payload at height in the linear chain,
// updating chainTip if height is the current tip. Used by sidecar Set
// operations that mutate a node's value in place without touching
// topology.
func (t *ChainTree[D]) SetChainAt(height int32, data D) error {
	if height < 0 || int(height) >= len(t.chain) {
		return fmt.Errorf("chaintree: height %d out of range", height)
	}
	t.chain[height] = data
	if int(height) == len(t.chain)-1 {
		t.chainTip = data
	}
	return nil
}

// SetForestNode overwrites the payload of an existing forest node,
// preserving its root_height.
func (t *ChainTree[D]) SetForestNode(node *forestNode[D], data D) {
	node.SetPayload(nodeData[D]{context: data, rootHeight: node.Payload().rootHeight})
}

// ForEach visits every context in insertion order: first the linear
// chain from genesis, then every forest node in the order it was added. Used to replay topology into a newly
// registered sidecar.
func (t *ChainTree[D]) ForEach(visit func(context D)) {
	for _, d := range t.chain {
		visit(d)
	}
	for it := t.forest.ForwardFromOldest(); it.Valid(); it.Advance() {
		visit(it.Node().Payload().context)
	}
}

package timechain

import (
	"fmt"
	"sort"

	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/chaintree"
	"github.com/hornetd/timechain/pkg/latch"
)

// DefaultMaxSearchDepth bounds HeaderTimechain.Search's linear scan.
const DefaultMaxSearchDepth int32 = 144

// DefaultMaxKeepDepth bounds how far below the tip a forest branch may
// survive PruneForest.
const DefaultMaxKeepDepth int32 = 288

// HeaderTimechain is a ChainTree[HeaderContext] with the domain policy
// that a new header triggers a reorg iff its cumulative work exceeds the
// current tip's, plus the sidecar fan-out and the two-latch discipline.
type HeaderTimechain struct {
	structureMu *latch.PrioritySharedMutex
	metadataMu  *latch.PrioritySharedMutex

	tree *chaintree.ChainTree[HeaderContext]

	maxSearchDepth int32
	maxKeepDepth   int32

	sidecars *SidecarSet

	metrics MetricsSink
}

// MetricsSink receives instrumentation from AddHeader, PromoteBranch, and
// PruneForest without pkg/timechain depending on a particular metrics
// backend. pkg/metrics.Registry implements this interface; the typed-handle
// style mirrors SidecarSet's tagged-visitor approach rather than a virtual
// base class.
type MetricsSink interface {
	// ObserveAdd is called once per successful AddHeader/AddWithParent,
	// with the number of hashes demoted from the linear chain (zero
	// unless that add triggered a reorg).
	ObserveAdd(moved int)
	// ObserveTopology is called after every structural mutation with the
	// current forest size and chain tip height.
	ObserveTopology(forestSize int, chainHeight int32)
}

// Option configures a HeaderTimechain at construction.
type Option func(*HeaderTimechain)

// WithMaxSearchDepth overrides DefaultMaxSearchDepth.
func WithMaxSearchDepth(d int32) Option { return func(t *HeaderTimechain) { t.maxSearchDepth = d } }

// WithMaxKeepDepth overrides DefaultMaxKeepDepth.
func WithMaxKeepDepth(d int32) Option { return func(t *HeaderTimechain) { t.maxKeepDepth = d } }

// WithMetrics registers a MetricsSink to be updated at AddHeader,
// PromoteBranch, and PruneForest call sites.
func WithMetrics(sink MetricsSink) Option { return func(t *HeaderTimechain) { t.metrics = sink } }

// New constructs a HeaderTimechain seeded with genesis at height 0. Panics
// if genesis is rejected (a programmer error: genesis must have Height 0
// and is inserted against an invalid parent internally).
func New(genesis HeaderContext, opts ...Option) *HeaderTimechain {
	t := &HeaderTimechain{
		structureMu:    latch.New(),
		metadataMu:     latch.New(),
		tree:           chaintree.New[HeaderContext](),
		maxSearchDepth: DefaultMaxSearchDepth,
		maxKeepDepth:   DefaultMaxKeepDepth,
	}
	t.sidecars = newSidecarSet()
	for _, opt := range opts {
		opt(t)
	}
	if _, err := t.tree.Add(t.tree.InvalidIterator(), genesis); err != nil {
		panic(fmt.Sprintf("timechain: genesis rejected: %v", err))
	}
	return t
}

// Add searches for ctx's parent by ctx.Header.PreviousHash in tip-or-forest
// and, if found, delegates to AddWithParent. Fails with ErrParentNotFound
// if the parent is absent from both.
func (t *HeaderTimechain) Add(ctx HeaderContext) (AddResult, error) {
	g := t.structureMu.LockGuard(nil)
	defer g.Unlock()
	return t.addLocked(g.Token(), ctx)
}

func (t *HeaderTimechain) addLocked(token *latch.WriteToken, ctx HeaderContext) (AddResult, error) {
	parentHash := ctx.EntryParentHash()
	parentIter, _, ok := t.tree.FindInTipOrForest(parentHash)
	if !ok {
		return AddResult{}, fmt.Errorf("%w: %s", ErrParentNotFound, parentHash)
	}
	return t.addWithParentLocked(token, parentIter, ctx)
}

// AddWithParent validates parent.Hash == ctx.Header.PreviousHash, inserts
// ctx via the base ChainTree, triggers PromoteBranch when ctx's cumulative
// work exceeds the tip's, runs PruneForest, and then fans the resulting
// AddSync out to every registered sidecar (all of this happens under one
// exclusive hold of structureMu).
func (t *HeaderTimechain) AddWithParent(parent *chaintree.AncestorIterator[HeaderContext], ctx HeaderContext) (AddResult, error) {
	g := t.structureMu.LockGuard(nil)
	defer g.Unlock()
	return t.addWithParentLocked(g.Token(), parent, ctx)
}

func (t *HeaderTimechain) addWithParentLocked(token *latch.WriteToken, parent *chaintree.AncestorIterator[HeaderContext], ctx HeaderContext) (AddResult, error) {
	if parent != nil && parent.Valid() {
		parentData, _ := parent.Data()
		if parentData.EntryHash() != ctx.EntryParentHash() {
			return AddResult{}, fmt.Errorf("%w: parent hash %s does not match header's previous hash %s",
				chaintree.ErrInvalidParent, parentData.EntryHash(), ctx.EntryParentHash())
		}
	}

	// The parent locator is computed before Add/PromoteBranch run: it
	// describes where ctx attaches, which sidecars need to reproduce
	// exactly.
	var parentLocator Locator
	switch {
	case parent == nil || !parent.Valid():
		parentLocator = Locator{kind: LocatorInvalid}
	case parent.InChain():
		parentLocator = ByHeight(parent.Height())
	default:
		pd, _ := parent.Data()
		parentLocator = ByHash(pd.EntryHash())
	}

	newIter, err := t.tree.Add(parent, ctx)
	if err != nil {
		return AddResult{}, err
	}

	result := AddResult{Iterator: newIter}

	tipCtx, hasTip := t.tree.TipContext()
	if newIter.InForest() && hasTip && ctx.TotalWork.GreaterThan(tipCtx.TotalWork) {
		moved, promoteErr := t.promoteLocked(newIter)
		if promoteErr != nil {
			return AddResult{}, promoteErr
		}
		result.MovedFromChain = moved
		result.Iterator = t.tree.ChainTip()
	}

	t.tree.PruneForest(t.maxKeepDepth)

	t.sidecars.broadcastAddSync(token, AddSync{
		Parent:         parentLocator,
		Hash:           ctx.Hash,
		MovedFromChain: result.MovedFromChain,
	})

	if t.metrics != nil {
		t.metrics.ObserveAdd(len(result.MovedFromChain))
		if tip, ok := t.tree.TipContext(); ok {
			t.metrics.ObserveTopology(t.tree.ForestLen(), tip.EntryHeight())
		} else {
			t.metrics.ObserveTopology(t.tree.ForestLen(), -1)
		}
	}

	return result, nil
}

// promoteLocked computes the demoted-hash list from the still-intact chain
// (oldest first) and calls PromoteBranch, reusing ChainTree.ForkPoint so
// the fork height it derives never disagrees with PromoteBranch's own.
func (t *HeaderTimechain) promoteLocked(newIter *chaintree.AncestorIterator[HeaderContext]) ([]chainhash.Hash, error) {
	forkCtx, err := t.tree.ForkPoint(newIter, nil)
	if err != nil {
		return nil, err
	}
	tipCtx, _ := t.tree.TipContext()

	moved := make([]chainhash.Hash, 0, int(tipCtx.EntryHeight()-forkCtx.EntryHeight()))
	for h := forkCtx.EntryHeight() + 1; h <= tipCtx.EntryHeight(); h++ {
		it, err := t.tree.BeginChain(h)
		if err != nil {
			return nil, err
		}
		d, _ := it.Data()
		moved = append(moved, d.EntryHash())
	}
	if err := t.tree.PromoteBranch(newIter, moved, nil); err != nil {
		return nil, err
	}
	return moved, nil
}

// Search checks tip and forest first, then scans the linear chain back
// from the tip up to MaxSearchDepth elements; a match beyond that bound is
// reported as not found.
func (t *HeaderTimechain) Search(hash chainhash.Hash) (*chaintree.AncestorIterator[HeaderContext], bool) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()

	if it, _, ok := t.tree.FindInTipOrForest(hash); ok {
		return it, true
	}
	tipCtx, hasTip := t.tree.TipContext()
	if !hasTip {
		return nil, false
	}
	depth := int32(0)
	for h := tipCtx.EntryHeight() - 1; h >= 0 && depth < t.maxSearchDepth; h-- {
		it, err := t.tree.BeginChain(h)
		if err != nil {
			break
		}
		d, _ := it.Data()
		if d.EntryHash() == hash {
			return it, true
		}
		depth++
	}
	return nil, false
}

// MakeLocator validates both the height and hash tags of a Key and returns
// the stricter of the two documented source behaviors: false rather than
// an inconsistent ByHash when they disagree.
func (t *HeaderTimechain) MakeLocator(height int32, hash chainhash.Hash) (Locator, bool) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	return t.makeLocatorLocked(height, hash)
}

func (t *HeaderTimechain) makeLocatorLocked(height int32, hash chainhash.Hash) (Locator, bool) {
	if it, err := t.tree.BeginChain(height); err == nil {
		d, _ := it.Data()
		if d.EntryHash() == hash {
			return ByHeight(height), true
		}
	}
	if n, ok := t.tree.ForestNode(hash); ok {
		fit := t.tree.BeginForest(n)
		if fit.Height() == height {
			return ByHash(hash), true
		}
	}
	return Locator{}, false
}

// FindStable resolves a Key to an iterator, checking both height and hash
// agreement, for external collaborators referencing a block across
// reorgs.
func (t *HeaderTimechain) FindStable(height int32, hash chainhash.Hash) (*chaintree.AncestorIterator[HeaderContext], bool) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()

	loc, ok := t.makeLocatorLocked(height, hash)
	if !ok {
		return nil, false
	}
	switch loc.Kind() {
	case LocatorByHeight:
		it, err := t.tree.BeginChain(loc.Height())
		return it, err == nil
	case LocatorByHash:
		n, ok := t.tree.ForestNode(loc.Hash())
		if !ok {
			return nil, false
		}
		return t.tree.BeginForest(n), true
	default:
		return nil, false
	}
}

// ChainTip returns an iterator positioned at the head of the linear chain.
func (t *HeaderTimechain) ChainTip() *chaintree.AncestorIterator[HeaderContext] {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	return t.tree.ChainTip()
}

// BeginChain returns an iterator positioned in the linear chain at height.
func (t *HeaderTimechain) BeginChain(height int32) (*chaintree.AncestorIterator[HeaderContext], error) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	return t.tree.BeginChain(height)
}

// AncestorsToHeight walks start's ancestry down to endExclusive (exclusive),
// returning the visited payloads in descending-height order.
func (t *HeaderTimechain) AncestorsToHeight(start *chaintree.AncestorIterator[HeaderContext], endExclusive int32) ([]HeaderContext, error) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	var out []HeaderContext
	for h := start.Height(); h > endExclusive; h-- {
		d, err := t.tree.GetAncestorAtHeight(start, h)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ForEach replays every context in insertion order into visit: first the
// linear chain from genesis, then every forest node in insertion order.
func (t *HeaderTimechain) ForEach(visit func(HeaderContext)) {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	t.tree.ForEach(visit)
}

// Len returns the length of the linear chain.
func (t *HeaderTimechain) Len() int {
	g := t.structureMu.RLockGuard()
	defer g.Unlock()
	return t.tree.Len()
}

// ValidationView adapts tip for the consensus layer's read-only timestamp
// queries.
func (t *HeaderTimechain) ValidationView(tip *chaintree.AncestorIterator[HeaderContext]) ValidationView {
	return ValidationView{tc: t, tip: tip}
}

// ValidationView exposes Length, TimestampAt, and LastNTimestamps for
// median-time-past calculations, reading only, without exposing the
// underlying iterator's raw pointer lifetime concerns.
type ValidationView struct {
	tc  *HeaderTimechain
	tip *chaintree.AncestorIterator[HeaderContext]
}

// Length returns the number of headers visible from the view's tip back to
// genesis.
func (v ValidationView) Length() int32 {
	return v.tip.Height() + 1
}

// TimestampAt returns the timestamp of the ancestor at height.
func (v ValidationView) TimestampAt(height int32) (int64, error) {
	g := v.tc.structureMu.RLockGuard()
	defer g.Unlock()
	d, err := v.tc.tree.GetAncestorAtHeight(v.tip, height)
	if err != nil {
		return 0, err
	}
	if d.Header == nil {
		return 0, nil
	}
	return d.Header.Timestamp(), nil
}

// LastNTimestamps returns up to n timestamps ending at the view's tip,
// oldest to newest; if the view has fewer than n, its length determines
// the sample.
func (v ValidationView) LastNTimestamps(n int32) ([]int64, error) {
	g := v.tc.structureMu.RLockGuard()
	defer g.Unlock()

	length := v.tip.Height() + 1
	if n > length {
		n = length
	}
	out := make([]int64, 0, n)
	for h := length - n; h < length; h++ {
		d, err := v.tc.tree.GetAncestorAtHeight(v.tip, h)
		if err != nil {
			return nil, err
		}
		ts := int64(0)
		if d.Header != nil {
			ts = d.Header.Timestamp()
		}
		out = append(out, ts)
	}
	return out, nil
}

// MedianTimePast samples exactly 11 timestamps and returns the sorted
// middle element, falling back to however many the view actually has when
// shorter than 11.
func (v ValidationView) MedianTimePast() (int64, error) {
	ts, err := v.LastNTimestamps(11)
	if err != nil {
		return 0, err
	}
	if len(ts) == 0 {
		return 0, nil
	}
	sorted := append([]int64(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], nil
}

package timechain

import (
	"fmt"
	"sort"

	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/forest"
)

// keyframe is one run-length entry: value holds for every height in
// [start, next keyframe's start) (or chain length, for the last one).
type keyframe[T comparable] struct {
	start int32
	value T
}

// kfNode is a fork-side node: unlike the compressed linear region, every
// forest node stores its value, hash, and height explicitly. rootHeight
// mirrors chaintree's nodeData bookkeeping; promote finds the fork point
// by walking up to the branch root instead.
type kfNode[T comparable] struct {
	hash       chainhash.Hash
	height     int32
	value      T
	rootHeight int32
}

func (n kfNode[T]) HashKey() chainhash.Hash { return n.hash }

// KeyframeSidecar is a Sidecar specialised for piecewise-constant
// payloads: the linear region is a sorted run-length keyframe slice, and
// the fork region is an explicit HashedForest.
type KeyframeSidecar[T comparable] struct {
	defaultValue T
	keyframes    []keyframe[T]
	length       int32
	forest       *forest.Forest[kfNode[T]]
}

func newKeyframeSidecar[T comparable](defaultValue T) *KeyframeSidecar[T] {
	return &KeyframeSidecar[T]{defaultValue: defaultValue, forest: forest.New[kfNode[T]]()}
}

// keyframeIndexFor returns the index of the greatest keyframe with
// start <= h, via binary search.
func (sc *KeyframeSidecar[T]) keyframeIndexFor(h int32) int {
	i := sort.Search(len(sc.keyframes), func(i int) bool { return sc.keyframes[i].start > h })
	return i - 1
}

func (sc *KeyframeSidecar[T]) get(loc Locator) (T, bool) {
	var zero T
	switch loc.Kind() {
	case LocatorByHeight:
		h := loc.Height()
		if h < 0 || h >= sc.length {
			return zero, false
		}
		return sc.keyframes[sc.keyframeIndexFor(h)].value, true
	case LocatorByHash:
		n, ok := sc.forest.Find(loc.Hash())
		if !ok {
			return zero, false
		}
		return n.Payload().value, true
	default:
		return zero, false
	}
}

func (sc *KeyframeSidecar[T]) set(loc Locator, v T) {
	switch loc.Kind() {
	case LocatorByHeight:
		sc.setByHeight(loc.Height(), v)
	case LocatorByHash:
		sc.setByHash(loc.Hash(), v)
	default:
		panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, loc))
	}
}

func (sc *KeyframeSidecar[T]) setByHash(hash chainhash.Hash, v T) {
	n, ok := sc.forest.Find(hash)
	if !ok {
		panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, hash))
	}
	p := n.Payload()
	p.value = v
	n.SetPayload(p)
}

// setByHeight overwrites the value at height h: a no-op if the
// containing keyframe already carries v, otherwise an overwrite, a
// shrink-and-splice, or a three-way split, each followed by coalescing any
// now-adjacent equal-valued runs.
func (sc *KeyframeSidecar[T]) setByHeight(h int32, v T) {
	if h < 0 || h >= sc.length {
		panic(fmt.Sprintf("%v: height %d out of range", ErrLocatorUnresolved, h))
	}
	idx := sc.keyframeIndexFor(h)
	cur := sc.keyframes[idx]
	if cur.value == v {
		return
	}

	end := sc.length
	if idx+1 < len(sc.keyframes) {
		end = sc.keyframes[idx+1].start
	}

	switch {
	case cur.start == h && end == h+1:
		// Single-height run: overwrite in place.
		sc.keyframes[idx].value = v
		sc.coalesceAround(idx)

	case cur.start == h:
		// h is the first height of a multi-height run: shrink it to
		// start one later and splice a new singleton before it.
		sc.keyframes[idx].start = h + 1
		sc.insertKeyframe(idx, keyframe[T]{start: h, value: v})
		sc.coalesceAround(idx)

	default:
		// h is strictly inside a multi-height run: split into prefix,
		// singleton, and (if non-empty) suffix.
		oldValue := cur.value
		runs := []keyframe[T]{{start: cur.start, value: oldValue}, {start: h, value: v}}
		if h+1 < end {
			runs = append(runs, keyframe[T]{start: h + 1, value: oldValue})
		}
		tail := append([]keyframe[T]{}, sc.keyframes[idx+1:]...)
		sc.keyframes = append(sc.keyframes[:idx], append(runs, tail...)...)
		sc.coalesceAround(idx + 1)
	}
}

// coalesceAround merges the keyframe at idx with either neighbour that now
// carries an equal value, re-establishing the no-adjacent-duplicates
// invariant.
func (sc *KeyframeSidecar[T]) coalesceAround(idx int) {
	for idx+1 < len(sc.keyframes) && sc.keyframes[idx].value == sc.keyframes[idx+1].value {
		sc.keyframes = append(sc.keyframes[:idx+1], sc.keyframes[idx+2:]...)
	}
	for idx > 0 && sc.keyframes[idx-1].value == sc.keyframes[idx].value {
		sc.keyframes = append(sc.keyframes[:idx], sc.keyframes[idx+1:]...)
		idx--
	}
}

func (sc *KeyframeSidecar[T]) insertKeyframe(at int, kf keyframe[T]) {
	sc.keyframes = append(sc.keyframes, keyframe[T]{})
	copy(sc.keyframes[at+1:], sc.keyframes[at:])
	sc.keyframes[at] = kf
}

// appendValue extends the linear region by one height, implicitly
// extending the last run if v matches it, else starting a new one.
func (sc *KeyframeSidecar[T]) appendValue(v T) {
	if len(sc.keyframes) == 0 || sc.keyframes[len(sc.keyframes)-1].value != v {
		sc.keyframes = append(sc.keyframes, keyframe[T]{start: sc.length, value: v})
	}
	sc.length++
}

func (sc *KeyframeSidecar[T]) truncateTo(newLength int32) {
	idx := sort.Search(len(sc.keyframes), func(i int) bool { return sc.keyframes[i].start >= newLength })
	sc.keyframes = sc.keyframes[:idx]
	sc.length = newLength
}

func (sc *KeyframeSidecar[T]) attach(parent *forest.Node[kfNode[T]], hash chainhash.Hash, height int32, value T) *forest.Node[kfNode[T]] {
	rootHeight := height
	if parent != nil {
		rootHeight = parent.Payload().rootHeight
	}
	return sc.forest.AddChild(parent, kfNode[T]{hash: hash, height: height, value: value, rootHeight: rootHeight})
}

func (sc *KeyframeSidecar[T]) addSync(ev AddSync) {
	isChainExtension := (ev.Parent.Kind() == LocatorInvalid && sc.length == 0) ||
		(ev.Parent.Kind() == LocatorByHeight && ev.Parent.Height() == sc.length-1)

	if isChainExtension {
		sc.appendValue(sc.defaultValue)
	} else {
		var parentNode *forest.Node[kfNode[T]]
		var parentHeight int32
		switch ev.Parent.Kind() {
		case LocatorInvalid:
			parentHeight = -1
		case LocatorByHeight:
			parentHeight = ev.Parent.Height()
		case LocatorByHash:
			n, ok := sc.forest.Find(ev.Parent.Hash())
			if !ok {
				panic(fmt.Sprintf("keyframesidecar: addSync: parent %s not found", ev.Parent))
			}
			parentNode = n
			parentHeight = n.Payload().height
		}
		sc.attach(parentNode, ev.Hash, parentHeight+1, sc.defaultValue)
	}

	if len(ev.MovedFromChain) > 0 {
		sc.promote(ev.Hash, ev.MovedFromChain)
	}
}

// promote mirrors ChainTree.PromoteBranch's eight-step procedure
// over the keyframe-plus-forest representation: it demotes the current
// linear suffix into forest nodes (reading each value via Get), truncates
// the keyframe region to the fork point, then replays the promoted
// branch's values back onto it.
func (sc *KeyframeSidecar[T]) promote(newLeafHash chainhash.Hash, oldChainHashes []chainhash.Hash) {
	newLeaf, ok := sc.forest.Find(newLeafHash)
	if !ok {
		panic("keyframesidecar: promote: new leaf not found")
	}

	var upChain []*forest.Node[kfNode[T]]
	for n := newLeaf; n != nil; n = n.Parent() {
		upChain = append(upChain, n)
	}
	root := upChain[len(upChain)-1]
	forkHeight := root.Payload().height - 1

	wantDemoted := sc.length - 1 - forkHeight
	if int32(len(oldChainHashes)) != wantDemoted {
		panic(fmt.Sprintf("keyframesidecar: promote: expected %d demoted hashes, got %d", wantDemoted, len(oldChainHashes)))
	}

	var demotedParent *forest.Node[kfNode[T]]
	for i, h := range oldChainHashes {
		height := forkHeight + 1 + int32(i)
		value, _ := sc.get(ByHeight(height))
		demotedParent = sc.attach(demotedParent, h, height, value)
	}

	sc.truncateTo(forkHeight + 1)

	for i := len(upChain) - 1; i >= 0; i-- {
		sc.appendValue(upChain[i].Payload().value)
	}

	sc.forest.EraseChain(newLeaf)
}

func (sc *KeyframeSidecar[T]) replayEntry(ctx HeaderContext) {
	var parentLoc Locator
	switch {
	case ctx.Height == 0:
		parentLoc = Locator{kind: LocatorInvalid}
	default:
		if _, ok := sc.forest.Find(ctx.EntryParentHash()); ok {
			parentLoc = ByHash(ctx.EntryParentHash())
		} else {
			parentLoc = ByHeight(ctx.Height - 1)
		}
	}
	sc.addSync(AddSync{Parent: parentLoc, Hash: ctx.Hash})
}

package timechain

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/chaintree"
	"github.com/hornetd/timechain/pkg/latch"
)

// sidecarBinding is the minimal interface SidecarSet needs to fan an
// AddSync out to a registered store, regardless of its payload type. This
// is the "tagged visitor + typed handle" alternative to a virtual sidecar
// base class.
type sidecarBinding interface {
	addSync(AddSync)
}

// typedStore is the per-payload-type contract a concrete sidecar
// implementation (Sidecar[T], KeyframeSidecar[T]) satisfies so the
// package-level Get/Set functions can reach it through a Handle[T].
type typedStore[T any] interface {
	sidecarBinding
	get(Locator) (T, bool)
	set(Locator, T)
}

// SidecarSet holds every store registered against a HeaderTimechain,
// keyed by registration slot, fanning each AddSync out to all of them
// under the timechain's own exclusive structureMu hold.
type SidecarSet struct {
	bindings map[int]sidecarBinding
	nextSlot int
}

func newSidecarSet() *SidecarSet {
	return &SidecarSet{bindings: make(map[int]sidecarBinding)}
}

func (s *SidecarSet) register(b sidecarBinding) int {
	slot := s.nextSlot
	s.nextSlot++
	s.bindings[slot] = b
	return slot
}

func (s *SidecarSet) deregister(slot int) {
	delete(s.bindings, slot)
}

// broadcastAddSync delivers ev to every registered sidecar concurrently.
// Delivery across sidecars registered under different handles carries no
// ordering guarantee; within one handle it is strictly sequential
// because exactly one goroutine ever calls that handle's addSync. token
// documents that the caller already holds structureMu exclusively for the
// fan-out's duration; sidecars never reenter the latch themselves.
func (s *SidecarSet) broadcastAddSync(token *latch.WriteToken, ev AddSync) {
	_ = token
	var g errgroup.Group
	for _, b := range s.bindings {
		b := b
		g.Go(func() error {
			b.addSync(ev)
			return nil
		})
	}
	_ = g.Wait()
}

// Handle is an opaque, typed reference to a registered sidecar's
// registration slot.
type Handle[T any] struct {
	tc    *HeaderTimechain
	store typedStore[T]
	slot  int
}

// sidecarEntry wraps an arbitrary payload T with the hash/height/parent
// coordinates chaintree.Entry requires, letting Sidecar[T] reuse
// ChainTree[D Entry] exactly as the base HeaderTimechain does.
type sidecarEntry[T any] struct {
	hash       chainhash.Hash
	parentHash chainhash.Hash
	height     int32
	value      T
}

func (e sidecarEntry[T]) EntryHash() chainhash.Hash       { return e.hash }
func (e sidecarEntry[T]) EntryHeight() int32              { return e.height }
func (e sidecarEntry[T]) EntryParentHash() chainhash.Hash { return e.parentHash }

// Sidecar mirrors a HeaderTimechain's topology one-to-one, storing one
// payload of type T per node.
type Sidecar[T any] struct {
	defaultValue T
	tree         *chaintree.ChainTree[sidecarEntry[T]]
}

func newSidecar[T any](defaultValue T) *Sidecar[T] {
	return &Sidecar[T]{defaultValue: defaultValue, tree: chaintree.New[sidecarEntry[T]]()}
}

func (s *Sidecar[T]) get(loc Locator) (T, bool) {
	var zero T
	switch loc.Kind() {
	case LocatorByHeight:
		it, err := s.tree.BeginChain(loc.Height())
		if err != nil {
			return zero, false
		}
		d, _ := it.Data()
		return d.value, true
	case LocatorByHash:
		n, ok := s.tree.ForestNode(loc.Hash())
		if !ok {
			return zero, false
		}
		d, _ := s.tree.BeginForest(n).Data()
		return d.value, true
	default:
		return zero, false
	}
}

func (s *Sidecar[T]) set(loc Locator, value T) {
	switch loc.Kind() {
	case LocatorByHeight:
		it, err := s.tree.BeginChain(loc.Height())
		if err != nil {
			panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, loc))
		}
		d, _ := it.Data()
		d.value = value
		if err := s.tree.SetChainAt(loc.Height(), d); err != nil {
			panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, loc))
		}
	case LocatorByHash:
		n, ok := s.tree.ForestNode(loc.Hash())
		if !ok {
			panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, loc))
		}
		d, _ := s.tree.BeginForest(n).Data()
		d.value = value
		s.tree.SetForestNode(n, d)
	default:
		panic(fmt.Sprintf("%v: %s", ErrLocatorUnresolved, loc))
	}
}

// resolveParent turns an AddSync's parent locator into an iterator against
// this sidecar's own tree: invalid for genesis, the chain position for a
// ByHeight locator, otherwise a tip-or-forest lookup by hash (the sidecar
// mirrors the timechain's shape, so any parent already present there is
// present here too).
func (s *Sidecar[T]) resolveParent(loc Locator) *chaintree.AncestorIterator[sidecarEntry[T]] {
	if loc.Kind() == LocatorInvalid {
		return s.tree.InvalidIterator()
	}
	var hash chainhash.Hash
	if loc.Kind() == LocatorByHeight {
		it, err := s.tree.BeginChain(loc.Height())
		if err != nil {
			panic(fmt.Sprintf("sidecar: addSync: parent %s not found", loc))
		}
		return it
	}
	hash = loc.Hash()
	it, _, ok := s.tree.FindInTipOrForest(hash)
	if !ok {
		panic(fmt.Sprintf("sidecar: addSync: parent %s not found", hash))
	}
	return it
}

func (s *Sidecar[T]) addSync(ev AddSync) {
	parentIter := s.resolveParent(ev.Parent)

	var height int32
	var parentHash chainhash.Hash
	if parentIter.Valid() {
		pd, _ := parentIter.Data()
		height = parentIter.Height() + 1
		parentHash = pd.EntryHash()
	}

	newData := sidecarEntry[T]{hash: ev.Hash, parentHash: parentHash, height: height, value: s.defaultValue}
	newIter, err := s.tree.Add(parentIter, newData)
	if err != nil {
		panic(fmt.Sprintf("sidecar: addSync: %v", err))
	}
	if len(ev.MovedFromChain) > 0 {
		if err := s.tree.PromoteBranch(newIter, ev.MovedFromChain, nil); err != nil {
			panic(fmt.Sprintf("sidecar: addSync promote: %v", err))
		}
	}
}

// replayEntry reproduces one HeaderContext's placement during AddSidecar's
// initial topology replay.
func (s *Sidecar[T]) replayEntry(ctx HeaderContext) {
	var parentLoc Locator
	switch {
	case ctx.Height == 0:
		parentLoc = Locator{kind: LocatorInvalid}
	default:
		if _, _, ok := s.tree.FindInTipOrForest(ctx.EntryParentHash()); ok {
			parentLoc = ByHash(ctx.EntryParentHash())
		} else {
			parentLoc = ByHeight(ctx.Height - 1)
		}
	}
	s.addSync(AddSync{Parent: parentLoc, Hash: ctx.Hash})
}

// AddSidecar registers a new Sidecar[T] against tc, replays tc's current
// topology into it, and returns a typed handle.
func AddSidecar[T any](tc *HeaderTimechain, defaultValue T) Handle[T] {
	g := tc.structureMu.LockGuard(nil)
	defer g.Unlock()

	sc := newSidecar[T](defaultValue)
	tc.tree.ForEach(func(ctx HeaderContext) { sc.replayEntry(ctx) })
	slot := tc.sidecars.register(sc)
	return Handle[T]{tc: tc, store: sc, slot: slot}
}

// AddKeyframeSidecar registers a new KeyframeSidecar[T] against tc and
// replays tc's current topology into it.
func AddKeyframeSidecar[T comparable](tc *HeaderTimechain, defaultValue T) Handle[T] {
	g := tc.structureMu.LockGuard(nil)
	defer g.Unlock()

	sc := newKeyframeSidecar[T](defaultValue)
	tc.tree.ForEach(func(ctx HeaderContext) { sc.replayEntry(ctx) })
	slot := tc.sidecars.register(sc)
	return Handle[T]{tc: tc, store: sc, slot: slot}
}

// RemoveSidecar deregisters the sidecar behind h: it stops receiving
// AddSync events and its storage is released once no caller retains the
// handle. Reads and writes through a removed handle are
// undefined; callers drop the handle after removal.
func RemoveSidecar[T any](h Handle[T]) {
	g := h.tc.structureMu.LockGuard(nil)
	defer g.Unlock()
	h.tc.sidecars.deregister(h.slot)
}

// Get resolves (height, hash) against tc's topology and reads the value a
// registered sidecar holds there. It holds structureMu shared for the
// whole access, so the resolved locator and the sidecar's mirrored shape
// come from the same topology snapshot, and metadataMu shared for the
// payload read, acquired in that order.
func Get[T any](h Handle[T], height int32, hash chainhash.Hash) (T, bool) {
	var zero T
	sg := h.tc.structureMu.RLockGuard()
	defer sg.Unlock()
	loc, ok := h.tc.makeLocatorLocked(height, hash)
	if !ok {
		return zero, false
	}
	mg := h.tc.metadataMu.RLockGuard()
	defer mg.Unlock()
	return h.store.get(loc)
}

// Set resolves (height, hash) against tc's topology and overwrites the
// value a registered sidecar holds there, under shared structureMu and
// exclusive metadataMu, acquired in that order. Panics with
// ErrLocatorUnresolved if the Key no longer resolves.
func Set[T any](h Handle[T], height int32, hash chainhash.Hash, value T) {
	sg := h.tc.structureMu.RLockGuard()
	defer sg.Unlock()
	loc, ok := h.tc.makeLocatorLocked(height, hash)
	if !ok {
		panic(fmt.Sprintf("%v: height=%d hash=%s", ErrLocatorUnresolved, height, hash))
	}
	mg := h.tc.metadataMu.LockGuard(nil)
	defer mg.Unlock()
	h.store.set(loc, value)
}

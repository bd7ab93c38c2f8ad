// Package forest implements HashedForest: an intrusive
// parent-pointer multiway tree of content-hash-addressed nodes. It backs
// every non-canonical branch a ChainTree holds near its tip.
//
// Nodes are addressed by plain *Node pointers rather than a generational
// arena index: the garbage collector removes the dangling-pointer hazard
// an arena would otherwise guard against (a retained *Node past an Erase
// simply keeps that detached subtree alive), and every caller that could
// retain one is required to hold the owning ChainTree's structure latch
// for the pointer's entire lifetime. See DESIGN.md.
package forest

import "github.com/hornetd/timechain/pkg/chainhash"

// Hashable is the constraint on a forest payload: it must expose the
// content hash used as its forest-wide unique key.
type Hashable interface {
	HashKey() chainhash.Hash
}

// Node is one element of the forest. It is a root iff parent == nil.
type Node[T Hashable] struct {
	parent   *Node[T]
	children []*Node[T]
	payload  T

	// prev/next thread every node into a single insertion-order list so
	// ForwardFromOldest can iterate while Erase runs concurrently with it
	// (within the same goroutine).
	prev, next *Node[T]
}

// Parent returns the node's parent, or nil if it is a root.
func (n *Node[T]) Parent() *Node[T] { return n.parent }

// Children returns the node's direct children. The returned slice is
// owned by the forest; callers must not mutate it.
func (n *Node[T]) Children() []*Node[T] { return n.children }

// Payload returns the node's stored payload.
func (n *Node[T]) Payload() T { return n.payload }

// SetPayload overwrites the node's stored payload in place. Used by
// sidecar Set operations that mutate a forest node's value without
// touching topology.
func (n *Node[T]) SetPayload(p T) { n.payload = p }

// Forest is a collection of Nodes addressable by content hash, forming a
// multiway forest via parent pointers.
type Forest[T Hashable] struct {
	byHash map[chainhash.Hash]*Node[T]
	head   *Node[T]
	tail   *Node[T]
}

// New constructs an empty Forest.
func New[T Hashable]() *Forest[T] {
	return &Forest[T]{byHash: make(map[chainhash.Hash]*Node[T])}
}

// Len returns the number of nodes currently in the forest.
func (f *Forest[T]) Len() int { return len(f.byHash) }

// AddChild appends a new node under parent (nil for a root), keyed by
// payload.HashKey(). Panics if that hash is already present: duplicate
// insertion is a programmer error.
func (f *Forest[T]) AddChild(parent *Node[T], payload T) *Node[T] {
	h := payload.HashKey()
	if _, exists := f.byHash[h]; exists {
		panic("forest: duplicate hash " + h.String())
	}
	n := &Node[T]{parent: parent, payload: payload}
	f.byHash[h] = n
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	f.pushBack(n)
	return n
}

// Find returns the unique node with the given hash, if any.
func (f *Forest[T]) Find(hash chainhash.Hash) (*Node[T], bool) {
	n, ok := f.byHash[hash]
	return n, ok
}

// IsLeaf reports whether n has no children.
func (f *Forest[T]) IsLeaf(n *Node[T]) bool { return len(n.children) == 0 }

// Erase removes n, promoting each of its children to a root. Returns the
// node that followed n in insertion order before removal, so callers
// iterating ForwardFromOldest can resume safely.
func (f *Forest[T]) Erase(n *Node[T]) *Node[T] {
	next := n.next

	for _, c := range n.children {
		c.parent = nil
	}
	if n.parent != nil {
		removeChild(n.parent, n)
	}
	delete(f.byHash, n.payload.HashKey())
	f.unlink(n)
	return next
}

// EraseChain walks parent-wards from leaf, deleting each node on the way
// to its forest root. Because Erase orphans a deleted node's children,
// walking upward and erasing each ancestor in turn promotes that
// ancestor's other children (the chain's non-chain siblings) to roots
// exactly once. Panics if leaf is not actually a leaf.
func (f *Forest[T]) EraseChain(leaf *Node[T]) {
	if !f.IsLeaf(leaf) {
		panic("forest: EraseChain requires a leaf")
	}
	for n := leaf; n != nil; {
		parent := n.parent
		f.Erase(n)
		n = parent
	}
}

// UpIterator walks from a starting node toward the forest root.
type UpIterator[T Hashable] struct {
	cur *Node[T]
}

// UpFromNode returns a lazy iterator producing node, its parent,
// grandparent, and so on until a nil-parent root has been yielded.
func (f *Forest[T]) UpFromNode(n *Node[T]) *UpIterator[T] {
	return &UpIterator[T]{cur: n}
}

// Valid reports whether the iterator still has a node to yield.
func (it *UpIterator[T]) Valid() bool { return it.cur != nil }

// Node returns the current node.
func (it *UpIterator[T]) Node() *Node[T] { return it.cur }

// Next advances to the current node's parent.
func (it *UpIterator[T]) Next() { it.cur = it.cur.parent }

// Iterator walks every node in insertion order, oldest first. It remains
// valid if the caller erases the node it is currently positioned on.
type Iterator[T Hashable] struct {
	cur, lookahead *Node[T]
}

// ForwardFromOldest returns an iterator over every node, oldest insertion
// first. Erase may be called on the node currently yielded by the
// iterator during traversal; the iterator pre-fetches the next pointer
// before the caller has a chance to invalidate it.
func (f *Forest[T]) ForwardFromOldest() *Iterator[T] {
	it := &Iterator[T]{cur: f.head}
	if it.cur != nil {
		it.lookahead = it.cur.next
	}
	return it
}

// Valid reports whether the iterator has a current node.
func (it *Iterator[T]) Valid() bool { return it.cur != nil }

// Node returns the current node.
func (it *Iterator[T]) Node() *Node[T] { return it.cur }

// Advance moves to the next node in insertion order.
func (it *Iterator[T]) Advance() {
	it.cur = it.lookahead
	if it.cur != nil {
		it.lookahead = it.cur.next
	} else {
		it.lookahead = nil
	}
}

func (f *Forest[T]) pushBack(n *Node[T]) {
	if f.tail == nil {
		f.head, f.tail = n, n
		return
	}
	n.prev = f.tail
	f.tail.next = n
	f.tail = n
}

func (f *Forest[T]) unlink(n *Node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		f.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		f.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func removeChild[T Hashable](parent, child *Node[T]) {
	for i, c := range parent.children {
		if c == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

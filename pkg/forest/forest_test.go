package forest

import (
	"testing"

	"github.com/hornetd/timechain/pkg/chainhash"
)

type payload struct {
	hash chainhash.Hash
}

func (p payload) HashKey() chainhash.Hash { return p.hash }

func h(b byte) chainhash.Hash {
	var hh chainhash.Hash
	hh[0] = b
	return hh
}

func TestAddChildAndFind(t *testing.T) {
	f := New[payload]()
	root := f.AddChild(nil, payload{h(1)})
	child := f.AddChild(root, payload{h(2)})

	if got, ok := f.Find(h(1)); !ok || got != root {
		t.Fatalf("Find(root) = %v, %v", got, ok)
	}
	if got, ok := f.Find(h(2)); !ok || got != child {
		t.Fatalf("Find(child) = %v, %v", got, ok)
	}
	if _, ok := f.Find(h(3)); ok {
		t.Fatalf("Find should miss unknown hash")
	}
	if !f.IsLeaf(child) {
		t.Fatalf("child should be a leaf")
	}
	if f.IsLeaf(root) {
		t.Fatalf("root has a child, should not be a leaf")
	}
}

func TestAddChildDuplicateHashPanics(t *testing.T) {
	f := New[payload]()
	f.AddChild(nil, payload{h(1)})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate hash insert")
		}
	}()
	f.AddChild(nil, payload{h(1)})
}

func TestEraseOrphansChildren(t *testing.T) {
	f := New[payload]()
	root := f.AddChild(nil, payload{h(1)})
	child := f.AddChild(root, payload{h(2)})
	grandchild := f.AddChild(child, payload{h(3)})

	f.Erase(child)

	if _, ok := f.Find(h(2)); ok {
		t.Fatalf("erased node should no longer be findable")
	}
	if grandchild.Parent() != nil {
		t.Fatalf("grandchild should be orphaned to root")
	}
	if len(root.Children()) != 0 {
		t.Fatalf("root should no longer list the erased child")
	}
}

func TestEraseChainRequiresLeaf(t *testing.T) {
	f := New[payload]()
	root := f.AddChild(nil, payload{h(1)})
	f.AddChild(root, payload{h(2)})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic erasing a non-leaf via EraseChain")
		}
	}()
	f.EraseChain(root)
}

func TestEraseChainPromotesSiblings(t *testing.T) {
	f := New[payload]()
	root := f.AddChild(nil, payload{h(1)})
	a := f.AddChild(root, payload{h(2)})
	sibling := f.AddChild(root, payload{h(3)})
	leaf := f.AddChild(a, payload{h(4)})

	f.EraseChain(leaf)

	if _, ok := f.Find(h(4)); ok {
		t.Fatalf("leaf should be erased")
	}
	if _, ok := f.Find(h(2)); ok {
		t.Fatalf("chain node a should be erased")
	}
	if _, ok := f.Find(h(1)); ok {
		t.Fatalf("root should be erased")
	}
	if sibling.Parent() != nil {
		t.Fatalf("sibling should have been promoted to root")
	}
	if _, ok := f.Find(h(3)); !ok {
		t.Fatalf("sibling should still be present")
	}
}

func TestUpFromNode(t *testing.T) {
	f := New[payload]()
	root := f.AddChild(nil, payload{h(1)})
	mid := f.AddChild(root, payload{h(2)})
	leaf := f.AddChild(mid, payload{h(3)})

	var seen []chainhash.Hash
	for it := f.UpFromNode(leaf); it.Valid(); it.Next() {
		seen = append(seen, it.Node().Payload().hash)
	}
	want := []chainhash.Hash{h(3), h(2), h(1)}
	if len(seen) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("position %d: got %v want %v", i, seen[i], want[i])
		}
	}
}

func TestForwardFromOldestSurvivesEraseOfCurrent(t *testing.T) {
	f := New[payload]()
	n1 := f.AddChild(nil, payload{h(1)})
	n2 := f.AddChild(nil, payload{h(2)})
	n3 := f.AddChild(nil, payload{h(3)})
	_ = n1
	_ = n3

	var seen []chainhash.Hash
	it := f.ForwardFromOldest()
	for it.Valid() {
		n := it.Node()
		if n == n2 {
			f.Erase(n2)
			it.Advance()
			continue
		}
		seen = append(seen, n.Payload().hash)
		it.Advance()
	}

	want := []chainhash.Hash{h(1), h(3)}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("position %d: got %v want %v", i, seen[i], want[i])
		}
	}
}

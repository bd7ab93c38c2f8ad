package chaintree

import (
	"testing"

	"github.com/hornetd/timechain/pkg/chainhash"
)

// testEntry is a minimal self-describing Entry used to exercise ChainTree
// independent of any specific domain payload (header, sidecar value, ...).
type testEntry struct {
	hash       chainhash.Hash
	parentHash chainhash.Hash
	height     int32
	work       int64
}

func (e testEntry) EntryHash() chainhash.Hash       { return e.hash }
func (e testEntry) EntryHeight() int32              { return e.height }
func (e testEntry) EntryParentHash() chainhash.Hash { return e.parentHash }

func hh(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func mustAdd(t *testing.T, tree *ChainTree[testEntry], parent *AncestorIterator[testEntry], e testEntry) *AncestorIterator[testEntry] {
	t.Helper()
	it, err := tree.Add(parent, e)
	if err != nil {
		t.Fatalf("Add(%v) failed: %v", e, err)
	}
	return it
}

func TestAddGenesisRequiresInvalidParent(t *testing.T) {
	tree := New[testEntry]()
	genesis := testEntry{hash: hh(0xAA), height: 0}

	if _, err := tree.Add(tree.chainIteratorAt(0), genesis); err == nil {
		t.Fatalf("expected error adding genesis with a non-invalid parent")
	}

	it := mustAdd(t, tree, tree.InvalidIterator(), genesis)
	if !it.InChain() || it.Height() != 0 {
		t.Fatalf("genesis should land in-chain at height 0")
	}
}

// TestLinearGrowth is scenario S1: three headers inserted in a straight
// line produce a three-element chain with an empty forest.
func TestLinearGrowth(t *testing.T) {
	tree := New[testEntry]()
	gen := mustAdd(t, tree, tree.InvalidIterator(), testEntry{hash: hh(0xAA), height: 0, work: 1})
	second := mustAdd(t, tree, gen, testEntry{hash: hh(0xBB), parentHash: hh(0xAA), height: 1, work: 3})
	third := mustAdd(t, tree, second, testEntry{hash: hh(0xCC), parentHash: hh(0xBB), height: 2, work: 6})

	if tree.Len() != 3 {
		t.Fatalf("chain length = %d, want 3", tree.Len())
	}
	tip := tree.ChainTip()
	ctx, _ := tip.Data()
	if ctx.hash != hh(0xCC) {
		t.Fatalf("tip hash = %v, want %v", ctx.hash, hh(0xCC))
	}
	if !third.InChain() {
		t.Fatalf("third insert should resolve in-chain")
	}
}

// TestRejectedForkStaysInForest is scenario S2: a lower-work sibling of
// the tip is recorded in the forest without disturbing the chain.
func TestRejectedForkStaysInForest(t *testing.T) {
	tree := New[testEntry]()
	gen := mustAdd(t, tree, tree.InvalidIterator(), testEntry{hash: hh(0xAA), height: 0, work: 1})
	second, err := tree.BeginChain(0)
	if err != nil {
		t.Fatal(err)
	}
	_ = gen
	second = mustAdd(t, tree, second, testEntry{hash: hh(0xBB), parentHash: hh(0xAA), height: 1, work: 3})
	mustAdd(t, tree, second, testEntry{hash: hh(0xCC), parentHash: hh(0xBB), height: 2, work: 6})

	parentAtHeight1, err := tree.BeginChain(1)
	if err != nil {
		t.Fatal(err)
	}
	forkIt := mustAdd(t, tree, parentAtHeight1, testEntry{hash: hh(0xDD), parentHash: hh(0xBB), height: 2, work: 5})
	if !forkIt.InForest() {
		t.Fatalf("competing same-height block should land in the forest")
	}

	tip := tree.ChainTip()
	ctx, _ := tip.Data()
	if ctx.hash != hh(0xCC) {
		t.Fatalf("tip should remain 0xCC, got %v", ctx.hash)
	}
	if _, _, ok := tree.FindInTipOrForest(hh(0xDD)); !ok {
		t.Fatalf("forked block should be findable in the forest")
	}
}

// TestPromoteBranchReorg is scenario S3: a forest branch whose accumulated
// work exceeds the chain tip is promoted, demoting the former tip.
func TestPromoteBranchReorg(t *testing.T) {
	tree := New[testEntry]()
	mustAdd(t, tree, tree.InvalidIterator(), testEntry{hash: hh(0xAA), height: 0, work: 1})
	p1, _ := tree.BeginChain(0)
	mustAdd(t, tree, p1, testEntry{hash: hh(0xBB), parentHash: hh(0xAA), height: 1, work: 3})
	p2, _ := tree.BeginChain(1)
	mustAdd(t, tree, p2, testEntry{hash: hh(0xCC), parentHash: hh(0xBB), height: 2, work: 6})

	parentAtHeight1, _ := tree.BeginChain(1)
	forkIt := mustAdd(t, tree, parentAtHeight1, testEntry{hash: hh(0xDD), parentHash: hh(0xBB), height: 2, work: 5})

	grandchild := mustAdd(t, tree, forkIt, testEntry{hash: hh(0xEE), parentHash: hh(0xDD), height: 3, work: 8})
	if !grandchild.InForest() {
		t.Fatalf("new tip candidate should still be in the forest before promotion")
	}

	if err := tree.PromoteBranch(grandchild, []chainhash.Hash{hh(0xCC)}, nil); err != nil {
		t.Fatalf("PromoteBranch failed: %v", err)
	}

	if tree.Len() != 4 {
		t.Fatalf("chain length after reorg = %d, want 4", tree.Len())
	}
	chainAt2, err := tree.BeginChain(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx, _ := chainAt2.Data()
	if ctx.hash != hh(0xDD) {
		t.Fatalf("chain[2] = %v, want 0xDD", ctx.hash)
	}
	chainAt3, err := tree.BeginChain(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx3, _ := chainAt3.Data()
	if ctx3.hash != hh(0xEE) {
		t.Fatalf("chain[3] = %v, want 0xEE", ctx3.hash)
	}
	if _, _, ok := tree.FindInTipOrForest(hh(0xCC)); !ok {
		t.Fatalf("displaced former tip 0xCC should now live in the forest")
	}
}

func TestPromoteBranchAcceptsEqualWorkStructurally(t *testing.T) {
	tree := New[testEntry]()
	mustAdd(t, tree, tree.InvalidIterator(), testEntry{hash: hh(0xAA), height: 0, work: 1})
	p1, _ := tree.BeginChain(0)
	mustAdd(t, tree, p1, testEntry{hash: hh(0xBB), parentHash: hh(0xAA), height: 1, work: 2})

	parentAtGenesis, _ := tree.BeginChain(0)
	forkIt := mustAdd(t, tree, parentAtGenesis, testEntry{hash: hh(0xCC), parentHash: hh(0xAA), height: 1, work: 2})

	// Equal total_work: the caller (HeaderTimechain) is responsible for
	// not invoking PromoteBranch at all in this case; ChainTree itself
	// does not second-guess total_work, only structural validity, so this
	// call succeeds structurally. The strict greater-than tie-break lives
	// in pkg/timechain's add path.
	if err := tree.PromoteBranch(forkIt, []chainhash.Hash{hh(0xBB)}, nil); err != nil {
		t.Fatalf("structurally valid promotion should not fail: %v", err)
	}
}

func TestPruneForestRespectsKeepDepth(t *testing.T) {
	tree := New[testEntry]()
	mustAdd(t, tree, tree.InvalidIterator(), testEntry{hash: hh(0x00), height: 0, work: 1})
	cur, _ := tree.BeginChain(0)
	for i := int32(1); i <= 5; i++ {
		cur = mustAdd(t, tree, cur, testEntry{hash: hh(byte(i)), parentHash: hh(byte(i - 1)), height: i, work: int64(i) + 1})
	}
	// Fork off height 1 (a shallow, now-deep-in-the-past fork).
	parentAt1, _ := tree.BeginChain(1)
	mustAdd(t, tree, parentAt1, testEntry{hash: hh(0xF1), parentHash: hh(1), height: 2, work: 2})

	tree.PruneForest(2) // keep depth 2: chainTip height 5, floor = 3

	if _, ok := tree.ForestNode(hh(0xF1)); ok {
		t.Fatalf("fork rooted below the keep-depth floor should have been pruned")
	}
}

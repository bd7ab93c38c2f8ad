package timechain

import "testing"

// This file exercises the end-to-end growth/fork/reorg scenarios against the
// top-level HeaderTimechain API. S1-S3 are also covered structurally at
// the ChainTree level in pkg/chaintree/chaintree_test.go; S4-S5 are
// covered at the KeyframeSidecar level in keyframe_sidecar_test.go. S6
// (reader exclusion) lives in pkg/latch/priority_shared_mutex_test.go,
// since it exercises PrioritySharedMutex directly.

// TestScenarioS1LinearGrowth: three headers appended in a straight line
// produce a three-element chain with an empty forest and no sidecar
// surprises.
func TestScenarioS1LinearGrowth(t *testing.T) {
	gen := genesisCtx()
	tc := New(gen)
	handle := AddSidecar[int](tc, 0)

	h1 := extend(gen, th(0x01), 2, 1001)
	mustAddTC(t, tc, h1)
	h2 := extend(h1, th(0x02), 2, 1002)
	res := mustAddTC(t, tc, h2)

	if len(res.MovedFromChain) != 0 {
		t.Fatalf("linear growth should never demote anything, got %v", res.MovedFromChain)
	}
	if tc.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tc.Len())
	}
	if v, ok := Get(handle, 2, th(0x02)); !ok || v != 0 {
		t.Fatalf("sidecar should have replayed the new tip with its default value, got %v, %v", v, ok)
	}
}

// TestScenarioS2RejectedFork: a same-height sibling of the tip with less
// total work is recorded in the forest without disturbing the chain or
// notifying sidecars of any reorg.
func TestScenarioS2RejectedFork(t *testing.T) {
	gen := genesisCtx()
	tc := New(gen)
	h1 := extend(gen, th(0x11), 3, 1010)
	mustAddTC(t, tc, h1)
	h2 := extend(h1, th(0x12), 3, 1020)
	mustAddTC(t, tc, h2)

	weakFork := extend(h1, th(0x13), 1, 1021) // less work than h2's branch
	res, err := tc.AddWithParent(mustBeginChain(t, tc, 1), weakFork)
	if err != nil {
		t.Fatalf("AddWithParent(weakFork) failed: %v", err)
	}
	if len(res.MovedFromChain) != 0 {
		t.Fatalf("a lower-work sibling must not trigger a reorg, got moved=%v", res.MovedFromChain)
	}
	if !res.Iterator.InForest() {
		t.Fatalf("the rejected fork should land in the forest")
	}
	tip := tc.ChainTip()
	d, _ := tip.Data()
	if d.Hash != th(0x12) {
		t.Fatalf("chain tip should remain 0x12, got %v", d.Hash)
	}
	if _, ok := tc.Search(th(0x13)); !ok {
		t.Fatalf("the rejected fork should still be findable")
	}
}

// TestScenarioS3AcceptedReorg: a forest branch whose cumulative work
// exceeds the tip is promoted, demoting the former tip and notifying every
// registered sidecar of the swap.
func TestScenarioS3AcceptedReorg(t *testing.T) {
	gen := genesisCtx()
	tc := New(gen)
	h1 := extend(gen, th(0x21), 3, 1010)
	mustAddTC(t, tc, h1)
	h2 := extend(h1, th(0x22), 3, 1020)
	mustAddTC(t, tc, h2)

	handle := AddSidecar[string](tc, "unseen")
	Set(handle, 2, th(0x22), "was-tip")

	strongFork := extend(h1, th(0x23), 20, 1021)
	res, err := tc.AddWithParent(mustBeginChain(t, tc, 1), strongFork)
	if err != nil {
		t.Fatalf("AddWithParent(strongFork) failed: %v", err)
	}
	if len(res.MovedFromChain) != 1 || res.MovedFromChain[0] != th(0x22) {
		t.Fatalf("MovedFromChain = %v, want [0x22]", res.MovedFromChain)
	}
	tip := tc.ChainTip()
	d, _ := tip.Data()
	if d.Hash != th(0x23) {
		t.Fatalf("new tip should be 0x23, got %v", d.Hash)
	}
	if v, ok := Get(handle, 2, th(0x22)); !ok || v != "was-tip" {
		t.Fatalf("demoted header's sidecar value should survive the reorg, got %v, %v", v, ok)
	}
}

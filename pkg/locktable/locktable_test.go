package locktable

import "testing"

func TestAcquireSharedCompatible(t *testing.T) {
	lt := New()
	if !lt.Acquire(1, 100, Shared) {
		t.Fatal("first S request should be granted immediately")
	}
	if !lt.Acquire(1, 200, Shared) {
		t.Fatal("second S request should be compatible and granted")
	}
}

func TestExclusiveConflictsWithShared(t *testing.T) {
	lt := New()
	if !lt.Acquire(1, 100, Shared) {
		t.Fatal("S should be granted")
	}
	if lt.Acquire(1, 200, Exclusive) {
		t.Fatal("X from a different transaction should not be granted while S is held")
	}
}

func TestSoleHolderUpgrade(t *testing.T) {
	lt := New()
	if !lt.Acquire(1, 100, Shared) {
		t.Fatal("S should be granted")
	}
	if !lt.Acquire(1, 100, Exclusive) {
		t.Fatal("sole S holder should be able to upgrade to X")
	}
	if !lt.AlreadyHolds(1, 100, Exclusive) {
		t.Fatal("trans should now hold X")
	}
}

func TestUpgradeDeniedWithOtherSharedHolder(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Shared)
	lt.Acquire(1, 200, Shared)
	if lt.Acquire(1, 100, Exclusive) {
		t.Fatal("upgrade must be denied when another transaction also holds S")
	}
}

func TestAlreadyHoldIdempotent(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	if !lt.Acquire(1, 100, Shared) {
		t.Fatal("X holder re-requesting S should be trivially granted")
	}
	if !lt.Acquire(1, 100, Exclusive) {
		t.Fatal("X holder re-requesting X should be trivially granted")
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Shared) // queued
	lt.Acquire(1, 200, Shared) // duplicate, should not double-queue
	if n := lt.item(1).queue.Len(); n != 1 {
		t.Fatalf("queue length after duplicate request = %d; want 1", n)
	}

	lt.ReleaseAll(100)
	lt.TryResolve()
	if !lt.AlreadyHolds(1, 200, Shared) {
		t.Fatal("expected the single queued S request to be granted")
	}
}

func TestTryResolveGrantsInOrder(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	if lt.Acquire(1, 200, Exclusive) {
		t.Fatal("second X should be queued")
	}
	if lt.Acquire(1, 300, Exclusive) {
		t.Fatal("third X should be queued")
	}

	lt.ReleaseAll(100)
	lt.TryResolve()
	if !lt.AlreadyHolds(1, 200, Exclusive) {
		t.Fatal("200 should now hold X")
	}
	if lt.AlreadyHolds(1, 300, Exclusive) {
		t.Fatal("300 must still be queued behind 200")
	}

	lt.ReleaseAll(200)
	lt.TryResolve()
	if !lt.AlreadyHolds(1, 300, Exclusive) {
		t.Fatal("300 should now hold X")
	}
}

func TestReleaseAllClearsQueueEntries(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Exclusive) // queued

	lt.ReleaseAll(200)
	if lt.QueuedForTrans(200) {
		t.Fatal("200's queued request should have been removed")
	}
}

func TestWaitsForSubgraphHolderEdge(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Shared) // queued, conflicts with X holder

	graph := lt.WaitsForSubgraph()
	if !graph[200][100] {
		t.Fatalf("expected 200 -> 100 edge, got %+v", graph)
	}
}

func TestWaitsForSubgraphQueueOrderEdge(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Exclusive) // queued
	lt.Acquire(1, 300, Exclusive) // queued behind 200

	graph := lt.WaitsForSubgraph()
	if !graph[300][100] {
		t.Errorf("expected 300 -> 100 (holder edge), got %+v", graph)
	}
	if !graph[300][200] {
		t.Errorf("expected 300 -> 200 (queue-order edge), got %+v", graph)
	}
}

func TestWaitsForSubgraphSharedQueueEntriesDontConflict(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Shared) // queued
	lt.Acquire(1, 300, Shared) // queued

	graph := lt.WaitsForSubgraph()
	if graph[300][200] {
		t.Fatalf("two queued S requests must not wait on each other: %+v", graph)
	}
	if !graph[300][100] || !graph[200][100] {
		t.Fatalf("both should still wait on the X holder: %+v", graph)
	}
}

func TestResidueForTransScopedToHolders(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Acquire(1, 200, Exclusive) // queued, not held

	if lt.ResidueForTrans(200) {
		t.Fatal("200 only has a queued request, no held lock — must not count as residue")
	}
	if lt.ResidueForTrans(100) {
		t.Fatal("100 holds cleanly with nothing queued for it — must not count as residue")
	}

	// Fabricate the inconsistent state a correct grant path should never
	// produce: a transaction that both holds and is queued on the same
	// item. White-box, package-internal manipulation only a test should do.
	il := lt.item(1)
	il.queue.PushBack(Request{Trans: 100, Mode: Shared})
	if !lt.ResidueForTrans(100) {
		t.Fatal("expected residue once 100 both holds and is queued on the same item")
	}
}

func TestResetClearsEverything(t *testing.T) {
	lt := New()
	lt.Acquire(1, 100, Exclusive)
	lt.Reset()
	if lt.AlreadyHolds(1, 100, Exclusive) {
		t.Fatal("reset should clear all lock state")
	}
}

package datamgr

import (
	"testing"
)

func TestPlacementRule(t *testing.T) {
	if !Hosts(4, 8) {
		t.Fatal("even item x8 should be replicated on every site, including 4")
	}
	if !Hosts(HomeSite(3), 3) {
		t.Fatal("odd item x3's home site should host it")
	}
	other := HomeSite(3) + 1
	if other > SiteCount {
		other = 1
	}
	if Hosts(other, 3) {
		t.Fatalf("non-replicated item x3 should only be hosted at site %d, not %d", HomeSite(3), other)
	}
}

func TestNewSeedsHostedItemsOnly(t *testing.T) {
	site := New(4) // hosts x3 and x13 (home site 4) and every even item
	if !site.Hosts(3) {
		t.Fatal("site 4 should host x3")
	}
	if site.Hosts(5) {
		t.Fatal("site 4 should not host x5 (home site is different)")
	}
	v, ok := site.DumpItem(4)
	if !ok || v != 40 {
		t.Fatalf("DumpItem(4) = %d, %v; want 40, true", v, ok)
	}
}

func TestReadRequiresLock(t *testing.T) {
	site := New(2)
	if _, err := site.Read(1, 2); err == nil {
		t.Fatal("expected unsafe-read error without a lock")
	}
	if !site.GetReadLock(1, 2) {
		t.Fatal("expected read lock to be granted")
	}
	v, err := site.Read(1, 2)
	if err != nil || v != 20 {
		t.Fatalf("Read = %d, %v; want 20, nil", v, err)
	}
}

func TestWriteRequiresExclusiveLock(t *testing.T) {
	site := New(2)
	if err := site.Write(1, 2, 99); err == nil {
		t.Fatal("expected unsafe-write error without X lock")
	}
	if !site.GetWriteLock(1, 2) {
		t.Fatal("expected write lock to be granted")
	}
	if err := site.Write(1, 2, 99); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, err := site.Read(1, 2)
	if err != nil || v != 99 {
		t.Fatalf("Read after write = %d, %v; want 99, nil", v, err)
	}
}

func TestCommitPublishesVersionAndReleasesLocks(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.Write(1, 2, 99)

	if err := site.Commit(1, 5); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, ok := site.DumpItem(2)
	if !ok || v != 99 {
		t.Fatalf("DumpItem(2) = %d, %v; want 99, true", v, ok)
	}

	// Locks released: a different transaction can now acquire X.
	if !site.GetWriteLock(2, 2) {
		t.Fatal("lock should have been released on commit")
	}
}

func TestAbortRestoresWorkingValue(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.Write(1, 2, 99)

	if err := site.Abort(1); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !site.GetReadLock(2, 2) {
		t.Fatal("expected read lock to be available after abort")
	}
	v, err := site.Read(2, 2)
	if err != nil || v != 20 {
		t.Fatalf("Read after abort = %d, %v; want 20, nil", v, err)
	}
}

func TestFailClearsVolatileState(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.Write(1, 2, 99)
	site.Fail()

	if site.IsUp() {
		t.Fatal("site should be down after Fail")
	}
	if _, err := site.Read(1, 2); err == nil {
		t.Fatal("lock table should have been cleared")
	}
	v, ok := site.DumpItem(2)
	if !ok || v != 20 {
		t.Fatalf("versioned store should be unaffected by Fail, got %d, %v", v, ok)
	}
}

func TestRecoverReplicatedItemNonReadable(t *testing.T) {
	site := New(2)
	site.Fail()
	site.Recover(10)

	if !site.IsUp() {
		t.Fatal("site should be up after Recover")
	}
	if site.GetReadLock(1, 2) {
		t.Fatal("replicated item should be non-readable immediately after recovery")
	}
}

func TestRecoverNonReplicatedItemReadable(t *testing.T) {
	site := New(4) // hosts x3, non-replicated
	site.Fail()
	site.Recover(10)

	if !site.GetReadLock(1, 3) {
		t.Fatal("non-replicated item should be readable immediately after recovery")
	}
}

func TestRonlyRespectsLastUpTime(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.Write(1, 2, 50)
	site.Commit(1, 3)

	site.Fail()
	site.Recover(10)

	if _, ok := site.Ronly(2, 3); ok {
		t.Fatal("a version committed before last_up_time must not be served for a replicated item")
	}

	site.GetWriteLock(2, 2)
	site.Write(2, 2, 77)
	site.Commit(2, 12)

	v, ok := site.Ronly(2, 12)
	if !ok || v != 77 {
		t.Fatalf("Ronly after post-recovery commit = %d, %v; want 77, true", v, ok)
	}
}

func TestCommitResolvesQueuedWaiters(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.Write(1, 2, 1)
	if site.GetWriteLock(2, 2) {
		t.Fatal("T2's X request should be queued behind T1")
	}

	if err := site.Commit(1, 5); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !site.GetWriteLock(2, 2) {
		t.Fatal("T2's queued request should have been granted by Commit's try_resolve pass")
	}
}

func TestCommitCleansUpQueueOnlyResidueWithoutError(t *testing.T) {
	site := New(2)
	if !site.GetWriteLock(1, 2) {
		t.Fatal("T1 should acquire X immediately")
	}
	if site.GetWriteLock(5, 2) {
		t.Fatal("T5's X request should be queued behind T1")
	}

	// T5 never actually became a holder (its write op never completed
	// elsewhere), but end(T5) still calls Commit. Commit must not refuse
	// to run on account of T5's dangling queue-only entry, and releasing
	// T5 must clear that entry rather than leave it to be granted later
	// to a transaction id nobody tracks anymore.
	if err := site.Commit(5, 5); err != nil {
		t.Fatalf("Commit of a transaction with only a queued request (never a holder) must not error: %v", err)
	}

	if err := site.Commit(1, 6); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !site.GetWriteLock(6, 2) {
		t.Fatal("T6 should acquire X now that T5's stale queue entry was cleared, not granted to it")
	}
}

func TestWaitsForSubgraph(t *testing.T) {
	site := New(2)
	site.GetWriteLock(1, 2)
	site.GetWriteLock(2, 2) // queued

	graph := site.WaitsForSubgraph()
	if !graph[2][1] {
		t.Fatalf("expected 2 -> 1 edge, got %+v", graph)
	}
}

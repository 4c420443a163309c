package mvstore

import "testing"

func TestSeedAndCurrent(t *testing.T) {
	s := New()
	s.Seed(1, 10)

	if !s.Hosts(1) {
		t.Fatal("expected item 1 to be hosted")
	}
	if s.Hosts(2) {
		t.Fatal("expected item 2 to not be hosted")
	}

	v, ok := s.Current(1)
	if !ok || v != 10 {
		t.Fatalf("Current(1) = %d, %v; want 10, true", v, ok)
	}

	hist := s.History(1)
	if len(hist) != 1 || hist[0].CommitTick != InitialCommitTick {
		t.Fatalf("expected single sentinel version, got %+v", hist)
	}
}

func TestCommitWritePrepends(t *testing.T) {
	s := New()
	s.Seed(2, 20)

	if err := s.CommitWrite(2, 99, 5); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}
	v, _ := s.Current(2)
	if v != 99 {
		t.Fatalf("Current(2) = %d; want 99", v)
	}

	hist := s.History(2)
	if len(hist) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(hist))
	}
	if hist[0].CommitTick != 5 || hist[1].CommitTick != InitialCommitTick {
		t.Fatalf("unexpected version order: %+v", hist)
	}
}

func TestCommitWriteNonMonotonic(t *testing.T) {
	s := New()
	s.Seed(2, 20)
	if err := s.CommitWrite(2, 1, 10); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}
	if err := s.CommitWrite(2, 2, 3); err == nil {
		t.Fatal("expected non-monotonic commit to fail")
	}
}

func TestSnapshotAt(t *testing.T) {
	s := New()
	s.Seed(1, 10)
	_ = s.CommitWrite(1, 101, 5)
	_ = s.CommitWrite(1, 202, 10)

	tests := []struct {
		asOf Tick
		want int
	}{
		{0, 10},
		{5, 101},
		{7, 101},
		{10, 202},
		{100, 202},
	}
	for _, tt := range tests {
		v, ok := s.SnapshotAt(1, tt.asOf, nil)
		if !ok || v != tt.want {
			t.Errorf("SnapshotAt(1, %d) = %d, %v; want %d, true", tt.asOf, v, ok, tt.want)
		}
	}
}

func TestSnapshotAtRespectsMinCommit(t *testing.T) {
	s := New()
	s.Seed(4, 40)
	_ = s.CommitWrite(4, 99, 2)

	minCommit := Tick(5)
	if _, ok := s.SnapshotAt(4, 10, &minCommit); ok {
		t.Fatal("expected snapshot to be refused: version predates minCommit")
	}

	_ = s.CommitWrite(4, 100, 6)
	v, ok := s.SnapshotAt(4, 10, &minCommit)
	if !ok || v != 100 {
		t.Fatalf("SnapshotAt = %d, %v; want 100, true", v, ok)
	}
}

func TestWorkingCopyAndRestore(t *testing.T) {
	s := New()
	s.Seed(3, 30)

	if err := s.SetWorking(3, 77); err != nil {
		t.Fatalf("SetWorking: %v", err)
	}
	w, _ := s.Working(3)
	if w != 77 {
		t.Fatalf("Working(3) = %d; want 77", w)
	}

	if err := s.RestoreWorkingFromHead(3); err != nil {
		t.Fatalf("RestoreWorkingFromHead: %v", err)
	}
	w, _ = s.Working(3)
	if w != 30 {
		t.Fatalf("Working(3) after restore = %d; want 30", w)
	}
}

func TestClearWorking(t *testing.T) {
	s := New()
	s.Seed(5, 50)
	if err := s.ClearWorking(5); err != nil {
		t.Fatalf("ClearWorking: %v", err)
	}
	if _, ok := s.Working(5); ok {
		t.Fatal("expected no working copy after ClearWorking")
	}
	// Current (committed history) must survive.
	if v, ok := s.Current(5); !ok || v != 50 {
		t.Fatalf("Current(5) = %d, %v; want 50, true", v, ok)
	}
}

func TestUnhostedItem(t *testing.T) {
	s := New()
	if s.Hosts(99) {
		t.Fatal("empty store should host nothing")
	}
	if err := s.SetWorking(99, 1); err == nil {
		t.Fatal("expected ErrUnhosted")
	}
	if err := s.CommitWrite(99, 1, 0); err == nil {
		t.Fatal("expected ErrUnhosted")
	}
}

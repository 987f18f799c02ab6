package schedule

import "testing"

// TestSelectLowestEnabled tests the canonical deterministic rule.
func TestSelectLowestEnabled(t *testing.T) {
	s := New(0, 0)
	s.AddThread(1)
	s.AddThread(2)
	s.AddThread(3)

	tid, ok := s.SelectNextThread()
	if !ok || tid != 1 {
		t.Fatalf("SelectNextThread() = %d, %v, want 1, true", tid, ok)
	}

	s.SetDisabled(1)
	tid, _ = s.SelectNextThread()
	if tid != 2 {
		t.Errorf("SelectNextThread() = %d, want 2 after disabling 1", tid)
	}
}

// TestSleepSetSkipped tests that sleeping threads are not selected but
// are not treated as enabled either.
func TestSleepSetSkipped(t *testing.T) {
	s := New(0, 0)
	s.AddThread(1)
	s.AddThread(2)

	s.AddSleep(1)
	tid, ok := s.SelectNextThread()
	if !ok || tid != 2 {
		t.Fatalf("SelectNextThread() = %d, %v, want 2, true", tid, ok)
	}
	if s.IsEnabled(1) {
		t.Error("sleeping thread reported enabled")
	}
	if s.SleepSetEmpty() {
		t.Error("SleepSetEmpty() = true with thread 1 asleep")
	}

	s.RemoveSleep(1)
	if !s.IsEnabled(1) {
		t.Error("woken thread not enabled")
	}
}

// TestNoThreadEnabled tests termination detection.
func TestNoThreadEnabled(t *testing.T) {
	s := New(0, 0)
	s.AddThread(1)
	s.SetDisabled(1)

	if _, ok := s.SelectNextThread(); ok {
		t.Error("SelectNextThread succeeded with nothing enabled")
	}
	if s.AnyEnabled() {
		t.Error("AnyEnabled() = true")
	}
	if !s.AnyLive() {
		t.Error("blocked thread should still be live (deadlock, not completion)")
	}

	s.ThreadCompleted(1)
	if s.AnyLive() {
		t.Error("AnyLive() = true after completion")
	}
}

// TestFairnessForcesStarvedThread tests the starvation throttle: with
// fairwindow set, a thread enabled for enabledcount consecutive
// decisions without running is selected ahead of lower ids.
func TestFairnessForcesStarvedThread(t *testing.T) {
	s := New(8, 3)
	s.AddThread(1)
	s.AddThread(2)

	// Thread 1 wins the first three decisions; thread 2's streak grows.
	for i := 0; i < 3; i++ {
		tid, _ := s.SelectNextThread()
		if tid != 1 {
			t.Fatalf("decision %d picked %d, want 1", i, tid)
		}
	}
	// Streak of thread 2 reached enabledcount: it must be forced.
	tid, _ := s.SelectNextThread()
	if tid != 2 {
		t.Errorf("starved thread not forced: got %d, want 2", tid)
	}
	// Running reset its streak; thread 1 wins again.
	tid, _ = s.SelectNextThread()
	if tid != 1 {
		t.Errorf("after forcing, got %d, want 1", tid)
	}
}

// TestStreakResetOnDisable tests the documented reset policy.
func TestStreakResetOnDisable(t *testing.T) {
	s := New(8, 2)
	s.AddThread(1)
	s.AddThread(2)

	s.SelectNextThread() // 1 runs, streak[2]=1
	s.SetDisabled(2)     // reset
	s.SetEnabled(2)
	s.SelectNextThread() // 1 runs, streak[2]=1 again
	tid, _ := s.SelectNextThread()
	if tid != 1 {
		t.Errorf("got %d, want 1; streak should have reset on disable", tid)
	}
}

// TestEnabledSnapshot tests the per-node enabled array.
func TestEnabledSnapshot(t *testing.T) {
	s := New(0, 0)
	s.AddThread(1)
	s.AddThread(2)
	s.AddThread(3)
	s.SetDisabled(2)
	s.AddSleep(3)

	snap := s.EnabledSnapshot()
	want := []bool{false, true, false, false}
	for tid, w := range want {
		if snap[tid] != w {
			t.Errorf("snapshot[%d] = %v, want %v", tid, snap[tid], w)
		}
	}
}

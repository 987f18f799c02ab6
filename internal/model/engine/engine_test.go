package engine

import (
	"testing"

	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/config"
)

// TestSingleThreadedExecution tests the minimal init/read round trip
// and that a choice-free program explores exactly one execution.
func TestSingleThreadedExecution(t *testing.T) {
	e := New(config.Default())

	var got uint64
	e.RunExecution(func() {
		loc := e.NewLocation()
		e.Perform(action.AtomicInit, action.Relaxed, loc, 7)
		got = e.Perform(action.AtomicRead, action.Relaxed, loc, 0)
	})

	if got != 7 {
		t.Errorf("read = %d, want 7", got)
	}
	if e.LastOutcome() != OutcomeComplete {
		t.Errorf("outcome = %v, want complete", e.LastOutcome())
	}
	if e.NextExecution() {
		t.Error("choice-free program reported unexplored alternatives")
	}
	if s := e.Stats(); s.NumTotal != 1 || s.NumComplete != 1 {
		t.Errorf("stats = %+v, want one complete execution", s)
	}
}

// TestProgramOrderValue tests that a same-thread read observes the
// latest program-order store, never an older one.
func TestProgramOrderValue(t *testing.T) {
	e := New(config.Default())

	var got uint64
	e.RunExecution(func() {
		loc := e.NewLocation()
		e.Perform(action.AtomicInit, action.Relaxed, loc, 1)
		e.Perform(action.AtomicWrite, action.Relaxed, loc, 2)
		got = e.Perform(action.AtomicRead, action.Relaxed, loc, 0)
	})
	if e.NextExecution() {
		t.Fatal("same-thread program must have no alternatives")
	}

	if got != 2 {
		t.Errorf("read = %d, want 2 (older store must be hidden)", got)
	}
}

// TestConflictingWritesExploreBothOrders tests that two unsynchronized
// writers produce more than one execution via backtracking.
func TestConflictingWritesExploreBothOrders(t *testing.T) {
	e := New(config.Default())

	prog := func() {
		loc := e.NewLocation()
		e.Perform(action.AtomicInit, action.Relaxed, loc, 0)
		e.Spawn(func() {
			e.Perform(action.AtomicWrite, action.Relaxed, loc, 1)
		})
		e.Spawn(func() {
			e.Perform(action.AtomicWrite, action.Relaxed, loc, 2)
		})
	}

	e.RunExecution(prog)
	for e.NextExecution() {
		e.RunExecution(prog)
	}

	if s := e.Stats(); s.NumTotal < 2 {
		t.Errorf("stats = %+v, want at least two executions", s)
	}
	if e.FoundBugs() {
		t.Error("atomic writes reported a bug")
	}
}

// TestBoundStopsExecution tests that the per-execution bound cuts an
// endless yield loop without reporting a bug.
func TestBoundStopsExecution(t *testing.T) {
	p := config.Default()
	p.Bound = 32
	e := New(p)

	e.RunExecution(func() {
		for {
			e.Perform(action.ThreadYield, action.Relaxed, action.LocNone, 0)
		}
	})

	if s := e.Stats(); s.NumTotal != 1 {
		t.Errorf("stats = %+v, want one bounded execution", s)
	}
	if e.FoundBugs() {
		t.Error("bounded execution reported a bug")
	}
}

// TestDeadlockDetection tests blocked-with-nothing-enabled
// classification at the engine level.
func TestDeadlockDetection(t *testing.T) {
	e := New(config.Default())

	prog := func() {
		a := e.NewLocation()
		b := e.NewLocation()
		e.Spawn(func() {
			e.Perform(action.MutexLock, action.Acquire, a, 0)
			e.Perform(action.MutexLock, action.Acquire, b, 0)
			e.Perform(action.MutexUnlock, action.Release, b, 0)
			e.Perform(action.MutexUnlock, action.Release, a, 0)
		})
		e.Spawn(func() {
			e.Perform(action.MutexLock, action.Acquire, b, 0)
			e.Perform(action.MutexLock, action.Acquire, a, 0)
			e.Perform(action.MutexUnlock, action.Release, a, 0)
			e.Perform(action.MutexUnlock, action.Release, b, 0)
		})
	}

	e.RunExecution(prog)
	for e.NextExecution() {
		e.RunExecution(prog)
	}

	if !e.FoundBugs() {
		t.Fatal("lock-order inversion not reported")
	}
	bugs, trace := e.FirstBugReport()
	foundDeadlock := false
	for _, b := range bugs {
		if b.Kind == BugDeadlock {
			foundDeadlock = true
		}
	}
	if !foundDeadlock {
		t.Errorf("first bug report = %v, want a deadlock", bugs)
	}
	if len(trace) == 0 {
		t.Error("buggy execution carries no trace")
	}
}

// TestJoinSynchronizes tests that join absorbs the target's clock: the
// parent's read after join must see the child's store, and only it.
func TestJoinSynchronizes(t *testing.T) {
	e := New(config.Default())

	var got uint64
	prog := func() {
		loc := e.NewLocation()
		e.Perform(action.AtomicInit, action.Relaxed, loc, 0)
		child := e.Spawn(func() {
			e.Perform(action.AtomicWrite, action.Relaxed, loc, 9)
		})
		e.Perform(action.ThreadJoin, action.Relaxed, action.LocNone, uint64(child))
		got = e.Perform(action.AtomicRead, action.Relaxed, loc, 0)
		if got != 9 {
			t.Errorf("post-join read = %d, want 9", got)
		}
	}

	e.RunExecution(prog)
	for e.NextExecution() {
		e.RunExecution(prog)
	}
	if e.FoundBugs() {
		t.Error("join program reported bugs")
	}
}

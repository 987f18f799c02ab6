package checker_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/androm3da/model-checker/checker"
)

// testParams keeps exploration small and fast: a low recency cap cuts
// spin-loop tails, and the bound is a backstop against runaways.
func testParams() checker.Params {
	p := checker.DefaultParams()
	p.MaxReads = 5
	p.Bound = 20000
	return p
}

// TestStoreBuffering explores the SB litmus test. Release/acquire
// permits (0,1), (1,0), (1,1) — and, because there is no seq_cst
// order, the relaxed (0,0) outcome as well. All must be enumerated and
// nothing else.
func TestStoreBuffering(t *testing.T) {
	var r1, r2 uint64
	prog := func(env *checker.Env) {
		x := env.NewAtomic()
		y := env.NewAtomic()
		x.Init(0)
		y.Init(0)
		t1 := env.Spawn(func() {
			x.Store(1, checker.Release)
			r1 = y.Load(checker.Acquire)
		})
		t2 := env.Spawn(func() {
			y.Store(1, checker.Release)
			r2 = x.Load(checker.Acquire)
		})
		env.Join(t1)
		env.Join(t2)
	}

	c := checker.New(testParams(), prog)
	outcomes := make(map[string]bool)
	c.OnComplete(func() {
		outcomes[fmt.Sprintf("%d,%d", r1, r2)] = true
	})
	res := c.Run()

	require.True(t, res.BugFree(), "store buffering must not report bugs: %v", res.Bugs)
	require.GreaterOrEqual(t, res.Stats.NumComplete, 3)
	for _, want := range []string{"0,1", "1,0", "1,1"} {
		require.True(t, outcomes[want], "missing outcome (%s); got %v", want, outcomes)
	}
	for o := range outcomes {
		require.Contains(t, []string{"0,0", "0,1", "1,0", "1,1"}, o,
			"impossible outcome enumerated")
	}
}

// TestMessagePassing checks that release/acquire publication makes the
// relaxed data visible: the assertion must hold in every feasible
// execution.
func TestMessagePassing(t *testing.T) {
	prog := func(env *checker.Env) {
		data := env.NewVar()
		flag := env.NewAtomic()
		flag.Init(0)
		t1 := env.Spawn(func() {
			data.Store(42)
			flag.Store(1, checker.Release)
		})
		t2 := env.Spawn(func() {
			for flag.Load(checker.Acquire) != 1 {
				env.Yield()
			}
			env.Assert(data.Load() == 42, "stale data after acquire")
		})
		env.Join(t1)
		env.Join(t2)
	}

	res := checker.New(testParams(), prog).Run()
	require.True(t, res.BugFree(), "message passing reported bugs: %v", res.Bugs)
	require.GreaterOrEqual(t, res.Stats.NumComplete, 1)
}

// TestRMWChain runs three concurrent fetch-adds: every complete
// execution must total exactly 3 (RMW atomicity forbids lost updates).
func TestRMWChain(t *testing.T) {
	var final uint64
	prog := func(env *checker.Env) {
		counter := env.NewAtomic()
		counter.Init(0)
		var tids []int
		for i := 0; i < 3; i++ {
			tids = append(tids, env.Spawn(func() {
				counter.FetchAdd(1, checker.AcqRel)
			}))
		}
		for _, tid := range tids {
			env.Join(tid)
		}
		final = counter.Load(checker.Acquire)
	}

	c := checker.New(testParams(), prog)
	sawFinal := make(map[uint64]bool)
	c.OnComplete(func() { sawFinal[final] = true })
	res := c.Run()

	require.True(t, res.BugFree(), "rmw chain reported bugs: %v", res.Bugs)
	require.GreaterOrEqual(t, res.Stats.NumComplete, 1)
	require.Equal(t, map[uint64]bool{3: true}, sawFinal,
		"every execution must end with counter 3")
}

// TestFutureValue checks the promise machinery: the relaxed load must,
// in some execution, observe the other thread's later relaxed store.
func TestFutureValue(t *testing.T) {
	var r uint64
	prog := func(env *checker.Env) {
		x := env.NewAtomic()
		x.Init(0)
		t1 := env.Spawn(func() {
			r = x.Load(checker.Relaxed)
		})
		t2 := env.Spawn(func() {
			x.Store(1, checker.Relaxed)
		})
		env.Join(t1)
		env.Join(t2)
	}

	c := checker.New(testParams(), prog)
	saw := make(map[uint64]bool)
	c.OnComplete(func() { saw[r] = true })
	res := c.Run()

	require.True(t, res.BugFree(), "future value reported bugs: %v", res.Bugs)
	require.True(t, saw[0], "plain past read missing")
	require.True(t, saw[1], "future-value read missing; promises not explored")
}

// TestPromiseFailure checks that a speculation whose justifying write
// never appears is discarded as infeasible, not reported as a bug.
func TestPromiseFailure(t *testing.T) {
	prog := func(env *checker.Env) {
		x := env.NewAtomic()
		y := env.NewAtomic()
		x.Init(0)
		y.Init(0)
		t1 := env.Spawn(func() {
			_ = x.Load(checker.Relaxed)
			y.Store(1, checker.Relaxed)
		})
		t2 := env.Spawn(func() {
			// Writes x only when it saw t1's store; in the branch
			// where the promised x-write is speculated but y reads 0,
			// the promise dies unfulfilled.
			if y.Load(checker.Relaxed) == 1 {
				x.Store(1, checker.Relaxed)
			}
		})
		env.Join(t1)
		env.Join(t2)
	}

	res := checker.New(testParams(), prog).Run()
	require.True(t, res.BugFree(), "promise failure must be soft: %v", res.Bugs)
	require.Greater(t, res.Stats.NumInfeasible, 0,
		"expected at least one infeasible (failed-promise) execution")
}

// TestDeadlock checks the classic lock-order inversion: at least one
// explored execution must be reported as a deadlock.
func TestDeadlock(t *testing.T) {
	prog := func(env *checker.Env) {
		a := env.NewMutex()
		b := env.NewMutex()
		t1 := env.Spawn(func() {
			a.Lock()
			b.Lock()
			b.Unlock()
			a.Unlock()
		})
		t2 := env.Spawn(func() {
			b.Lock()
			a.Lock()
			a.Unlock()
			b.Unlock()
		})
		env.Join(t1)
		env.Join(t2)
	}

	res := checker.New(testParams(), prog).Run()
	require.False(t, res.BugFree(), "lock-order inversion not caught")
	found := false
	for _, b := range res.Bugs {
		if b.Kind == "deadlock" {
			found = true
		}
	}
	require.True(t, found, "first buggy execution is not a deadlock: %v", res.Bugs)
	require.NotEmpty(t, res.Trace, "buggy execution must carry a trace")
}

// TestDataRace checks that unsynchronized plain accesses are reported.
func TestDataRace(t *testing.T) {
	prog := func(env *checker.Env) {
		v := env.NewVar()
		v.Store(0)
		t1 := env.Spawn(func() { v.Store(v.Load() + 1) })
		t2 := env.Spawn(func() { v.Store(v.Load() + 1) })
		env.Join(t1)
		env.Join(t2)
	}

	res := checker.New(testParams(), prog).Run()
	require.False(t, res.BugFree(), "racy increments not caught")
	found := false
	for _, b := range res.Bugs {
		if b.Kind == "data race" {
			found = true
		}
	}
	require.True(t, found, "expected a data race bug, got %v", res.Bugs)
}

// TestMutexExclusion checks that mutex-protected plain accesses never
// race and both acquisition orders are explored.
func TestMutexExclusion(t *testing.T) {
	var first uint64
	prog := func(env *checker.Env) {
		m := env.NewMutex()
		v := env.NewVar()
		v.Store(0)
		worker := func(id uint64) func() {
			return func() {
				m.Lock()
				if v.Load() == 0 {
					first = id
				}
				v.Store(id)
				m.Unlock()
			}
		}
		t1 := env.Spawn(worker(1))
		t2 := env.Spawn(worker(2))
		env.Join(t1)
		env.Join(t2)
	}

	c := checker.New(testParams(), prog)
	firsts := make(map[uint64]bool)
	c.OnComplete(func() { firsts[first] = true })
	res := c.Run()

	require.True(t, res.BugFree(), "mutex-protected accesses raced: %v", res.Bugs)
	require.True(t, firsts[1] && firsts[2],
		"both acquisition orders must be explored; got %v", firsts)
}

// TestTrylockBothOutcomes checks that a trylock on a free mutex
// explores both the success and the failure alternative.
func TestTrylockBothOutcomes(t *testing.T) {
	var got bool
	prog := func(env *checker.Env) {
		m := env.NewMutex()
		got = m.TryLock()
		if got {
			m.Unlock()
		}
	}

	c := checker.New(testParams(), prog)
	saw := make(map[bool]bool)
	c.OnComplete(func() { saw[got] = true })
	res := c.Run()

	require.True(t, res.BugFree())
	require.True(t, saw[true], "trylock success outcome missing")
	require.True(t, saw[false], "trylock failure outcome missing")
}

// TestCondVar checks the standard predicate-loop wait pattern.
func TestCondVar(t *testing.T) {
	prog := func(env *checker.Env) {
		m := env.NewMutex()
		cv := env.NewCond()
		ready := env.NewVar()
		ready.Store(0)

		waiter := env.Spawn(func() {
			m.Lock()
			for ready.Load() == 0 {
				cv.Wait(m)
			}
			m.Unlock()
		})
		notifier := env.Spawn(func() {
			m.Lock()
			ready.Store(1)
			cv.NotifyOne()
			m.Unlock()
		})
		env.Join(waiter)
		env.Join(notifier)
	}

	res := checker.New(testParams(), prog).Run()
	require.True(t, res.BugFree(), "condvar handoff reported bugs: %v", res.Bugs)
	require.GreaterOrEqual(t, res.Stats.NumComplete, 1)
}

// TestUninitializedLoad checks that loading a never-initialized atomic
// is reported as a bug.
func TestUninitializedLoad(t *testing.T) {
	prog := func(env *checker.Env) {
		x := env.NewAtomic()
		_ = x.Load(checker.Relaxed)
	}

	res := checker.New(testParams(), prog).Run()
	require.False(t, res.BugFree(), "uninitialized load not caught")
	require.Equal(t, "uninitialized load", res.Bugs[0].Kind)
}

// TestReplayDeterminism runs the same exploration twice: statistics
// and outcome sets must be identical, byte for byte.
func TestReplayDeterminism(t *testing.T) {
	explore := func() (checker.Stats, map[string]bool) {
		var r1, r2 uint64
		prog := func(env *checker.Env) {
			x := env.NewAtomic()
			y := env.NewAtomic()
			x.Init(0)
			y.Init(0)
			t1 := env.Spawn(func() {
				x.Store(1, checker.Release)
				r1 = y.Load(checker.Acquire)
			})
			t2 := env.Spawn(func() {
				y.Store(1, checker.Release)
				r2 = x.Load(checker.Acquire)
			})
			env.Join(t1)
			env.Join(t2)
		}
		c := checker.New(testParams(), prog)
		outcomes := make(map[string]bool)
		c.OnComplete(func() { outcomes[fmt.Sprintf("%d,%d", r1, r2)] = true })
		res := c.Run()
		return res.Stats, outcomes
	}

	s1, o1 := explore()
	s2, o2 := explore()
	require.Equal(t, s1, s2, "exploration statistics diverged")
	require.Equal(t, o1, o2, "outcome sets diverged")
}

// TestUserPanicReported checks that a panic in user code is treated as
// a user-program fatal bug, not an engine crash.
func TestUserPanicReported(t *testing.T) {
	prog := func(env *checker.Env) {
		t1 := env.Spawn(func() {
			panic("boom")
		})
		env.Join(t1)
	}

	res := checker.New(testParams(), prog).Run()
	require.False(t, res.BugFree())
	require.Equal(t, "user program fatal", res.Bugs[0].Kind)
}

// TestRWLock drives the linux-style rw-lock scenario: two threads each
// run a read-locked load then a write-locked store. No execution may
// race or fail, and both lock-acquisition orders must be explored.
func TestRWLock(t *testing.T) {
	const bias = 0x00100000
	negBias := ^uint64(bias) + 1

	var order []string
	prog := func(env *checker.Env) {
		order = order[:0]
		lock := env.NewAtomic()
		shared := env.NewVar()
		lock.Init(bias)
		shared.Store(0)

		readLock := func() {
			cur := int64(lock.FetchAdd(^uint64(0), checker.Acquire))
			for cur <= 0 {
				lock.FetchAdd(1, checker.Relaxed)
				for int64(lock.Load(checker.Relaxed)) <= 0 {
					env.Yield()
				}
				cur = int64(lock.FetchAdd(^uint64(0), checker.Acquire))
			}
		}
		readUnlock := func() { lock.FetchAdd(1, checker.Release) }
		writeLock := func() {
			cur := int64(lock.FetchAdd(negBias, checker.Acquire))
			for cur != bias {
				lock.FetchAdd(bias, checker.Relaxed)
				for int64(lock.Load(checker.Relaxed)) != bias {
					env.Yield()
				}
				cur = int64(lock.FetchAdd(negBias, checker.Acquire))
			}
		}
		writeUnlock := func() { lock.FetchAdd(bias, checker.Release) }

		worker := func(tag string, id uint64) func() {
			return func() {
				readLock()
				_ = shared.Load()
				readUnlock()
				order = append(order, "r"+tag)

				writeLock()
				shared.Store(id)
				writeUnlock()
				order = append(order, "w"+tag)
			}
		}
		t1 := env.Spawn(worker("1", 1))
		t2 := env.Spawn(worker("2", 2))
		env.Join(t1)
		env.Join(t2)
	}

	p := testParams()
	p.MaxFutureValues = 0 // keep the spin loops promise-free
	c := checker.New(p, prog)
	firsts := make(map[string]bool)
	c.OnComplete(func() {
		if len(order) > 0 {
			firsts[order[0]] = true
		}
	})
	res := c.Run()

	require.True(t, res.BugFree(), "rw-lock scenario reported bugs: %v", res.Bugs)
	require.GreaterOrEqual(t, len(firsts), 2,
		"both section orders must be explored; got %v", firsts)
}

package main

import (
	"sort"

	"github.com/androm3da/model-checker/checker"
)

// builtin is one named test program runnable from the CLI.
type builtin struct {
	Name        string
	Description string
	Prog        checker.Program
}

// builtins is the registry of bundled test programs.
var builtins = []builtin{
	{"sb", "store buffering: two release stores, two acquire loads", progStoreBuffering},
	{"mp", "message passing: relaxed data published by a release flag", progMessagePassing},
	{"rmw", "three concurrent fetch-adds must total 3", progRMWChain},
	{"rwlock", "linux-style rw-lock built from RMWs", progRWLock},
	{"future", "relaxed load that may observe a later relaxed store", progFutureValue},
	{"deadlock", "classic lock-order inversion on two mutexes", progDeadlock},
	{"race", "unsynchronized plain accesses", progDataRace},
}

func findBuiltin(name string) *builtin {
	for i := range builtins {
		if builtins[i].Name == name {
			return &builtins[i]
		}
	}
	return nil
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for _, b := range builtins {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names
}

// progStoreBuffering is the SB litmus test. With release/acquire the
// permitted outcomes for (r1, r2) are (0,0), (0,1), (1,0) and (1,1);
// only seq_cst would rule out (0,0).
func progStoreBuffering(env *checker.Env) {
	x := env.NewAtomic()
	y := env.NewAtomic()
	x.Init(0)
	y.Init(0)

	var r1, r2 uint64
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
	env.Assert(r1 <= 1 && r2 <= 1, "store buffering: impossible value")
}

// progMessagePassing publishes plain data through a release store; the
// acquire spin guarantees the data is visible.
func progMessagePassing(env *checker.Env) {
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
		env.Assert(data.Load() == 42, "message passing: stale data after acquire")
	})
	env.Join(t1)
	env.Join(t2)
}

// progRMWChain runs three acq_rel fetch-adds; every execution must end
// with the counter at 3.
func progRMWChain(env *checker.Env) {
	counter := env.NewAtomic()
	counter.Init(0)

	var tids []int
	for i := 0; i < 3; i++ {
		tids = append(tids, env.Spawn(func() {
			counter.FetchAdd(1, checker.AcqRel)
		}))
	}
	for _, t := range tids {
		env.Join(t)
	}
	env.Assert(counter.Load(checker.Acquire) == 3, "rmw chain: lost update")
}

// rwBias is the read-count bias of the rw-lock word, after the Linux
// implementation this test is modeled on.
const rwBias = 0x00100000

// progRWLock drives two threads through read-lock/load and
// write-lock/store critical sections on an RMW-built rw-lock.
func progRWLock(env *checker.Env) {
	lock := env.NewAtomic()
	shared := env.NewVar()
	lock.Init(rwBias)
	shared.Store(0)

	readLock := func() {
		cur := int64(lock.FetchAdd(^uint64(0), checker.Acquire)) // fetch_sub(1)
		for cur <= 0 {
			lock.FetchAdd(1, checker.Relaxed)
			for int64(lock.Load(checker.Relaxed)) <= 0 {
				env.Yield()
			}
			cur = int64(lock.FetchAdd(^uint64(0), checker.Acquire))
		}
	}
	readUnlock := func() {
		lock.FetchAdd(1, checker.Release)
	}
	negBias := ^uint64(rwBias) + 1 // two's-complement -rwBias
	writeLock := func() {
		cur := int64(lock.FetchAdd(negBias, checker.Acquire))
		for cur != rwBias {
			lock.FetchAdd(rwBias, checker.Relaxed)
			for int64(lock.Load(checker.Relaxed)) != rwBias {
				env.Yield()
			}
			cur = int64(lock.FetchAdd(negBias, checker.Acquire))
		}
	}
	writeUnlock := func() {
		lock.FetchAdd(rwBias, checker.Release)
	}

	worker := func(id uint64) func() {
		return func() {
			readLock()
			_ = shared.Load()
			readUnlock()

			writeLock()
			shared.Store(id)
			writeUnlock()
		}
	}
	t1 := env.Spawn(worker(1))
	t2 := env.Spawn(worker(2))
	env.Join(t1)
	env.Join(t2)
}

// progFutureValue is the promise scenario: the relaxed load may
// observe the other thread's later relaxed store through a promise.
func progFutureValue(env *checker.Env) {
	x := env.NewAtomic()
	x.Init(0)

	var r uint64
	t1 := env.Spawn(func() {
		r = x.Load(checker.Relaxed)
	})
	t2 := env.Spawn(func() {
		x.Store(1, checker.Relaxed)
	})
	env.Join(t1)
	env.Join(t2)
	env.Assert(r == 0 || r == 1, "future value: impossible value")
}

// progDeadlock acquires two mutexes in opposite orders.
func progDeadlock(env *checker.Env) {
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

// progDataRace increments a plain variable from two threads with no
// synchronization.
func progDataRace(env *checker.Env) {
	v := env.NewVar()
	v.Store(0)

	t1 := env.Spawn(func() {
		v.Store(v.Load() + 1)
	})
	t2 := env.Spawn(func() {
		v.Store(v.Load() + 1)
	})
	env.Join(t1)
	env.Join(t2)
}

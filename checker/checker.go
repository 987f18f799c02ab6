// Package checker is the public surface of the model checker.
//
// A test program is a function receiving an Env; it creates atomic and
// plain locations, mutexes and condition variables, spawns threads,
// and performs the operations under test. The checker runs the program
// repeatedly, exploring every execution the C11 relaxed memory model
// permits, and reports data races, assertion violations, deadlocks and
// uninitialized loads.
//
//	prog := func(env *checker.Env) {
//	    x := env.NewAtomic()
//	    x.Init(0)
//	    t := env.Spawn(func() { x.Store(1, checker.Release) })
//	    r := x.Load(checker.Acquire)
//	    env.Assert(r == 0 || r == 1, "unexpected value")
//	    env.Join(t)
//	}
//	res := checker.New(checker.DefaultParams(), prog).Run()
package checker

import (
	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/config"
	"github.com/androm3da/model-checker/internal/model/engine"
)

// Params are the run parameters; see the config package for the
// meaning and defaults of each field.
type Params = config.Params

// DefaultParams returns the default run parameters.
func DefaultParams() Params { return config.Default() }

// MemoryOrder is the C11 memory order of an atomic operation.
type MemoryOrder = action.MemoryOrder

// Memory orders.
const (
	Relaxed = action.Relaxed
	Acquire = action.Acquire
	Release = action.Release
	AcqRel  = action.AcqRel
	SeqCst  = action.SeqCst
)

// Program is a closed test program run under the checker. It must be
// deterministic given a fixed schedule: all nondeterminism comes from
// the checker's own choices.
type Program func(*Env)

// Results summarizes an exploration.
type Results struct {
	Stats Stats
	// Bugs and Trace describe the first buggy execution, if any.
	Bugs  []Bug
	Trace []string
}

// Stats re-exports the engine's execution statistics.
type Stats = engine.Stats

// Bug re-exports the engine's bug record.
type Bug = engine.Bug

// BugFree reports whether no feasible execution contained a bug.
func (r Results) BugFree() bool { return r.Stats.NumBuggy == 0 }

// Checker explores all executions of one program.
type Checker struct {
	prog       Program
	eng        *engine.Engine
	onComplete func()
}

// New creates a checker for prog with the given parameters.
func New(params Params, prog Program) *Checker {
	return &Checker{prog: prog, eng: engine.New(params)}
}

// OnComplete registers a callback invoked after every complete,
// feasible, bug-free execution — while the execution's values are
// still observable in the program's captured variables. Tests use it
// to collect the set of permitted outcomes.
func (c *Checker) OnComplete(f func()) { c.onComplete = f }

// Engine exposes the underlying engine; the CLI uses it for logging.
func (c *Checker) Engine() *engine.Engine { return c.eng }

// Run explores every execution and returns the summary.
func (c *Checker) Run() Results {
	for {
		env := &Env{eng: c.eng}
		c.eng.RunExecution(func() { c.prog(env) })
		if c.eng.LastOutcome() == engine.OutcomeComplete && c.onComplete != nil {
			c.onComplete()
		}
		if !c.eng.NextExecution() {
			break
		}
	}
	c.eng.PrintSummary()
	bugs, trace := c.eng.FirstBugReport()
	return Results{Stats: c.eng.Stats(), Bugs: bugs, Trace: trace}
}

// Env is a program's handle to the checker. All methods must be called
// from the program's threads (fiber context).
type Env struct {
	eng *engine.Engine
}

// Spawn starts a new user thread running f and returns its thread id.
func (e *Env) Spawn(f func()) int {
	return e.eng.Spawn(f)
}

// Join blocks until the thread tid has finished.
func (e *Env) Join(tid int) {
	e.eng.Perform(action.ThreadJoin, action.Relaxed, action.LocNone, uint64(tid))
}

// Yield offers the scheduler a switch point with no memory effect.
func (e *Env) Yield() {
	e.eng.Perform(action.ThreadYield, action.Relaxed, action.LocNone, 0)
}

// Fence performs a memory fence with the given order.
func (e *Env) Fence(order MemoryOrder) {
	e.eng.Perform(action.Fence, order, action.LocNone, 0)
}

// Assert reports an assertion-violation bug when cond is false. The
// current execution ends; exploration continues.
func (e *Env) Assert(cond bool, msg string) {
	if !cond {
		e.eng.AssertUserBug(msg)
	}
}

// NewAtomic allocates an atomic location. Reading it before any Init
// or Store is an uninitialized-load bug.
func (e *Env) NewAtomic() *Atomic {
	return &Atomic{eng: e.eng, loc: e.eng.NewLocation()}
}

// NewVar allocates a plain (non-atomic) location; concurrent
// unsynchronized access to it is a data race.
func (e *Env) NewVar() *Var {
	return &Var{eng: e.eng, loc: e.eng.NewLocation()}
}

// NewMutex allocates a mutex.
func (e *Env) NewMutex() *Mutex {
	return &Mutex{eng: e.eng, loc: e.eng.NewLocation()}
}

// NewCond allocates a condition variable.
func (e *Env) NewCond() *Cond {
	return &Cond{eng: e.eng, loc: e.eng.NewLocation()}
}

// Atomic is one atomic location.
type Atomic struct {
	eng *engine.Engine
	loc action.Location
}

// Init performs the non-racing initialization of the location.
func (a *Atomic) Init(v uint64) {
	a.eng.Perform(action.AtomicInit, action.Relaxed, a.loc, v)
}

// Load performs an atomic load and returns the value observed.
func (a *Atomic) Load(order MemoryOrder) uint64 {
	return a.eng.Perform(action.AtomicRead, order, a.loc, 0)
}

// Store performs an atomic store.
func (a *Atomic) Store(v uint64, order MemoryOrder) {
	a.eng.Perform(action.AtomicWrite, order, a.loc, v)
}

// RMW performs an atomic read-modify-write: f maps the value read to
// the value written. Returns the value read.
func (a *Atomic) RMW(f func(uint64) uint64, order MemoryOrder) uint64 {
	old := a.eng.Perform(action.AtomicRMWRead, order, a.loc, 0)
	a.eng.Perform(action.AtomicRMW, order, a.loc, f(old))
	return old
}

// FetchAdd atomically adds delta and returns the previous value.
func (a *Atomic) FetchAdd(delta uint64, order MemoryOrder) uint64 {
	return a.RMW(func(v uint64) uint64 { return v + delta }, order)
}

// CompareExchange atomically replaces expected with desired. Returns
// whether the exchange happened.
func (a *Atomic) CompareExchange(expected, desired uint64, order MemoryOrder) bool {
	old := a.eng.Perform(action.AtomicRMWRead, order, a.loc, 0)
	if old == expected {
		a.eng.Perform(action.AtomicRMW, order, a.loc, desired)
		return true
	}
	a.eng.Perform(action.AtomicRMWCancel, order, a.loc, 0)
	return false
}

// Var is one plain (non-atomic) location.
type Var struct {
	eng *engine.Engine
	loc action.Location
}

// Load reads the plain location.
func (v *Var) Load() uint64 {
	return v.eng.Perform(action.PlainRead, action.Relaxed, v.loc, 0)
}

// Store writes the plain location.
func (v *Var) Store(val uint64) {
	v.eng.Perform(action.PlainWrite, action.Relaxed, v.loc, val)
}

// Mutex is a mutual-exclusion lock.
type Mutex struct {
	eng *engine.Engine
	loc action.Location
}

// Lock acquires the mutex, blocking while it is held.
func (m *Mutex) Lock() {
	m.eng.Perform(action.MutexLock, action.Acquire, m.loc, 0)
}

// Unlock releases the mutex and wakes at most one waiter.
func (m *Mutex) Unlock() {
	m.eng.Perform(action.MutexUnlock, action.Release, m.loc, 0)
}

// TryLock attempts the acquisition without blocking. Both outcomes are
// explored when the mutex is free.
func (m *Mutex) TryLock() bool {
	return m.eng.Perform(action.MutexTrylock, action.Acquire, m.loc, 0) == 1
}

// Cond is a condition variable. Spurious wakeups are not modeled.
type Cond struct {
	eng *engine.Engine
	loc action.Location
}

// Wait atomically releases m and blocks until notified, then
// re-acquires m before returning.
func (c *Cond) Wait(m *Mutex) {
	c.eng.Perform(action.Wait, action.Relaxed, c.loc, uint64(m.loc))
	m.Lock()
}

// NotifyOne wakes the lowest-id waiter, if any.
func (c *Cond) NotifyOne() {
	c.eng.Perform(action.NotifyOne, action.Relaxed, c.loc, 0)
}

// NotifyAll wakes every waiter.
func (c *Cond) NotifyAll() {
	c.eng.Perform(action.NotifyAll, action.Relaxed, c.loc, 0)
}

// Package fiber runs user threads as cooperative goroutines.
//
// Each user thread is a goroutine that holds the processor only
// between two visible actions. Submitting an action parks the
// goroutine and hands control back to the engine over an unbuffered
// channel; resuming delivers the action's return value and lets the
// goroutine run to its next visible action. At any moment exactly one
// goroutine — a fiber or the engine — is executing, so the engine's
// shared state needs no locking.
//
// On rollback the engine abandons the whole runtime: DestroyAll makes
// every parked fiber unwind via a panic that the wrapper recovers, and
// a fresh runtime replays the program from the start.
package fiber

import "github.com/androm3da/model-checker/internal/model/action"

// Submission is what a fiber hands to the engine: one action, or a
// termination notice carrying a panic value if user code blew up.
type Submission struct {
	TID      int
	Act      *action.ModelAction
	Finished bool
	Panic    interface{}
}

// killed is the sentinel panic used to unwind parked fibers.
type killed struct{}

// Runtime manages the fibers of one execution.
type Runtime struct {
	fibers  map[int]*fiber
	submit  chan Submission
	kill    chan struct{}
	current int
}

type fiber struct {
	tid     int
	entry   func()
	started bool
	cont    chan uint64
	retval  uint64
}

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		fibers: make(map[int]*fiber),
		submit: make(chan Submission),
		kill:   make(chan struct{}),
	}
}

// Create registers a fiber for tid. The goroutine starts lazily on the
// first Resume; entry runs user code and submits that code's visible
// actions via SubmitAction.
func (rt *Runtime) Create(tid int, entry func()) {
	rt.fibers[tid] = &fiber{tid: tid, entry: entry, cont: make(chan uint64)}
}

// Current returns the tid of the fiber holding the processor.
func (rt *Runtime) Current() int { return rt.current }

// Resume transfers control to tid until it submits its next action or
// finishes. The fiber's previous action's return value, stashed by
// Complete, is delivered on wakeup.
func (rt *Runtime) Resume(tid int) Submission {
	f := rt.fibers[tid]
	rt.current = tid
	if !f.started {
		f.started = true
		go f.run(rt)
	} else {
		f.cont <- f.retval
	}
	return <-rt.submit
}

// Complete stashes the return value act produced for its fiber. The
// value is delivered the next time the fiber is resumed.
func (rt *Runtime) Complete(tid int, value uint64) {
	if f := rt.fibers[tid]; f != nil {
		f.retval = value
	}
}

// SubmitAction parks the calling fiber, hands act to the engine, and
// blocks until the engine resumes this fiber. Returns the value the
// engine computed for the action (the value read, the trylock
// outcome, the spawned tid).
func (rt *Runtime) SubmitAction(act *action.ModelAction) uint64 {
	f := rt.fibers[act.TID()]
	select {
	case rt.submit <- Submission{TID: act.TID(), Act: act}:
	case <-rt.kill:
		panic(killed{})
	}
	select {
	case v := <-f.cont:
		return v
	case <-rt.kill:
		panic(killed{})
	}
}

// run is the fiber wrapper: it executes entry, then reports
// termination. The termination send is fire-and-forget so the
// goroutine exits without waiting for another resume.
func (f *fiber) run(rt *Runtime) {
	var pan interface{}
	defer func() {
		if r := recover(); r != nil {
			if _, wasKilled := r.(killed); wasKilled {
				return
			}
			pan = r
		}
		select {
		case rt.submit <- Submission{TID: f.tid, Finished: true, Panic: pan}:
		case <-rt.kill:
		}
	}()
	f.entry()
}

// DestroyAll unwinds every parked fiber and invalidates the runtime.
// Must be called with the engine in control (no fiber running).
func (rt *Runtime) DestroyAll() {
	close(rt.kill)
	rt.fibers = make(map[int]*fiber)
}

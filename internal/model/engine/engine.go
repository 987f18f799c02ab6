// Package engine drives the exploration of executions.
//
// One Engine instance explores one program: it repeatedly runs a
// single linear execution by cooperatively scheduling user fibers,
// processes each visible action against the memory model (reads-from
// sets, modification order, release sequences, promises), records
// backtracking alternatives on the exploration tree, and between
// executions rewinds to the deepest unexplored alternative and replays
// the fixed prefix.
//
// The engine is single-threaded cooperative: all shared state is
// mutated only between fiber resume points.
package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/clockvector"
	"github.com/androm3da/model-checker/internal/model/config"
	"github.com/androm3da/model-checker/internal/model/cyclegraph"
	"github.com/androm3da/model-checker/internal/model/fiber"
	"github.com/androm3da/model-checker/internal/model/nodestack"
	"github.com/androm3da/model-checker/internal/model/promise"
	"github.com/androm3da/model-checker/internal/model/race"
	"github.com/androm3da/model-checker/internal/model/schedule"
	"github.com/androm3da/model-checker/internal/model/snapshot"
)

// modelTID is the model-checker pseudo thread; fixup actions run on it.
const modelTID = 0

// mainTID is the program's first user thread.
const mainTID = 1

// pendingRelSeq records one lazily resolved release sequence: acquire
// read from rf, whose candidate longest chain starts at release; base
// is the first chain element by release's thread, and writes are the
// other-thread writes whose modification-order position between
// release and base is still undetermined.
type pendingRelSeq struct {
	acquire *action.ModelAction
	rf      *action.ModelAction
	release *action.ModelAction
	base    *action.ModelAction
	writes  []*action.ModelAction
}

// Engine is the central checker structure.
type Engine struct {
	params config.Params
	log    *log.Logger

	// Exploration state that survives rollback.
	nodeStack   *nodestack.NodeStack
	stats       Stats
	firstBug    []Bug
	bugTrace    []string
	region      *snapshot.Region
	boundary    *snapshot.Boundary
	checkpoint  snapshot.Handle
	lastOutcome Outcome

	// Replay control for the next execution.
	forcedTid   int
	sleepOldTid int

	// Per-execution state; everything below is torn down by the
	// snapshot region between executions.
	rt       *fiber.Runtime
	sched    *schedule.Scheduler
	moGraph  *cyclegraph.CycleGraph
	promises *promise.Set
	raceChk  *race.Checker

	trace       []*action.ModelAction
	objMap      map[action.Location][]*action.ModelAction
	objThrdMap  map[action.Location]map[int][]*action.ModelAction
	lockWaiters map[action.Location][]int
	condWaiters map[action.Location][]int
	mutexHolder map[action.Location]int
	lastUnlock  map[action.Location]*action.ModelAction
	plainValues map[action.Location]uint64
	initialized map[action.Location]bool
	locCounter  uint64

	thrdLastAction map[int]*action.ModelAction
	createAction   map[int]*action.ModelAction
	finishAction   map[int]*action.ModelAction
	joinWaiters    map[int][]int
	pending        map[int]*fiber.Submission
	actionNode     map[*action.ModelAction]*nodestack.Node
	promiseFor     map[*action.ModelAction]*promise.Promise
	pendingRelSeqs []*pendingRelSeq
	fixupQueue     []*pendingRelSeq

	seqCounter uint64
	nextTid    int
	childToRun int
	lastKind   action.Kind
	lastTid    int
	spawnEntry func()

	failedPromise      bool
	tooManyReads       bool
	badSynchronization bool
	asserted           bool
	bugs               []Bug
}

// New creates an engine for the given parameters.
func New(params config.Params) *Engine {
	logger := log.New()
	switch params.Verbose {
	case 0:
		logger.SetLevel(log.WarnLevel)
	case 1:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.DebugLevel)
	}

	e := &Engine{
		params:    params,
		log:       logger,
		nodeStack: nodestack.New(),
		forcedTid: -1,
	}
	e.region = snapshot.NewRegion()
	e.region.Register(e.resetExecutionState)
	e.boundary = snapshot.NewBoundary(e.region)
	e.resetExecutionState()
	return e
}

// Logger exposes the engine's logger so the CLI shares one sink.
func (e *Engine) Logger() *log.Logger { return e.log }

// resetExecutionState drops everything allocated for one execution.
// The node stack, statistics and replay control are outside the
// snapshot region and survive.
func (e *Engine) resetExecutionState() {
	e.rt = fiber.New()
	e.sched = schedule.New(e.params.FairWindow, e.params.EnabledCount)
	e.moGraph = cyclegraph.New()
	e.promises = promise.NewSet()
	e.raceChk = race.New()

	e.trace = nil
	e.objMap = make(map[action.Location][]*action.ModelAction)
	e.objThrdMap = make(map[action.Location]map[int][]*action.ModelAction)
	e.lockWaiters = make(map[action.Location][]int)
	e.condWaiters = make(map[action.Location][]int)
	e.mutexHolder = make(map[action.Location]int)
	e.lastUnlock = make(map[action.Location]*action.ModelAction)
	e.plainValues = make(map[action.Location]uint64)
	e.initialized = make(map[action.Location]bool)
	e.locCounter = 0

	e.thrdLastAction = make(map[int]*action.ModelAction)
	e.createAction = make(map[int]*action.ModelAction)
	e.finishAction = make(map[int]*action.ModelAction)
	e.joinWaiters = make(map[int][]int)
	e.pending = make(map[int]*fiber.Submission)
	e.actionNode = make(map[*action.ModelAction]*nodestack.Node)
	e.promiseFor = make(map[*action.ModelAction]*promise.Promise)
	e.pendingRelSeqs = nil
	e.fixupQueue = nil

	e.seqCounter = 0
	e.nextTid = mainTID
	e.childToRun = -1
	e.lastKind = action.ThreadYield
	e.lastTid = -1
	e.spawnEntry = nil

	e.failedPromise = false
	e.tooManyReads = false
	e.badSynchronization = false
	e.asserted = false
	e.bugs = nil
}

// NewLocation hands out the next location id. Ids are assigned in
// creation order, which replay reproduces exactly.
func (e *Engine) NewLocation() action.Location {
	e.locCounter++
	return action.Location(e.locCounter)
}

// Perform submits one visible action from the calling fiber and parks
// it until the engine has processed the action. Returns the action's
// result value.
func (e *Engine) Perform(kind action.Kind, order action.MemoryOrder, loc action.Location, value uint64) uint64 {
	act := action.New(kind, order, loc, value, e.rt.Current())
	return e.rt.SubmitAction(act)
}

// Spawn creates a user thread running entry. Called from fiber context.
func (e *Engine) Spawn(entry func()) int {
	e.spawnEntry = entry
	tid := e.Perform(action.ThreadCreate, action.Relaxed, action.LocNone, 0)
	return int(tid)
}

// threadEntry wraps a user thread body: every thread's first visible
// action is its start, and the fiber wrapper reports the finish.
func (e *Engine) threadEntry(entry func()) func() {
	return func() {
		e.Perform(action.ThreadStart, action.Relaxed, action.LocNone, 0)
		if entry != nil {
			entry()
		}
	}
}

// RunExecution runs one complete execution of the program.
func (e *Engine) RunExecution(main func()) {
	e.checkpoint = e.boundary.Checkpoint(e.nodeStack.Len())
	e.nodeStack.ResetExecution()

	tid := e.nextTid
	e.nextTid++
	e.rt.Create(tid, e.threadEntry(main))
	e.sched.AddThread(tid)

	for {
		if e.params.Bound > 0 && e.seqCounter >= e.params.Bound {
			break
		}
		next, ok := e.nextThread()
		if !ok {
			break
		}
		sub := e.fetchSubmission(next)

		if sub.Finished {
			if sub.Panic != nil {
				e.reportBug(BugUserFatal, "thread %d panicked: %v", next, sub.Panic)
			}
			fin := action.New(action.ThreadFinish, action.Relaxed, action.LocNone, 0, next)
			e.processCurrentAction(fin)
		} else {
			if !e.checkActionEnabled(sub.Act) {
				e.pending[next] = sub
				continue
			}
			value := e.processCurrentAction(sub.Act)
			e.rt.Complete(next, value)
		}

		if !e.isFeasible() || e.asserted {
			break
		}
	}
	e.endExecution()
}

// nextThread picks the thread whose action runs next: the recorded
// prefix while replaying, then a forced backtrack thread, then the
// child of a fresh create, then the scheduler's deterministic choice.
func (e *Engine) nextThread() (int, bool) {
	// Never split an RMW: the write half follows its read half.
	if e.lastKind == action.AtomicRMWRead {
		return e.lastTid, true
	}
	if next := e.nodeStack.GetNext(); next != nil {
		return next.Action().TID(), true
	}
	if e.forcedTid >= 0 {
		tid := e.forcedTid
		e.forcedTid = -1
		if e.sleepOldTid >= 0 {
			e.sched.AddSleep(e.sleepOldTid)
			e.sleepOldTid = -1
		}
		e.sched.RemoveSleep(tid)
		e.sched.SetCurrentThread(tid)
		return tid, true
	}
	if e.childToRun >= 0 {
		tid := e.childToRun
		e.childToRun = -1
		if e.sched.IsEnabled(tid) {
			e.sched.SetCurrentThread(tid)
			return tid, true
		}
	}
	e.executeSleepSet()
	return e.sched.SelectNextThread()
}

// fetchSubmission takes the thread's deferred submission if one
// exists, otherwise resumes its fiber for the next action.
func (e *Engine) fetchSubmission(tid int) *fiber.Submission {
	if sub := e.pending[tid]; sub != nil {
		delete(e.pending, tid)
		return sub
	}
	sub := e.rt.Resume(tid)
	return &sub
}

// executeSleepSet fetches the next action of every sleeping thread so
// conflicting actions can wake it. The fetched action stays pending
// and unprocessed until the thread leaves the sleep set.
func (e *Engine) executeSleepSet() {
	for tid := 1; tid < e.sched.NumThreads(); tid++ {
		if e.sched.IsSleeping(tid) && e.pending[tid] == nil &&
			e.sched.State(tid) == schedule.Ready {
			sub := e.rt.Resume(tid)
			if sub.Act != nil {
				sub.Act.SetSleeping(true)
			}
			e.pending[tid] = &sub
		}
	}
}

// wakeUpSleepingActions removes from the sleep set every thread whose
// pending action conflicts or may synchronize with curr: the conflict
// proves the sleeping thread is no longer redundant here.
func (e *Engine) wakeUpSleepingActions(curr *action.ModelAction) {
	for tid, sub := range e.pending {
		if !e.sched.IsSleeping(tid) || sub.Act == nil {
			continue
		}
		if curr.ConflictsWith(sub.Act) || curr.CouldSynchronizeWith(sub.Act) ||
			sub.Act.CouldSynchronizeWith(curr) {
			sub.Act.SetSleeping(false)
			e.sched.RemoveSleep(tid)
		}
	}
}

// checkActionEnabled gates actions that may block. A blocked thread is
// disabled and its submission deferred; the action is re-checked when
// the thread is next scheduled.
func (e *Engine) checkActionEnabled(act *action.ModelAction) bool {
	switch act.Kind() {
	case action.MutexLock:
		if _, held := e.mutexHolder[act.Location()]; held {
			e.addLockWaiter(act.Location(), act.TID())
			e.sched.SetDisabled(act.TID())
			return false
		}
	case action.ThreadJoin:
		target := int(act.Value())
		if e.sched.State(target) != schedule.Completed {
			e.joinWaiters[target] = append(e.joinWaiters[target], act.TID())
			e.sched.SetDisabled(act.TID())
			return false
		}
	}
	return true
}

func (e *Engine) addLockWaiter(loc action.Location, tid int) {
	for _, w := range e.lockWaiters[loc] {
		if w == tid {
			return
		}
	}
	e.lockWaiters[loc] = append(e.lockWaiters[loc], tid)
}

// processCurrentAction sequences curr, attaches its clock, walks the
// node stack, dispatches by kind, and records bookkeeping that later
// actions depend on. Returns the value delivered to the fiber.
func (e *Engine) processCurrentAction(curr *action.ModelAction) uint64 {
	e.seqCounter++
	curr.SetSeq(e.seqCounter)

	var parentCV *clockvector.ClockVector
	if last := e.thrdLastAction[curr.TID()]; last != nil {
		parentCV = last.ClockVector()
	}
	curr.SetClockVector(clockvector.NewFromParent(parentCV, curr.TID(), curr.Seq()))

	node, replaying := e.nodeStack.ExploreAction(curr, e.sched.EnabledSnapshot(), e.sched.SleepSet())
	e.actionNode[curr] = node
	if replaying {
		e.sched.SetSleepSet(node.SleepSet())
	}
	e.sched.SetCurrentThread(curr.TID())

	if expired := e.promises.CheckExpired(e.seqCounter); len(expired) > 0 {
		e.failedPromise = true
	}

	var value uint64
	switch curr.Kind() {
	case action.AtomicRead, action.AtomicRMWRead:
		value = e.processRead(curr, node)
	case action.AtomicWrite, action.AtomicInit:
		e.processWrite(curr)
	case action.AtomicRMW:
		e.processRMWWrite(curr)
	case action.AtomicRMWCancel:
		e.processRMWCancel(curr)
	case action.Fence:
		e.processFence(curr)
	case action.MutexLock, action.MutexUnlock, action.MutexTrylock,
		action.Wait, action.NotifyOne, action.NotifyAll:
		value = e.processMutex(curr, node)
	case action.ThreadCreate, action.ThreadStart, action.ThreadYield,
		action.ThreadJoin, action.ThreadFinish:
		value = e.processThreadAction(curr)
	case action.PlainRead, action.PlainWrite:
		value = e.processPlainAccess(curr)
	case action.FixupRelSeq:
		// Processed inline by drainFixups; nothing further here.
	}

	e.addActionToLists(curr)
	e.wakeUpSleepingActions(curr)
	e.setBacktracking(curr)

	e.lastKind = curr.Kind()
	e.lastTid = curr.TID()
	e.logAction(curr)
	e.drainFixups()
	return value
}

// addActionToLists records curr in the trace and per-object histories.
func (e *Engine) addActionToLists(curr *action.ModelAction) {
	e.trace = append(e.trace, curr)
	e.thrdLastAction[curr.TID()] = curr

	loc := curr.Location()
	if loc == action.LocNone {
		return
	}
	e.objMap[loc] = append(e.objMap[loc], curr)
	byThread := e.objThrdMap[loc]
	if byThread == nil {
		byThread = make(map[int][]*action.ModelAction)
		e.objThrdMap[loc] = byThread
	}
	byThread[curr.TID()] = append(byThread[curr.TID()], curr)
}

// liveThreads returns the tids of threads that have not finished.
func (e *Engine) liveThreads() []int {
	var out []int
	for tid := 1; tid < e.nextTid; tid++ {
		if e.sched.State(tid) != schedule.Completed {
			out = append(out, tid)
		}
	}
	return out
}

// writesTo returns all writes recorded for loc, in trace order.
func (e *Engine) writesTo(loc action.Location) []*action.ModelAction {
	var out []*action.ModelAction
	for _, a := range e.objMap[loc] {
		if a.IsWrite() {
			out = append(out, a)
		}
	}
	return out
}

// isFeasible is the conjunction of the absence of all soft-failure
// flags for the current execution prefix.
func (e *Engine) isFeasible() bool {
	return !e.moGraph.HasCycles() && !e.failedPromise &&
		!e.tooManyReads && !e.badSynchronization
}

// isFinalFeasible additionally requires that no promise is left
// unresolved at the end of the execution.
func (e *Engine) isFinalFeasible() bool {
	return e.isFeasible() && !e.promises.HasPending()
}

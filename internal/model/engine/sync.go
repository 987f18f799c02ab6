package engine

import (
	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/nodestack"
)

// processMutex handles mutex and condition-variable actions. Lock
// availability was already gated by checkActionEnabled, so a LOCK here
// always succeeds.
func (e *Engine) processMutex(curr *action.ModelAction, node *nodestack.Node) uint64 {
	loc := curr.Location()
	tid := curr.TID()

	switch curr.Kind() {
	case action.MutexLock:
		e.mutexHolder[loc] = tid
		e.syncWithLastUnlock(curr)
		return 0

	case action.MutexTrylock:
		_, held := e.mutexHolder[loc]
		if held {
			node.SetMiscMax(1) // only failure is possible
		} else {
			node.SetMiscMax(2) // acquisition, then failure as the alternative
		}
		acquired := !held && node.GetMisc() == 0
		if acquired {
			e.mutexHolder[loc] = tid
			e.syncWithLastUnlock(curr)
			return 1
		}
		return 0

	case action.MutexUnlock:
		delete(e.mutexHolder, loc)
		e.lastUnlock[loc] = curr
		e.wakeOneLockWaiter(loc)
		return 0

	case action.Wait:
		// Release the paired mutex, then park on the condvar. The
		// caller re-acquires the mutex after wakeup. The wait action
		// itself is the release the next acquirer synchronizes with.
		mloc := action.Location(curr.Value())
		delete(e.mutexHolder, mloc)
		e.lastUnlock[mloc] = curr
		e.wakeOneLockWaiter(mloc)
		e.condWaiters[loc] = append(e.condWaiters[loc], tid)
		e.sched.SetDisabled(tid)
		return 0

	case action.NotifyOne:
		if w, ok := e.popLowestCondWaiter(loc); ok {
			e.sched.SetEnabled(w)
		}
		return 0

	case action.NotifyAll:
		for _, w := range e.condWaiters[loc] {
			e.sched.SetEnabled(w)
		}
		e.condWaiters[loc] = nil
		return 0
	}
	return 0
}

// syncWithLastUnlock gives a successful acquisition release/acquire
// semantics against the most recent unlock (or mutex-releasing wait)
// of the mutex.
func (e *Engine) syncWithLastUnlock(curr *action.ModelAction) {
	last := e.lastUnlock[curr.Location()]
	if last == nil {
		return
	}
	if !curr.SynchronizeWith(last) {
		e.badSynchronization = true
	}
}

// wakeOneLockWaiter enables the first queued waiter, if any.
func (e *Engine) wakeOneLockWaiter(loc action.Location) {
	q := e.lockWaiters[loc]
	if len(q) == 0 {
		return
	}
	e.lockWaiters[loc] = q[1:]
	e.sched.SetEnabled(q[0])
}

// popLowestCondWaiter removes and returns the lowest-tid waiter for
// determinism.
func (e *Engine) popLowestCondWaiter(loc action.Location) (int, bool) {
	q := e.condWaiters[loc]
	if len(q) == 0 {
		return 0, false
	}
	lowest := 0
	for i, w := range q {
		if w < q[lowest] {
			lowest = i
		}
	}
	w := q[lowest]
	e.condWaiters[loc] = append(q[:lowest], q[lowest+1:]...)
	return w, true
}

// processThreadAction handles thread lifecycle actions.
func (e *Engine) processThreadAction(curr *action.ModelAction) uint64 {
	tid := curr.TID()

	switch curr.Kind() {
	case action.ThreadCreate:
		child := e.nextTid
		e.nextTid++
		entry := e.spawnEntry
		e.spawnEntry = nil
		e.rt.Create(child, e.threadEntry(entry))
		e.sched.AddThread(child)
		e.createAction[child] = curr
		e.childToRun = child
		return uint64(child)

	case action.ThreadStart:
		// The child's first action synchronizes with its creation.
		if c := e.createAction[tid]; c != nil {
			curr.ClockVector().Merge(c.ClockVector())
		}
		return 0

	case action.ThreadYield:
		return 0

	case action.ThreadJoin:
		// Enabled only once the target finished; absorb its clock.
		target := int(curr.Value())
		if f := e.finishAction[target]; f != nil {
			curr.ClockVector().Merge(f.ClockVector())
		}
		return 0

	case action.ThreadFinish:
		e.sched.ThreadCompleted(tid)
		e.finishAction[tid] = curr
		for _, j := range e.joinWaiters[tid] {
			e.sched.SetEnabled(j)
		}
		delete(e.joinWaiters, tid)
		if e.promises.EliminateThread(tid) {
			e.failedPromise = true
		}
		return 0
	}
	return 0
}

// processFence applies fence synchronization. An acquire fence makes
// the thread's earlier relaxed reads synchronize with the release
// heads they read from; the release side is honored lazily when a
// later acquire walks the release-sequence chain past a write that is
// fence-backed (see releaseSeqHeads).
func (e *Engine) processFence(curr *action.ModelAction) {
	if !curr.IsAcquire() {
		return
	}
	for _, a := range e.trace {
		if a.TID() != curr.TID() || !a.IsRead() || a.ReadsFrom() == nil {
			continue
		}
		if a.IsAcquire() {
			continue // already synchronized at the read itself
		}
		heads, pending := e.releaseSeqHeads(curr, a.ReadsFrom())
		for _, h := range heads {
			if !curr.SynchronizeWith(h) {
				e.badSynchronization = true
			}
		}
		if pending != nil {
			e.pendingRelSeqs = append(e.pendingRelSeqs, pending)
		}
	}
}

// processPlainAccess routes non-atomic accesses through the data-race
// checker. Plain locations have sequential value semantics; weak
// behaviors on them are a bug (the race), not something to enumerate.
func (e *Engine) processPlainAccess(curr *action.ModelAction) uint64 {
	if curr.Kind() == action.PlainWrite {
		for _, r := range e.raceChk.OnWrite(curr) {
			e.reportBug(BugDataRace, "%s", r)
		}
		e.plainValues[curr.Location()] = curr.Value()
		e.initialized[curr.Location()] = true
		return 0
	}
	for _, r := range e.raceChk.OnRead(curr) {
		e.reportBug(BugDataRace, "%s", r)
	}
	v := e.plainValues[curr.Location()]
	curr.SetValue(v)
	return v
}

package engine

import "github.com/androm3da/model-checker/internal/model/action"

// processWrite enters curr into modification order, resolves matching
// promises, offers curr's value as a future value to earlier reads,
// and re-examines pending release sequences on the location.
func (e *Engine) processWrite(curr *action.ModelAction) {
	e.wModificationOrder(curr)
	if curr.IsInit() || curr.IsWrite() {
		e.initialized[curr.Location()] = true
	}
	e.resolvePromises(curr)
	e.sendFutureValues(curr)
	e.resolveReleaseSequences(curr)
}

// processRMWWrite commits the write half of an RMW: it immediately
// follows its read half's reads-from in modification order.
func (e *Engine) processRMWWrite(curr *action.ModelAction) {
	readHalf := e.lastRMWRead(curr)
	rf := curr.ProcessRMW(readHalf, false)
	if rf != nil {
		e.moGraph.AddRMWEdge(rf, curr)
	}
	e.processWrite(curr)
}

// processRMWCancel records an abandoned RMW (failed compare-exchange).
// The read half already happened; nothing enters modification order.
func (e *Engine) processRMWCancel(curr *action.ModelAction) {
	readHalf := e.lastRMWRead(curr)
	curr.ProcessRMW(readHalf, true)
}

// lastRMWRead returns the immediately preceding read half on curr's
// thread. The scheduler never splits an RMW, so it is always the
// thread's previous action.
func (e *Engine) lastRMWRead(curr *action.ModelAction) *action.ModelAction {
	list := e.objThrdMap[curr.Location()][curr.TID()]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsRMWRead() {
			return list[i]
		}
	}
	panic("engine: RMW write half without a read half")
}

// wModificationOrder adds the mo edges implied by a new write: for
// each thread, its latest action in curr's happens-before past orders
// its write — or the write it read from — before curr. Seq_cst writes
// are additionally totally ordered among themselves.
func (e *Engine) wModificationOrder(curr *action.ModelAction) {
	loc := curr.Location()

	if curr.IsSeqCst() {
		if lastSC := e.lastSCWrite(loc, curr); lastSC != nil {
			e.moGraph.AddEdge(lastSC, curr)
		}
	}

	for _, list := range e.objThrdMap[loc] {
		for i := len(list) - 1; i >= 0; i-- {
			act := list[i]
			if act == curr {
				continue
			}
			if !act.HappensBefore(curr) {
				continue
			}
			switch {
			case act.IsWrite():
				e.moGraph.AddEdge(act, curr)
			case act.IsRead() && act.ReadsFrom() != nil:
				if act.ReadsFrom() != curr {
					e.moGraph.AddEdge(act.ReadsFrom(), curr)
				}
			case act.IsRead():
				// The read is pending on a promise: the promised
				// write precedes curr in modification order.
				if p := e.promiseFor[act]; p != nil {
					e.moGraph.AddEdgeFromPromise(p, curr)
				}
			}
			break
		}
	}
}

// resolvePromises satisfies every pending promise this write matches.
// The placeholder node in the mo graph is rewired onto curr; a cycle
// there means the position was inconsistent and the graph flag already
// prunes the execution.
func (e *Engine) resolvePromises(curr *action.ModelAction) {
	for _, p := range e.promises.Resolve(curr) {
		e.moGraph.ResolvePromise(p, curr)
		reader := p.Reader()
		reader.SetReadsFrom(curr)
		delete(e.promiseFor, reader)
		e.promises.Remove(p)

		// Synchronization discovered after the fact cannot be
		// propagated backward into clocks already computed.
		if reader.IsAcquire() && curr.IsRelease() {
			e.badSynchronization = true
		}
	}
}

// sendFutureValues offers curr's value to earlier reads on the same
// location in other threads. A read causally before curr can never
// observe it; everything else may, on a later execution, read curr
// through a promise.
func (e *Engine) sendFutureValues(curr *action.ModelAction) {
	if e.params.MaxFutureValues <= 0 {
		return
	}
	expiration := curr.Seq() + e.params.MaxFutureDelay
	for _, act := range e.objMap[curr.Location()] {
		if !act.IsRead() || act.SameThread(curr) || act.IsRMWRead() || act.IsRMW() {
			continue
		}
		if act.HappensBefore(curr) {
			continue
		}
		// Resolving an acquire read against a release write after the
		// fact cannot propagate the synchronization backward; such a
		// promise could only ever die as bad synchronization, so it is
		// never offered.
		if act.IsAcquire() && curr.IsRelease() {
			continue
		}
		node := e.actionNode[act]
		if node == nil {
			continue
		}
		node.AddFutureValue(curr.Value(), expiration,
			e.params.MaxFutureValues, e.params.ExpireSlop)
	}
}

package engine

import (
	"sort"

	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/nodestack"
	"github.com/androm3da/model-checker/internal/model/promise"
)

// processRead selects the write curr reads from, updates the
// modification order, and synchronizes if curr is an acquire. Returns
// the value observed.
//
// The candidate set lives on curr's node: the first visit selects the
// newest candidate, later visits of the same node (on backtracked
// executions) walk toward older candidates, and once past candidates
// are exhausted the node's future values turn the read into a promise.
func (e *Engine) processRead(curr *action.ModelAction, node *nodestack.Node) uint64 {
	e.buildReadsFromPast(curr, node)

	if rf := node.GetReadFromPast(); rf != nil {
		e.checkRecency(curr, rf, node)

		e.moGraph.StartChanges()
		e.rModificationOrder(curr, rf)
		e.moGraph.CommitChanges()

		curr.SetReadsFrom(rf)
		curr.SetValue(rf.Value())
		if curr.IsAcquire() {
			e.synchronizeAcquire(curr, rf)
		}
		return rf.Value()
	}

	// Past candidates exhausted: speculate on a future value. RMW
	// reads never speculate — an RMW whose write value depends on a
	// promised value is an out-of-thin-air risk, so the candidate set
	// simply stops at past writes.
	if fv, ok := node.CurrentFutureValue(); ok && !curr.IsRMWRead() {
		p := promise.New(curr, fv.Value, fv.Expiration, e.liveThreads())
		if p.HasFailed() {
			e.failedPromise = true
			return fv.Value
		}
		e.promises.Add(p)
		e.promiseFor[curr] = p

		// Every write that happens before curr is ordered before the
		// promised write: the reader cannot observe a value older
		// than what its own causal past already wrote.
		for _, w := range e.writesTo(curr.Location()) {
			if w.HappensBefore(curr) {
				e.moGraph.AddEdgeToPromise(w, p)
			}
		}
		curr.SetValue(fv.Value)
		return fv.Value
	}

	if !e.initialized[curr.Location()] {
		e.reportBug(BugUninitLoad, "load from location %d before any init or store", curr.Location())
		return 0
	}
	// An initialized location with no legal candidate means the
	// exclusion rules ate the whole set; prune rather than invent.
	e.badSynchronization = true
	return 0
}

// buildReadsFromPast refreshes the node's candidate set: all writes to
// the location except those hidden by a newer write already in curr's
// happens-before past, ordered newest first. For seq_cst reads the
// last seq_cst write additionally hides all earlier seq_cst writes and
// everything in its own past.
func (e *Engine) buildReadsFromPast(curr *action.ModelAction, node *nodestack.Node) {
	loc := curr.Location()
	writes := e.writesTo(loc)
	lastSC := e.lastSCWrite(loc, curr)

	var candidates []*action.ModelAction
	for _, w := range writes {
		if w == curr {
			continue
		}
		if e.hiddenFromRead(w, writes, curr) {
			continue
		}
		if curr.IsSeqCst() && lastSC != nil && w != lastSC &&
			(w.IsSeqCst() || w.HappensBefore(lastSC)) {
			continue
		}
		candidates = append(candidates, w)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Seq() > candidates[j].Seq()
	})
	node.SetMayReadFrom(candidates)
}

// hiddenFromRead reports whether write w is unreadable by curr because
// some other write w2 both follows w (in hb or recorded mo) and is
// already in curr's happens-before past.
func (e *Engine) hiddenFromRead(w *action.ModelAction, writes []*action.ModelAction, curr *action.ModelAction) bool {
	for _, w2 := range writes {
		if w2 == w || w2 == curr {
			continue
		}
		if !w2.HappensBefore(curr) {
			continue
		}
		if w.HappensBefore(w2) || e.moGraph.CheckReachable(w, w2) {
			return true
		}
	}
	return false
}

// lastSCWrite returns the most recent seq_cst write to loc, excluding
// curr itself.
func (e *Engine) lastSCWrite(loc action.Location, curr *action.ModelAction) *action.ModelAction {
	list := e.objMap[loc]
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if a != curr && a.IsWrite() && a.IsSeqCst() {
			return a
		}
	}
	return nil
}

// rModificationOrder adds the mo edges implied by curr reading rf: for
// each thread, its latest action in curr's happens-before past orders
// its write (or the write it read) before rf. A seq_cst read also
// orders the last seq_cst write before rf.
func (e *Engine) rModificationOrder(curr, rf *action.ModelAction) {
	loc := curr.Location()

	if curr.IsSeqCst() {
		if lastSC := e.lastSCWrite(loc, curr); lastSC != nil && lastSC != rf {
			e.moGraph.AddEdge(lastSC, rf)
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
			if act.IsWrite() {
				if act != rf {
					e.moGraph.AddEdge(act, rf)
				}
			} else if act.IsRead() && act.ReadsFrom() != nil && act.ReadsFrom() != rf {
				e.moGraph.AddEdge(act.ReadsFrom(), rf)
			}
			break
		}
	}
}

// checkRecency prunes executions where the same read keeps choosing
// the same stale write while newer writes are available. Without the
// cap, promise-driven exploration could spin on stale reads forever.
func (e *Engine) checkRecency(curr, rf *action.ModelAction, node *nodestack.Node) {
	if e.params.MaxReads <= 0 {
		return
	}
	candidates := node.MayReadFrom()
	if len(candidates) == 0 || candidates[0] == rf {
		return // rf is the newest; nothing fresher to read.
	}

	list := e.objThrdMap[curr.Location()][curr.TID()]
	stale := 0
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if a == curr || !a.IsRead() {
			break
		}
		if a.ReadsFrom() != rf {
			break
		}
		stale++
	}
	if stale >= e.params.MaxReads {
		e.tooManyReads = true
	}
}

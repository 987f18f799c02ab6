package engine

import "github.com/androm3da/model-checker/internal/model/action"

// getLastConflict returns the most recent action in the trace that
// conflicts with act: same location, different thread, at least one
// write (or both mutex operations).
func (e *Engine) getLastConflict(act *action.ModelAction) *action.ModelAction {
	list := e.objMap[act.Location()]
	for i := len(list) - 1; i >= 0; i-- {
		prev := list[i]
		if prev == act {
			continue
		}
		if prev.ConflictsWith(act) {
			return prev
		}
	}
	return nil
}

// setBacktracking records the alternative interleaving implied by a
// conflict: at the point where the conflicting earlier action ran,
// curr's thread could have run instead. The alternative is stored on
// the node preceding the conflict — the decision point — and explored
// by a later execution.
func (e *Engine) setBacktracking(curr *action.ModelAction) {
	prev := e.getLastConflict(curr)
	if prev == nil {
		return
	}
	prevNode := e.actionNode[prev]
	if prevNode == nil {
		return
	}
	parent := prevNode.Parent()
	if parent == nil {
		return
	}
	tid := curr.TID()
	if !prevNode.IsEnabledPre(tid) {
		return // curr's thread was not schedulable at that point
	}
	if prevNode.InSleepSet(tid) {
		return // proven redundant there
	}
	if parent.HasBeenExplored(tid) {
		return
	}
	parent.SetBacktrack(tid)
}

// NextExecution rewinds to the deepest node with an unexplored
// alternative and prepares replay of the fixed prefix. Returns false
// when the exploration space is exhausted.
//
// A thread alternative truncates the stack after the decision node and
// forces the recorded thread; the thread that previously ran there
// enters the sleep set for the new branch. A behavior alternative
// (reads-from candidate, future value, trylock outcome, release-
// sequence break) keeps the node itself, advances its cursor, and
// re-executes its action during replay.
func (e *Engine) NextExecution() bool {
	for idx := e.nodeStack.Len() - 1; idx >= 0; idx-- {
		n := e.nodeStack.NodeAt(idx)

		if !n.BacktrackEmpty() {
			oldTid := -1
			if idx+1 < e.nodeStack.Len() {
				oldTid = e.nodeStack.NodeAt(idx + 1).Action().TID()
			}
			e.forcedTid = n.GetNextBacktrack()
			e.sleepOldTid = oldTid
			e.nodeStack.TruncateTo(idx)
			e.boundary.Restore(e.checkpoint)
			return true
		}

		if n.HasBehaviorAlternatives() {
			n.IncrementBehavior()
			e.forcedTid = -1
			e.sleepOldTid = -1
			e.nodeStack.TruncateTo(idx)
			e.boundary.Restore(e.checkpoint)
			return true
		}
	}
	return false
}

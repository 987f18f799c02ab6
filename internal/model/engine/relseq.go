package engine

import (
	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/clockvector"
)

// releaseSeqHeads computes the release-sequence heads reaching rf: the
// release writes whose sequence — the head itself, subsequent RMWs by
// any thread, and writes by the head's thread — contains rf. An
// acquire reading from rf synchronizes with every head.
//
// The RMW part of the chain is walked exactly: each RMW immediately
// follows its reads-from in modification order. If the chain grounds
// in a non-release write, an earlier release by that write's thread
// heads the sequence only if no other-thread write lands between them
// in modification order; writes whose position is still undetermined
// make the sequence pending, to be re-examined as the order grows.
func (e *Engine) releaseSeqHeads(acquire, rf *action.ModelAction) ([]*action.ModelAction, *pendingRelSeq) {
	var heads []*action.ModelAction

	cur := rf
	for cur != nil {
		if cur.IsRelease() {
			heads = append(heads, cur)
		} else if fence := e.releaseFenceBefore(cur); fence != nil {
			// A relaxed write after a release fence heads a sequence
			// with the fence's clock.
			heads = append(heads, fence)
		}
		if !cur.IsRMW() {
			break
		}
		cur = cur.ReadsFrom()
	}
	if cur == nil || cur.IsRelease() {
		return heads, nil
	}

	release := e.lastReleaseBy(cur.Location(), cur.TID(), cur.Seq())
	if release == nil {
		return heads, nil
	}

	var ambiguous []*action.ModelAction
	for _, w := range e.writesTo(cur.Location()) {
		if w == release || w == cur || w.TID() == cur.TID() || w.IsRMW() {
			continue
		}
		outside := w.HappensBefore(release) || cur.HappensBefore(w) ||
			e.moGraph.CheckReachable(w, release) || e.moGraph.CheckReachable(cur, w)
		if outside {
			continue
		}
		if e.moGraph.CheckReachable(release, w) && e.moGraph.CheckReachable(w, cur) {
			// Provably inside the window: the sequence is broken.
			return heads, nil
		}
		ambiguous = append(ambiguous, w)
	}
	if len(ambiguous) == 0 {
		heads = append(heads, release)
		return heads, nil
	}
	return heads, &pendingRelSeq{
		acquire: acquire, rf: rf, release: release, base: cur, writes: ambiguous,
	}
}

// lastReleaseBy returns the most recent release write to loc by tid
// before seq.
func (e *Engine) lastReleaseBy(loc action.Location, tid int, seq uint64) *action.ModelAction {
	list := e.objMap[loc]
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if a.TID() == tid && a.IsWrite() && a.IsRelease() && a.Seq() < seq {
			return a
		}
	}
	return nil
}

// releaseFenceBefore returns the most recent release fence on w's
// thread preceding w, if any.
func (e *Engine) releaseFenceBefore(w *action.ModelAction) *action.ModelAction {
	for i := len(e.trace) - 1; i >= 0; i-- {
		a := e.trace[i]
		if a.Seq() >= w.Seq() || a.TID() != w.TID() {
			continue
		}
		if a.IsFence() && a.IsRelease() {
			return a
		}
	}
	return nil
}

// synchronizeAcquire applies release-sequence synchronization for an
// acquire read; undetermined sequences are parked in pendingRelSeqs
// for lazy resolution.
func (e *Engine) synchronizeAcquire(curr, rf *action.ModelAction) {
	heads, pending := e.releaseSeqHeads(curr, rf)
	for _, h := range heads {
		if !curr.SynchronizeWith(h) {
			e.badSynchronization = true
		}
	}
	if pending != nil {
		e.pendingRelSeqs = append(e.pendingRelSeqs, pending)
	}
}

// resolveReleaseSequences re-examines pending release sequences after
// a new write to the same location. Sequences that became certain are
// handed to a fixup action; still-ambiguous ones stay pending.
func (e *Engine) resolveReleaseSequences(curr *action.ModelAction) {
	loc := curr.Location()
	var still []*pendingRelSeq
	for _, pr := range e.pendingRelSeqs {
		if pr.rf.Location() != loc {
			still = append(still, pr)
			continue
		}
		heads, pending := e.releaseSeqHeads(pr.acquire, pr.rf)
		if pending != nil {
			still = append(still, pending)
			continue
		}
		if containsAction(heads, pr.release) {
			e.fixupQueue = append(e.fixupQueue, pr)
		}
	}
	e.pendingRelSeqs = still
}

func containsAction(list []*action.ModelAction, a *action.ModelAction) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// drainFixups processes queued release-sequence fixups as model-thread
// actions appended to the trace.
func (e *Engine) drainFixups() {
	for len(e.fixupQueue) > 0 {
		pr := e.fixupQueue[0]
		e.fixupQueue = e.fixupQueue[1:]
		e.processRelseqFixup(pr)
	}
}

// processRelseqFixup propagates a lazily established release sequence
// into clock vectors. The fixup's node enumerates the candidate break
// writes: the default outcome takes the sequence to hold; each
// alternative commits one break write inside the window instead, so
// later executions explore the broken ordering too.
func (e *Engine) processRelseqFixup(pr *pendingRelSeq) {
	e.seqCounter++
	act := action.New(action.FixupRelSeq, action.SeqCst, pr.rf.Location(), 0, modelTID)
	act.SetSeq(e.seqCounter)
	var parentCV *clockvector.ClockVector
	if last := e.thrdLastAction[modelTID]; last != nil {
		parentCV = last.ClockVector()
	}
	act.SetClockVector(clockvector.NewFromParent(parentCV, modelTID, act.Seq()))

	node, _ := e.nodeStack.ExploreAction(act, e.sched.EnabledSnapshot(), e.sched.SleepSet())
	e.actionNode[act] = node
	node.SetRelseqBreaks(pr.writes)

	if breakWrite := node.GetRelseqBreak(); breakWrite != nil {
		// Commit the break into modification order so this execution
		// consistently observes a broken sequence.
		e.moGraph.AddEdge(pr.release, breakWrite)
		e.moGraph.AddEdge(breakWrite, pr.base)
	} else {
		// Sequence holds: synchronize the acquire late and propagate
		// into its thread's current clock.
		if !pr.acquire.SynchronizeWith(pr.release) {
			e.badSynchronization = true
		}
		if last := e.thrdLastAction[pr.acquire.TID()]; last != nil && last != pr.acquire {
			last.ClockVector().Merge(pr.acquire.ClockVector())
		}
	}

	e.addActionToLists(act)
	e.lastKind = act.Kind()
	e.lastTid = modelTID
	e.logAction(act)
}

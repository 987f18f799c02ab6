package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/androm3da/model-checker/internal/model/schedule"
)

// Bug kinds reported to the user.
const (
	BugDataRace   = "data race"
	BugAssertion  = "assertion violation"
	BugDeadlock   = "deadlock"
	BugUninitLoad = "uninitialized load"
	BugUserFatal  = "user program fatal"
)

// Bug describes one bug found in an execution.
type Bug struct {
	Kind string
	Msg  string
}

func (b Bug) String() string { return b.Kind + ": " + b.Msg }

// Stats are the cumulative execution statistics.
type Stats struct {
	NumTotal      int
	NumInfeasible int
	NumBuggy      int
	NumComplete   int
}

// Outcome classifies one finished execution.
type Outcome int

const (
	// OutcomeComplete is a feasible, bug-free, complete execution.
	OutcomeComplete Outcome = iota
	// OutcomeInfeasible was pruned by a feasibility flag or pending promise.
	OutcomeInfeasible
	// OutcomeBuggy is feasible but contains at least one bug.
	OutcomeBuggy
)

// reportBug records a bug in the current execution.
func (e *Engine) reportBug(kind, format string, args ...interface{}) {
	b := Bug{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	e.bugs = append(e.bugs, b)
	e.log.WithField("execution", e.stats.NumTotal+1).Warnf("bug: %s", b)
}

// AssertUserBug reports a failed user assertion and ends the current
// execution after the in-flight action completes.
func (e *Engine) AssertUserBug(msg string) {
	e.reportBug(BugAssertion, "%s", msg)
	e.asserted = true
}

// logAction emits the per-action trace line at debug level.
func (e *Engine) logAction(curr interface{ String() string }) {
	if e.log.IsLevelEnabled(log.DebugLevel) {
		e.log.Debug(curr.String())
	}
}

// captureTrace renders the current trace for bug reports.
func (e *Engine) captureTrace() []string {
	out := make([]string, 0, len(e.trace))
	for _, a := range e.trace {
		out = append(out, a.String())
	}
	return out
}

// endExecution classifies the finished execution, updates statistics,
// and tears the fiber runtime down.
func (e *Engine) endExecution() {
	// Resolve release sequences still pending at the end of the trace.
	e.fixupQueue = append(e.fixupQueue, e.pendingRelSeqs...)
	e.pendingRelSeqs = nil
	e.drainFixups()

	// Deadlock: nothing enabled while some thread is still blocked.
	if e.isFeasible() && !e.sched.AnyEnabled() {
		for tid := 1; tid < e.sched.NumThreads(); tid++ {
			if e.sched.State(tid) == schedule.Blocked {
				e.reportBug(BugDeadlock, "no thread enabled; thread %d blocked", tid)
				break
			}
		}
	}

	e.stats.NumTotal++
	switch {
	case !e.isFinalFeasible():
		// Unresolved promises make the whole execution speculative;
		// bugs observed under an unjustified speculation are discarded
		// with it.
		e.lastOutcome = OutcomeInfeasible
		e.stats.NumInfeasible++
	case len(e.bugs) > 0:
		e.lastOutcome = OutcomeBuggy
		e.stats.NumBuggy++
		if e.firstBug == nil {
			e.firstBug = append([]Bug(nil), e.bugs...)
			e.bugTrace = e.captureTrace()
		}
	default:
		e.lastOutcome = OutcomeComplete
		e.stats.NumComplete++
	}

	e.log.WithFields(log.Fields{
		"execution": e.stats.NumTotal,
		"actions":   len(e.trace),
		"outcome":   e.lastOutcome,
	}).Info("execution finished")

	e.rt.DestroyAll()
}

// String names the outcome in logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeInfeasible:
		return "infeasible"
	case OutcomeBuggy:
		return "buggy"
	default:
		return "unknown"
	}
}

// LastOutcome returns the classification of the most recently finished
// execution.
func (e *Engine) LastOutcome() Outcome { return e.lastOutcome }

// Stats returns the cumulative statistics.
func (e *Engine) Stats() Stats { return e.stats }

// FirstBugReport returns the bugs and trace of the first buggy
// execution, if any.
func (e *Engine) FirstBugReport() ([]Bug, []string) { return e.firstBug, e.bugTrace }

// FoundBugs reports whether any feasible execution contained a bug.
func (e *Engine) FoundBugs() bool { return e.stats.NumBuggy > 0 }

// PrintSummary logs the cumulative statistics and, for buggy programs,
// the first buggy trace.
func (e *Engine) PrintSummary() {
	e.log.WithFields(log.Fields{
		"total":      e.stats.NumTotal,
		"complete":   e.stats.NumComplete,
		"infeasible": e.stats.NumInfeasible,
		"buggy":      e.stats.NumBuggy,
	}).Info("exploration finished")

	if e.firstBug != nil {
		e.log.Warn("first buggy execution:")
		for _, line := range e.bugTrace {
			e.log.Warn("  " + line)
		}
		for _, b := range e.firstBug {
			e.log.Warnf("  %s", b)
		}
	}
}

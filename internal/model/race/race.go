// Package race checks plain (non-atomic) accesses for data races.
//
// The engine computes a full clock vector for every action, so the
// check is the classic happens-before rule: two accesses to the same
// plain location race when neither happens before the other and at
// least one is a write. Per location the checker keeps the last write
// plus every read since that write — a write that happens after all of
// them dominates the history, exactly the shadow-cell discipline of
// FastTrack-style detectors, minus the epoch fast path that only pays
// off under real parallelism.
package race

import (
	"fmt"

	"github.com/androm3da/model-checker/internal/model/action"
)

// Race kind constants used in reports and deduplication keys.
const (
	KindWriteWrite = "write-write"
	KindReadWrite  = "read-write"
	KindWriteRead  = "write-read"
)

// Report describes one detected data race.
type Report struct {
	// Kind is one of the race kind constants.
	Kind string

	// Loc is the plain location both accesses touched.
	Loc action.Location

	// Current is the access that triggered detection; Previous is the
	// earlier conflicting access.
	Current  *action.ModelAction
	Previous *action.ModelAction
}

// String formats the report for bug output.
func (r *Report) String() string {
	return fmt.Sprintf("data race (%s) on location %d: t%d #%d vs t%d #%d",
		r.Kind, r.Loc,
		r.Previous.TID(), r.Previous.Seq(),
		r.Current.TID(), r.Current.Seq())
}

// cell is the shadow state for one plain location.
type cell struct {
	lastWrite *action.ModelAction
	reads     []*action.ModelAction
}

// Checker holds the shadow cells for one execution.
type Checker struct {
	cells map[action.Location]*cell

	// reported dedupes races by (kind, location, thread pair) so one
	// racy loop does not flood the output.
	reported map[string]bool
}

// New creates an empty checker. The engine builds a fresh one per
// execution; shadow state dies with the execution's actions.
func New() *Checker {
	return &Checker{
		cells:    make(map[action.Location]*cell),
		reported: make(map[string]bool),
	}
}

func (c *Checker) cellFor(loc action.Location) *cell {
	cl := c.cells[loc]
	if cl == nil {
		cl = &cell{}
		c.cells[loc] = cl
	}
	return cl
}

// dedupKey builds the canonical race identity; the thread pair is
// ordered so either detection direction maps to the same key.
func dedupKey(kind string, loc action.Location, tid1, tid2 int) string {
	if tid1 > tid2 {
		tid1, tid2 = tid2, tid1
	}
	return fmt.Sprintf("%s:%d:%d:%d", kind, loc, tid1, tid2)
}

func (c *Checker) report(kind string, prev, curr *action.ModelAction) *Report {
	key := dedupKey(kind, curr.Location(), prev.TID(), curr.TID())
	if c.reported[key] {
		return nil
	}
	c.reported[key] = true
	return &Report{Kind: kind, Loc: curr.Location(), Current: curr, Previous: prev}
}

// OnWrite checks a plain write against the location's shadow state and
// updates it. Returns the races found (deduplicated), if any.
func (c *Checker) OnWrite(curr *action.ModelAction) []*Report {
	cl := c.cellFor(curr.Location())
	var out []*Report

	if cl.lastWrite != nil && !cl.lastWrite.SameThread(curr) &&
		!cl.lastWrite.HappensBefore(curr) {
		if r := c.report(KindWriteWrite, cl.lastWrite, curr); r != nil {
			out = append(out, r)
		}
	}
	for _, rd := range cl.reads {
		if !rd.SameThread(curr) && !rd.HappensBefore(curr) {
			if r := c.report(KindReadWrite, rd, curr); r != nil {
				out = append(out, r)
			}
		}
	}

	// The write dominates the history from here on.
	cl.lastWrite = curr
	cl.reads = cl.reads[:0]
	return out
}

// OnRead checks a plain read against the last write and records it.
func (c *Checker) OnRead(curr *action.ModelAction) []*Report {
	cl := c.cellFor(curr.Location())
	var out []*Report

	if cl.lastWrite != nil && !cl.lastWrite.SameThread(curr) &&
		!cl.lastWrite.HappensBefore(curr) {
		if r := c.report(KindWriteRead, cl.lastWrite, curr); r != nil {
			out = append(out, r)
		}
	}
	cl.reads = append(cl.reads, curr)
	return out
}

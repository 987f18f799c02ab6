// Package promise tracks future-value reads awaiting their justifying
// writes.
//
// When a read selects a future value, the engine records a Promise: an
// obligation that some thread eventually performs a write of that value
// to that location, in a modification-order position consistent with
// the reader. A promise that expires, or whose last candidate thread
// finishes without writing, makes the execution infeasible.
package promise

import "github.com/androm3da/model-checker/internal/model/action"

// Promise is one pending future-value obligation.
type Promise struct {
	reader     *action.ModelAction
	value      uint64
	expiration uint64

	// available[tid] marks threads that may still perform the
	// justifying write. Threads are eliminated only as they finish;
	// no check of whether a live thread can still write in time is made.
	available map[int]bool
}

// New creates a promise for reader observing value, expiring at the
// given sequence number. Every thread in tids starts available.
func New(reader *action.ModelAction, value uint64, expiration uint64, tids []int) *Promise {
	p := &Promise{
		reader:     reader,
		value:      value,
		expiration: expiration,
		available:  make(map[int]bool, len(tids)),
	}
	for _, tid := range tids {
		// The reader's own thread can never justify its read; a
		// write after the read in program order that feeds the read
		// would be an out-of-thin-air cycle.
		if tid != reader.TID() {
			p.available[tid] = true
		}
	}
	return p
}

// Reader returns the read this promise justifies.
func (p *Promise) Reader() *action.ModelAction { return p.reader }

// Value returns the promised value.
func (p *Promise) Value() uint64 { return p.value }

// Expiration returns the sequence number after which the promise fails.
func (p *Promise) Expiration() uint64 { return p.expiration }

// SetExpiration extends the expiration horizon.
func (p *Promise) SetExpiration(exp uint64) { p.expiration = exp }

// ThreadAvailable reports whether tid may still resolve the promise.
func (p *Promise) ThreadAvailable(tid int) bool { return p.available[tid] }

// EliminateThread removes tid from the candidate set. Returns true if
// the promise has failed: no thread can resolve it any more.
func (p *Promise) EliminateThread(tid int) bool {
	delete(p.available, tid)
	return p.HasFailed()
}

// HasFailed reports whether no candidate thread remains.
func (p *Promise) HasFailed() bool { return len(p.available) == 0 }

// CanBeResolvedBy reports whether write w matches the promise: same
// location, same value, and the writing thread is still available.
// Modification-order consistency is the engine's check.
func (p *Promise) CanBeResolvedBy(w *action.ModelAction) bool {
	return w.IsWrite() &&
		w.Location() == p.reader.Location() &&
		w.Value() == p.value &&
		p.available[w.TID()]
}

// Set is the collection of pending promises for one execution.
type Set struct {
	promises []*Promise
}

// NewSet creates an empty promise set.
func NewSet() *Set {
	return &Set{}
}

// Add registers a pending promise.
func (s *Set) Add(p *Promise) {
	s.promises = append(s.promises, p)
}

// Remove drops a resolved or failed promise.
func (s *Set) Remove(p *Promise) {
	for i, q := range s.promises {
		if q == p {
			s.promises = append(s.promises[:i], s.promises[i+1:]...)
			return
		}
	}
}

// Resolve returns the promises write w may satisfy, by location, value
// and thread availability. The engine still rejects candidates whose
// modification-order position is inconsistent with the reader.
func (s *Set) Resolve(w *action.ModelAction) []*Promise {
	var matched []*Promise
	for _, p := range s.promises {
		if p.CanBeResolvedBy(w) {
			matched = append(matched, p)
		}
	}
	return matched
}

// CheckExpired returns the promises whose expiration lies strictly
// before seq. The execution is infeasible if any are forced to expire
// unfulfilled.
func (s *Set) CheckExpired(seq uint64) []*Promise {
	var expired []*Promise
	for _, p := range s.promises {
		if p.Expiration() < seq {
			expired = append(expired, p)
		}
	}
	return expired
}

// EliminateThread removes tid from every pending promise. Returns true
// if any promise failed as a result.
func (s *Set) EliminateThread(tid int) bool {
	failed := false
	for _, p := range s.promises {
		if p.EliminateThread(tid) {
			failed = true
		}
	}
	return failed
}

// HasPending reports whether any promise is still unresolved.
func (s *Set) HasPending() bool { return len(s.promises) > 0 }

// All returns the pending promises, oldest first.
func (s *Set) All() []*Promise { return s.promises }

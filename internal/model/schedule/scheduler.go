// Package schedule picks the next user thread to run.
//
// The scheduler tracks each thread's liveness and enabled status,
// maintains the sleep set for the current exploration point, and
// applies a starvation throttle: a thread that has stayed enabled but
// unscheduled for too many consecutive decisions is forced to run.
//
// Thread ids are dense small integers; tid 0 is the model-checker
// thread and never scheduled.
package schedule

// ThreadState is the lifecycle state of one user thread.
type ThreadState int

const (
	// Created means the thread exists but has not run its first action.
	Created ThreadState = iota
	// Ready means the thread can be scheduled.
	Ready
	// Running means the thread is the current thread.
	Running
	// Blocked means the thread waits on a mutex, join, or condvar.
	Blocked
	// Completed means the thread has finished.
	Completed
)

// String returns the state name used in trace output.
func (s ThreadState) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// enabledType is a thread's schedulability.
type enabledType int

const (
	disabled enabledType = iota
	enabled
	sleeping
)

// Scheduler holds the runnable set, the current thread, and the sleep
// set for the current node.
type Scheduler struct {
	states  []ThreadState
	enabled []enabledType
	curr    int

	// Fairness. streak[tid] counts consecutive scheduling decisions at
	// which tid was enabled but not selected. The counter resets when
	// the thread runs or stops being enabled. With fairWindow > 0, a
	// streak reaching enabledCount forces the thread.
	fairWindow   uint
	enabledCount uint
	streak       []uint
}

// New creates a scheduler with the given fairness parameters. A
// fairWindow of zero disables the starvation throttle.
func New(fairWindow, enabledCount uint) *Scheduler {
	return &Scheduler{fairWindow: fairWindow, enabledCount: enabledCount, curr: -1}
}

func (s *Scheduler) ensure(tid int) {
	for len(s.states) <= tid {
		s.states = append(s.states, Created)
		s.enabled = append(s.enabled, disabled)
		s.streak = append(s.streak, 0)
	}
}

// AddThread registers a new thread as ready and enabled.
func (s *Scheduler) AddThread(tid int) {
	s.ensure(tid)
	s.states[tid] = Ready
	s.enabled[tid] = enabled
}

// State returns tid's lifecycle state.
func (s *Scheduler) State(tid int) ThreadState {
	if tid >= len(s.states) {
		return Created
	}
	return s.states[tid]
}

// NumThreads returns the number of registered thread slots.
func (s *Scheduler) NumThreads() int { return len(s.states) }

// SetEnabled makes a blocked thread schedulable again.
func (s *Scheduler) SetEnabled(tid int) {
	s.ensure(tid)
	if s.states[tid] == Completed {
		return
	}
	if s.states[tid] == Blocked {
		s.states[tid] = Ready
	}
	if s.enabled[tid] != sleeping {
		s.enabled[tid] = enabled
	}
}

// SetDisabled blocks a thread; it will not be selected until enabled.
func (s *Scheduler) SetDisabled(tid int) {
	s.ensure(tid)
	s.states[tid] = Blocked
	s.enabled[tid] = disabled
	s.streak[tid] = 0
}

// ThreadCompleted marks tid finished; it is never scheduled again.
func (s *Scheduler) ThreadCompleted(tid int) {
	s.ensure(tid)
	s.states[tid] = Completed
	s.enabled[tid] = disabled
	s.streak[tid] = 0
}

// AddSleep moves tid into the sleep set.
func (s *Scheduler) AddSleep(tid int) {
	s.ensure(tid)
	if s.enabled[tid] == enabled {
		s.enabled[tid] = sleeping
	}
}

// RemoveSleep wakes tid from the sleep set.
func (s *Scheduler) RemoveSleep(tid int) {
	s.ensure(tid)
	if s.enabled[tid] == sleeping {
		s.enabled[tid] = enabled
	}
}

// IsSleeping reports whether tid is in the sleep set.
func (s *Scheduler) IsSleeping(tid int) bool {
	return tid < len(s.enabled) && s.enabled[tid] == sleeping
}

// IsEnabled reports whether tid is schedulable right now.
func (s *Scheduler) IsEnabled(tid int) bool {
	return tid < len(s.enabled) && s.enabled[tid] == enabled
}

// SleepSetEmpty reports whether no thread is sleeping.
func (s *Scheduler) SleepSetEmpty() bool {
	for _, e := range s.enabled {
		if e == sleeping {
			return false
		}
	}
	return true
}

// SleepSet returns the sleeping thread ids as a set.
func (s *Scheduler) SleepSet() map[int]bool {
	out := make(map[int]bool)
	for tid, e := range s.enabled {
		if e == sleeping {
			out[tid] = true
		}
	}
	return out
}

// SetSleepSet replaces the sleep set wholesale; replay uses it to
// restore the set recorded on a node.
func (s *Scheduler) SetSleepSet(set map[int]bool) {
	for tid := range s.enabled {
		if s.enabled[tid] == sleeping {
			s.enabled[tid] = enabled
		}
	}
	for tid := range set {
		s.AddSleep(tid)
	}
}

// EnabledSnapshot returns the enabled set as a bool slice indexed by
// tid; sleeping and disabled threads read false.
func (s *Scheduler) EnabledSnapshot() []bool {
	out := make([]bool, len(s.enabled))
	for tid, e := range s.enabled {
		out[tid] = e == enabled
	}
	return out
}

// AnyEnabled reports whether any thread can be scheduled.
func (s *Scheduler) AnyEnabled() bool {
	for _, e := range s.enabled {
		if e == enabled {
			return true
		}
	}
	return false
}

// AnyLive reports whether any thread is not yet completed. Used to
// distinguish deadlock from completion when nothing is enabled.
func (s *Scheduler) AnyLive() bool {
	for tid := 1; tid < len(s.states); tid++ {
		if s.states[tid] != Completed {
			return true
		}
	}
	return false
}

// CurrentThread returns the last selected thread, -1 before the first
// selection.
func (s *Scheduler) CurrentThread() int { return s.curr }

// SetCurrentThread forces the current thread; replay uses this to
// follow a recorded prefix.
func (s *Scheduler) SetCurrentThread(tid int) {
	s.curr = tid
	if tid >= 0 && tid < len(s.streak) {
		s.streak[tid] = 0
	}
}

// SelectNextThread picks a deterministic enabled, non-sleeping thread:
// the lowest id, unless the starvation throttle forces a long-enabled
// thread first. Returns false when nothing is enabled.
func (s *Scheduler) SelectNextThread() (int, bool) {
	pick := -1
	if s.fairWindow > 0 {
		for tid := 1; tid < len(s.enabled); tid++ {
			if s.enabled[tid] == enabled && s.streak[tid] >= s.enabledCount {
				pick = tid
				break
			}
		}
	}
	if pick < 0 {
		for tid := 1; tid < len(s.enabled); tid++ {
			if s.enabled[tid] == enabled {
				pick = tid
				break
			}
		}
	}
	if pick < 0 {
		return -1, false
	}
	for tid := 1; tid < len(s.enabled); tid++ {
		if s.enabled[tid] == enabled && tid != pick {
			s.streak[tid]++
			if s.fairWindow > 0 && s.streak[tid] > s.fairWindow {
				s.streak[tid] = s.fairWindow
			}
		}
	}
	s.SetCurrentThread(pick)
	return pick, true
}

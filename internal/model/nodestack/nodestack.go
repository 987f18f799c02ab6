// Package nodestack maintains the exploration tree.
//
// One Node exists per executed action in the current trace, plus a
// root Node for the initial scheduling decision. Nodes are the
// persistent artifact of exploration: actions and the modification
// order die when an execution is rolled back, but Nodes survive and
// carry everything needed to drive the next execution down a different
// branch — which threads have been tried at each point, which
// reads-from candidates and future values a read has consumed, and
// which binary outcomes (trylock, release-sequence breaks) remain.
//
// Replay works like a DFS path over ambiguous choices: the stack holds
// the current path, the head cursor walks it while a prefix is being
// replayed, and fresh Nodes are appended once the replay is exhausted.
// A replayed action must match the recorded thread and kind; anything
// else is non-determinism in the program under test.
package nodestack

import (
	"fmt"

	"github.com/androm3da/model-checker/internal/model/action"
)

// FutureValue is a speculative value sent to a read by a later write.
type FutureValue struct {
	Value      uint64
	Expiration uint64
}

// Node records the backtracking state for one executed action.
type Node struct {
	act    *action.ModelAction
	parent *Node
	index  int

	// enabledPre is the set of enabled threads just before this
	// node's action executed: the candidates at this decision point.
	enabledPre []bool

	// exploredChildren and backtrack describe the choice of the NEXT
	// action's thread. exploredChildren[tid] marks threads already run
	// from this point; backtrack[tid] marks threads that must still be
	// tried.
	exploredChildren []bool
	backtrack        []bool
	numBacktracks    int

	// sleep is the sleep set in force when this node's action ran.
	sleep map[int]bool

	// Reads-from alternatives for read actions. The candidate list is
	// refreshed every execution (action objects die on rollback); the
	// cursor persists.
	mayReadFrom []*action.ModelAction
	readFromIdx int

	futureValues []FutureValue
	futureIdx    int

	// misc is a small enumerated choice attached to the action:
	// trylock success/failure. Release-sequence fixups use
	// relseqBreaks below instead.
	miscIdx int
	miscMax int

	// relseqBreaks lists candidate writes that may break a pending
	// release sequence; index -1 means "sequence holds".
	relseqBreaks []*action.ModelAction
	relseqIdx    int
}

func newNode(act *action.ModelAction, parent *Node, index int, enabledPre []bool, sleep map[int]bool) *Node {
	n := &Node{
		act:        act,
		parent:     parent,
		index:      index,
		futureIdx:  -1,
		relseqIdx:  -1,
		enabledPre: append([]bool(nil), enabledPre...),
		sleep:      make(map[int]bool, len(sleep)),
	}
	for tid := range sleep {
		n.sleep[tid] = true
	}
	return n
}

// Action returns the action recorded at this node (current execution's
// instance; refreshed on replay).
func (n *Node) Action() *action.ModelAction { return n.act }

// Parent returns the preceding node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Index returns the node's position in the stack (root is 0).
func (n *Node) Index() int { return n.index }

// IsEnabledPre reports whether tid was enabled just before this node's
// action executed.
func (n *Node) IsEnabledPre(tid int) bool {
	return tid < len(n.enabledPre) && n.enabledPre[tid]
}

func (n *Node) ensureThreadSlots(tid int) {
	for len(n.exploredChildren) <= tid {
		n.exploredChildren = append(n.exploredChildren, false)
	}
	for len(n.backtrack) <= tid {
		n.backtrack = append(n.backtrack, false)
	}
}

// ExploreChild marks tid as already explored from this point.
func (n *Node) ExploreChild(tid int) {
	n.ensureThreadSlots(tid)
	n.exploredChildren[tid] = true
}

// HasBeenExplored reports whether tid has already run from this point.
func (n *Node) HasBeenExplored(tid int) bool {
	return tid < len(n.exploredChildren) && n.exploredChildren[tid]
}

// SetBacktrack schedules tid to be tried from this point in a later
// execution. Returns false if it was already scheduled or explored.
func (n *Node) SetBacktrack(tid int) bool {
	n.ensureThreadSlots(tid)
	if n.backtrack[tid] || n.exploredChildren[tid] {
		return false
	}
	n.backtrack[tid] = true
	n.numBacktracks++
	return true
}

// BacktrackEmpty reports whether no alternate thread remains here.
func (n *Node) BacktrackEmpty() bool { return n.numBacktracks == 0 }

// GetNextBacktrack pops the lowest pending backtrack thread and marks
// it explored. Panics if none is pending.
func (n *Node) GetNextBacktrack() int {
	for tid, set := range n.backtrack {
		if set {
			n.backtrack[tid] = false
			n.numBacktracks--
			n.exploredChildren[tid] = true
			return tid
		}
	}
	panic("nodestack: GetNextBacktrack on empty backtrack set")
}

// InSleepSet reports whether tid was sleeping at this node.
func (n *Node) InSleepSet(tid int) bool { return n.sleep[tid] }

// SleepSet returns a copy of the node's sleep set.
func (n *Node) SleepSet() map[int]bool {
	out := make(map[int]bool, len(n.sleep))
	for tid := range n.sleep {
		out[tid] = true
	}
	return out
}

// AddSleep inserts tid into the node's sleep set.
func (n *Node) AddSleep(tid int) {
	n.sleep[tid] = true
}

// SetMayReadFrom refreshes the reads-from candidate list. The cursor
// is preserved across executions; the list contents must be rebuilt
// deterministically by the caller.
func (n *Node) SetMayReadFrom(writes []*action.ModelAction) {
	n.mayReadFrom = writes
}

// MayReadFrom returns the current candidate list.
func (n *Node) MayReadFrom() []*action.ModelAction { return n.mayReadFrom }

// GetReadFromPast returns the currently selected candidate write, or
// nil when past candidates are exhausted and a future value applies.
func (n *Node) GetReadFromPast() *action.ModelAction {
	if n.readFromIdx < len(n.mayReadFrom) {
		return n.mayReadFrom[n.readFromIdx]
	}
	return nil
}

// IncrementReadFrom advances to the next past candidate. Returns false
// when exhausted.
func (n *Node) IncrementReadFrom() bool {
	if n.readFromIdx+1 < len(n.mayReadFrom) {
		n.readFromIdx++
		return true
	}
	return false
}

// ReadFromEmpty reports whether no further past candidate remains.
func (n *Node) ReadFromEmpty() bool {
	return n.readFromIdx+1 >= len(n.mayReadFrom)
}

// AddFutureValue offers a speculative (value, expiration) pair to this
// read. maxValues caps distinct values; an existing value's expiration
// is only extended when the new expiration exceeds it by more than
// slop. Returns true if the node changed.
func (n *Node) AddFutureValue(value, expiration uint64, maxValues int, slop uint64) bool {
	for i := range n.futureValues {
		if n.futureValues[i].Value == value {
			if expiration > n.futureValues[i].Expiration+slop {
				n.futureValues[i].Expiration = expiration
				return true
			}
			return false
		}
	}
	if maxValues > 0 && len(n.futureValues) >= maxValues {
		return false
	}
	n.futureValues = append(n.futureValues, FutureValue{Value: value, Expiration: expiration})
	return true
}

// IncrementFutureValue advances to the next future value. Returns
// false when exhausted.
func (n *Node) IncrementFutureValue() bool {
	if n.futureIdx+1 < len(n.futureValues) {
		n.futureIdx++
		return true
	}
	return false
}

// FutureValueEmpty reports whether no further future value remains.
func (n *Node) FutureValueEmpty() bool {
	return n.futureIdx+1 >= len(n.futureValues)
}

// CurrentFutureValue returns the selected future value, if the read is
// currently exploring one.
func (n *Node) CurrentFutureValue() (FutureValue, bool) {
	if n.futureIdx >= 0 && n.futureIdx < len(n.futureValues) {
		return n.futureValues[n.futureIdx], true
	}
	return FutureValue{}, false
}

// SetMiscMax declares how many enumerated outcomes this action has.
// Idempotent across replays.
func (n *Node) SetMiscMax(max int) { n.miscMax = max }

// GetMisc returns the selected outcome index.
func (n *Node) GetMisc() int { return n.miscIdx }

// IncrementMisc advances to the next outcome. Returns false when
// exhausted.
func (n *Node) IncrementMisc() bool {
	if n.miscIdx+1 < n.miscMax {
		n.miscIdx++
		return true
	}
	return false
}

// MiscEmpty reports whether no further outcome remains.
func (n *Node) MiscEmpty() bool { return n.miscIdx+1 >= n.miscMax }

// SetRelseqBreaks refreshes the candidate break writes for a pending
// release sequence resolved at this action.
func (n *Node) SetRelseqBreaks(writes []*action.ModelAction) {
	n.relseqBreaks = writes
}

// GetRelseqBreak returns the write chosen to break the sequence, or
// nil when the sequence is taken to hold.
func (n *Node) GetRelseqBreak() *action.ModelAction {
	if n.relseqIdx >= 0 && n.relseqIdx < len(n.relseqBreaks) {
		return n.relseqBreaks[n.relseqIdx]
	}
	return nil
}

// IncrementRelseqBreak advances to the next break candidate. Returns
// false when exhausted.
func (n *Node) IncrementRelseqBreak() bool {
	if n.relseqIdx+1 < len(n.relseqBreaks) {
		n.relseqIdx++
		return true
	}
	return false
}

// RelseqBreakEmpty reports whether no further break candidate remains.
func (n *Node) RelseqBreakEmpty() bool {
	return n.relseqIdx+1 >= len(n.relseqBreaks)
}

// HasBehaviorAlternatives reports whether the node's own action still
// has unexplored choices (reads-from, future value, misc outcome, or
// release-sequence break).
func (n *Node) HasBehaviorAlternatives() bool {
	return !n.ReadFromEmpty() || !n.FutureValueEmpty() ||
		!n.MiscEmpty() || !n.RelseqBreakEmpty()
}

// IncrementBehavior advances the first non-exhausted behavior choice.
// Returns false if nothing remained.
func (n *Node) IncrementBehavior() bool {
	if n.IncrementMisc() {
		return true
	}
	if n.IncrementReadFrom() {
		return true
	}
	if n.IncrementFutureValue() {
		// Stepping into future values retires the past candidates:
		// GetReadFromPast answers nil from here on.
		n.readFromIdx = len(n.mayReadFrom)
		return true
	}
	return n.IncrementRelseqBreak()
}

// NodeStack is the stack of Nodes for the current trace, rooted at a
// synthetic node representing the initial scheduling decision. The
// stack persists across executions; rollback truncates it and replay
// walks it with the head cursor.
type NodeStack struct {
	nodes   []*Node
	headIdx int
}

// New creates a stack holding only the root node.
func New() *NodeStack {
	s := &NodeStack{}
	s.nodes = append(s.nodes, newNode(nil, nil, 0, nil, nil))
	return s
}

// ErrNondeterminism reports that a replayed prefix produced a
// different action than the recorded one — the program under test is
// not deterministic given a fixed schedule.
type ErrNondeterminism struct {
	Detail string
}

func (e *ErrNondeterminism) Error() string {
	return "non-determinism detected: " + e.Detail
}

// ExploreAction advances the head past act. While replaying a prefix
// the existing Node is reused (and must match thread and kind);
// otherwise a fresh Node is pushed. Returns the node and whether this
// step was a replay.
func (s *NodeStack) ExploreAction(act *action.ModelAction, enabledPre []bool, sleep map[int]bool) (*Node, bool) {
	if s.headIdx+1 < len(s.nodes) {
		s.headIdx++
		n := s.nodes[s.headIdx]
		if n.act != nil && (n.act.TID() != act.TID() || n.act.Kind() != act.Kind()) {
			panic(&ErrNondeterminism{Detail: fmt.Sprintf(
				"replay expected t%d %v at step %d, program performed t%d %v",
				n.act.TID(), n.act.Kind(), s.headIdx, act.TID(), act.Kind())})
		}
		n.act = act
		return n, true
	}

	parent := s.nodes[s.headIdx]
	parent.ExploreChild(act.TID())
	n := newNode(act, parent, len(s.nodes), enabledPre, sleep)
	s.nodes = append(s.nodes, n)
	s.headIdx++
	return n, false
}

// GetHead returns the node of the most recently explored action.
func (s *NodeStack) GetHead() *Node { return s.nodes[s.headIdx] }

// GetNext returns the next node of the replay prefix, or nil once the
// prefix is exhausted.
func (s *NodeStack) GetNext() *Node {
	if s.headIdx+1 < len(s.nodes) {
		return s.nodes[s.headIdx+1]
	}
	return nil
}

// NodeAt returns the node at index i.
func (s *NodeStack) NodeAt(i int) *Node { return s.nodes[i] }

// Len returns the number of nodes including the root.
func (s *NodeStack) Len() int { return len(s.nodes) }

// TruncateTo discards all nodes after index idx.
func (s *NodeStack) TruncateTo(idx int) {
	s.nodes = s.nodes[:idx+1]
}

// ResetExecution rewinds the head to the root for a fresh execution.
func (s *NodeStack) ResetExecution() {
	s.headIdx = 0
}

// InReplay reports whether a recorded prefix is still being replayed.
func (s *NodeStack) InReplay() bool {
	return s.headIdx+1 < len(s.nodes)
}

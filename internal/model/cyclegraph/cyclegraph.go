// Package cyclegraph maintains the modification-order graph.
//
// Vertices are writes (or promises standing in for not-yet-performed
// writes); a directed edge a → b records that a is ordered before b in
// the modification order of their location. The graph must stay acyclic
// in every feasible execution: a would-be cycle is recorded, the cycle
// flag raised, and the engine prunes the execution.
//
// The engine speculatively adds edges while evaluating reads-from
// candidates, so the graph supports transactional mutation:
// StartChanges begins a scope, RollbackChanges undoes every edge and
// RMW link added in it, CommitChanges keeps them.
package cyclegraph

import (
	"github.com/androm3da/model-checker/internal/model/action"
	"github.com/androm3da/model-checker/internal/model/promise"
)

// node is one vertex: a write action or a promised future write.
type node struct {
	act     *action.ModelAction
	promise *promise.Promise

	edges   []*node
	edgeSet map[*node]bool

	// rmw is the unique RMW that reads from this node; nothing else
	// may sit between the two in modification order.
	rmw *node
}

// addEdge appends an outgoing edge, deduplicated. Returns true if the
// edge is new.
func (n *node) addEdge(to *node) bool {
	if n.edgeSet[to] {
		return false
	}
	if n.edgeSet == nil {
		n.edgeSet = make(map[*node]bool)
	}
	n.edgeSet[to] = true
	n.edges = append(n.edges, to)
	return true
}

// removeEdge undoes the most recent addEdge of to.
func (n *node) removeEdge(to *node) {
	if !n.edgeSet[to] {
		return
	}
	delete(n.edgeSet, to)
	for i := len(n.edges) - 1; i >= 0; i-- {
		if n.edges[i] == to {
			n.edges = append(n.edges[:i], n.edges[i+1:]...)
			return
		}
	}
}

// CycleGraph is the incremental DAG of ordered-before edges.
type CycleGraph struct {
	actionNodes  map[*action.ModelAction]*node
	promiseNodes map[*promise.Promise]*node

	hasCycles bool

	// Rollback journal for the open change scope. oldCycles remembers
	// the cycle flag at StartChanges so a rollback restores it.
	inChanges     bool
	oldCycles     bool
	addedEdges    []edgeRecord
	addedRMWLinks []*node
}

type edgeRecord struct {
	from, to *node
}

// New creates an empty graph. The engine builds a fresh graph for
// every execution; nothing survives rollback between executions.
func New() *CycleGraph {
	return &CycleGraph{
		actionNodes:  make(map[*action.ModelAction]*node),
		promiseNodes: make(map[*promise.Promise]*node),
	}
}

func (g *CycleGraph) getNode(a *action.ModelAction) *node {
	n := g.actionNodes[a]
	if n == nil {
		n = &node{act: a}
		g.actionNodes[a] = n
	}
	return n
}

func (g *CycleGraph) getPromiseNode(p *promise.Promise) *node {
	n := g.promiseNodes[p]
	if n == nil {
		n = &node{promise: p}
		g.promiseNodes[p] = n
	}
	return n
}

// HasCycles reports whether any recorded edge closed a cycle.
func (g *CycleGraph) HasCycles() bool { return g.hasCycles }

// addNodeEdge inserts from → to, checking for a cycle first. The edge
// is recorded even when it closes a cycle; the cycle flag marks the
// execution infeasible rather than attempting graph repair.
func (g *CycleGraph) addNodeEdge(from, to *node) bool {
	if from == to {
		g.hasCycles = true
		return false
	}
	ok := true
	if !g.hasCycles && g.reachable(to, from) {
		g.hasCycles = true
		ok = false
	}
	if from.addEdge(to) && g.inChanges {
		g.addedEdges = append(g.addedEdges, edgeRecord{from, to})
	}
	return ok
}

// AddEdge records that write from is modification-ordered before write
// to. Returns false if the edge closes a cycle.
func (g *CycleGraph) AddEdge(from, to *action.ModelAction) bool {
	return g.addNodeEdge(g.getNode(from), g.getNode(to))
}

// AddEdgeToPromise orders write from before the future write that will
// resolve promise p.
func (g *CycleGraph) AddEdgeToPromise(from *action.ModelAction, p *promise.Promise) bool {
	return g.addNodeEdge(g.getNode(from), g.getPromiseNode(p))
}

// AddEdgeFromPromise orders the future write resolving p before write to.
func (g *CycleGraph) AddEdgeFromPromise(p *promise.Promise, to *action.ModelAction) bool {
	return g.addNodeEdge(g.getPromiseNode(p), g.getNode(to))
}

// AddRMWEdge asserts that rmw immediately follows from in modification
// order. Every existing successor of from becomes a successor of rmw,
// and a second RMW reading from the same write is a cycle (two RMWs
// cannot both immediately follow one write).
func (g *CycleGraph) AddRMWEdge(from, rmw *action.ModelAction) bool {
	fromNode := g.getNode(from)
	rmwNode := g.getNode(rmw)

	if fromNode.rmw != nil && fromNode.rmw != rmwNode {
		g.hasCycles = true
		return false
	}
	if fromNode.rmw == nil {
		fromNode.rmw = rmwNode
		if g.inChanges {
			g.addedRMWLinks = append(g.addedRMWLinks, fromNode)
		}
	}

	// Transfer outgoing edges before the direct edge so the rmw node
	// does not get an edge to itself.
	for _, to := range append([]*node(nil), fromNode.edges...) {
		if to != rmwNode {
			g.addNodeEdge(rmwNode, to)
		}
	}
	return g.addNodeEdge(fromNode, rmwNode)
}

// RMWSuccessor returns the RMW that immediately follows write w in
// modification order, if one exists.
func (g *CycleGraph) RMWSuccessor(w *action.ModelAction) *action.ModelAction {
	n := g.actionNodes[w]
	if n == nil || n.rmw == nil {
		return nil
	}
	return n.rmw.act
}

// reachable reports whether to is reachable from from by BFS over
// recorded edges, following RMW links as ordinary edges.
func (g *CycleGraph) reachable(from, to *node) bool {
	if from == to {
		return true
	}
	seen := map[*node]bool{from: true}
	queue := []*node{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		next := n.edges
		if n.rmw != nil {
			next = append(append([]*node(nil), next...), n.rmw)
		}
		for _, m := range next {
			if m == to {
				return true
			}
			if !seen[m] {
				seen[m] = true
				queue = append(queue, m)
			}
		}
	}
	return false
}

// CheckReachable reports whether write a is ordered (transitively)
// before write b.
func (g *CycleGraph) CheckReachable(a, b *action.ModelAction) bool {
	na, nb := g.actionNodes[a], g.actionNodes[b]
	if na == nil || nb == nil {
		return false
	}
	return g.reachable(na, nb)
}

// CheckPromise reports whether write w is ordered before the future
// write that must resolve promise p. A thread whose writes are all
// ordered before the promise position can no longer resolve it.
func (g *CycleGraph) CheckPromise(w *action.ModelAction, p *promise.Promise) bool {
	nw, np := g.actionNodes[w], g.promiseNodes[p]
	if nw == nil || np == nil {
		return false
	}
	return g.reachable(nw, np)
}

// ResolvePromise replaces promise p's placeholder node with write w:
// every edge into or out of the placeholder is re-recorded against w,
// then the placeholder is dropped. Returns false if the rewiring
// closed a cycle.
func (g *CycleGraph) ResolvePromise(p *promise.Promise, w *action.ModelAction) bool {
	np := g.promiseNodes[p]
	if np == nil {
		return true
	}
	delete(g.promiseNodes, p)
	ok := true
	for _, to := range np.edges {
		if !g.addNodeEdge(g.getNode(w), to) {
			ok = false
		}
	}
	// Incoming edges: scan all nodes. The graph is per-execution and
	// small; promise resolution is rare.
	for _, n := range g.actionNodes {
		if n.edgeSet[np] {
			n.removeEdge(np)
			if !g.addNodeEdge(n, g.getNode(w)) {
				ok = false
			}
		}
	}
	for _, n := range g.promiseNodes {
		if n.edgeSet[np] {
			n.removeEdge(np)
			if !g.addNodeEdge(n, g.getNode(w)) {
				ok = false
			}
		}
	}
	return ok
}

// StartChanges opens a speculative scope. Scopes do not nest.
func (g *CycleGraph) StartChanges() {
	g.inChanges = true
	g.oldCycles = g.hasCycles
	g.addedEdges = g.addedEdges[:0]
	g.addedRMWLinks = g.addedRMWLinks[:0]
}

// CommitChanges keeps everything added since StartChanges.
func (g *CycleGraph) CommitChanges() {
	g.inChanges = false
	g.addedEdges = g.addedEdges[:0]
	g.addedRMWLinks = g.addedRMWLinks[:0]
}

// RollbackChanges undoes everything added since StartChanges and
// restores the cycle flag.
func (g *CycleGraph) RollbackChanges() {
	for i := len(g.addedEdges) - 1; i >= 0; i-- {
		rec := g.addedEdges[i]
		rec.from.removeEdge(rec.to)
	}
	for _, n := range g.addedRMWLinks {
		n.rmw = nil
	}
	g.hasCycles = g.oldCycles
	g.inChanges = false
	g.addedEdges = g.addedEdges[:0]
	g.addedRMWLinks = g.addedRMWLinks[:0]
}

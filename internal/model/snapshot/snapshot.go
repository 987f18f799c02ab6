// Package snapshot implements the checkpoint/rollback boundary between
// executions.
//
// CDSChecker-style model checkers roll the heap back with a
// snapshotting allocator. This engine gets the same effect through
// deterministic replay: everything allocated for one execution (the
// action trace, per-object histories, the modification-order graph,
// promises, clock vectors) lives in a Region; restoring a checkpoint
// tears the Region down and the engine re-runs the program, forcing
// recorded choices up to the checkpoint depth. Replay determinism
// guarantees the rebuilt prefix is identical to the one the checkpoint
// captured. State registered outside the Region — the node stack,
// statistics, configuration — survives untouched.
package snapshot

// Handle names one checkpoint. Depth is the exploration-tree index the
// checkpoint was taken at; restoring replays up to that depth.
type Handle struct {
	depth int
	id    int
}

// Depth returns the node-stack depth captured by the checkpoint.
func (h Handle) Depth() int { return h.depth }

// Region owns the execution-local state. Owners register reset
// functions that drop their per-execution allocations.
type Region struct {
	resetters []func()
}

// NewRegion creates an empty region.
func NewRegion() *Region {
	return &Region{}
}

// Register adds a reset function to run on every restore.
func (r *Region) Register(reset func()) {
	r.resetters = append(r.resetters, reset)
}

// Boundary issues checkpoints and performs rollbacks over one Region.
type Boundary struct {
	region *Region
	nextID int
}

// NewBoundary creates a boundary over region.
func NewBoundary(region *Region) *Boundary {
	return &Boundary{region: region}
}

// Checkpoint captures the current depth. The engine takes one at the
// start of each execution and no others.
func (b *Boundary) Checkpoint(depth int) Handle {
	b.nextID++
	return Handle{depth: depth, id: b.nextID}
}

// Restore rolls the region back to the state captured by h: every
// registered reset runs, after which the engine replays to h's depth.
func (b *Boundary) Restore(h Handle) int {
	for _, reset := range b.region.resetters {
		reset()
	}
	return h.depth
}

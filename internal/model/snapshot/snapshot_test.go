package snapshot

import "testing"

// TestRestoreRunsResetters tests that every registered reset runs on
// restore and the checkpoint depth round-trips.
func TestRestoreRunsResetters(t *testing.T) {
	region := NewRegion()
	var resets []int
	region.Register(func() { resets = append(resets, 1) })
	region.Register(func() { resets = append(resets, 2) })

	b := NewBoundary(region)
	h := b.Checkpoint(7)
	if h.Depth() != 7 {
		t.Errorf("Depth() = %d, want 7", h.Depth())
	}

	depth := b.Restore(h)
	if depth != 7 {
		t.Errorf("Restore() = %d, want 7", depth)
	}
	if len(resets) != 2 || resets[0] != 1 || resets[1] != 2 {
		t.Errorf("resets = %v, want [1 2] in registration order", resets)
	}
}

// TestCheckpointHandlesAreDistinct tests that handles are not aliased.
func TestCheckpointHandlesAreDistinct(t *testing.T) {
	b := NewBoundary(NewRegion())
	h1 := b.Checkpoint(1)
	h2 := b.Checkpoint(1)
	if h1 == h2 {
		t.Error("two checkpoints at one depth must be distinct handles")
	}
}

// Package heap implements a mark-and-sweep tracing garbage collector for a
// dynamic-language runtime: a segregated-fit allocator built on page-aligned
// blocks, reclaiming unreachable cells by combining precisely-registered
// roots with a conservative scan of the stack, saved registers, and
// registered off-stack memory ranges.
package heap

// Cell is the unit of allocation. Every cell knows its dynamic class name
// (for diagnostics) and can enumerate its outgoing references to other
// cells. Cells are identified by the address of the slot that holds them;
// callers see that address only through Handle.Addr.
type Cell interface {
	// ClassName returns the dynamic type name, used only for diagnostics
	// and the graph dump.
	ClassName() string

	// VisitEdges calls visitor.Visit for every cell this cell directly
	// references.
	VisitEdges(visitor Visitor)
}

// Visitor is implemented by the mark phase and the graph-dump phase. Both
// only need to receive cells; how they react (mark a bit, record an edge)
// differs.
type Visitor interface {
	Visit(cell Cell)
}

// MustSurvivor may be implemented by a Cell to force it to survive a
// collection cycle regardless of reachability (spec: "must-survive").
type MustSurvivor interface {
	MustSurviveGarbageCollection() bool
}

// Finalizer may be implemented by a Cell to receive a hook invoked exactly
// once, after the mark phase, if the cell is unmarked and not forced to
// survive. Finalizers observe the cell's edges are still valid (no sweep
// has occurred yet) and must not revive references: no mutator runs
// between finalize and sweep.
type Finalizer interface {
	Finalize()
}

func cellMustSurvive(cell Cell) bool {
	if s, ok := cell.(MustSurvivor); ok {
		return s.MustSurviveGarbageCollection()
	}
	return false
}

func cellFinalize(cell Cell) {
	if f, ok := cell.(Finalizer); ok {
		f.Finalize()
	}
}

// slotState is the lifecycle state of one cell slot within a block.
type slotState uint8

const (
	// stateFree is a slot on the block's free list. Not backed by a cell.
	stateFree slotState = iota
	// stateNewlyAllocated is reserved during construction: popped off the
	// free list but not yet handed back to the caller as Live. This spec
	// does not currently delay handing the slot back (allocateCell marks
	// it Live directly), but the state is kept distinct from Live so a
	// future partially-constructed-cell path (matching spec.md §3's
	// three-state cell lifecycle) has somewhere to live.
	stateNewlyAllocated
	// stateLive holds a reachable-at-some-point cell.
	stateLive
	// stateMarked is stateLive with the mark bit set, valid only during a
	// collection cycle's mark phase.
	stateMarked
)

func (s slotState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateNewlyAllocated:
		return "newly-allocated"
	case stateLive:
		return "live"
	case stateMarked:
		return "marked"
	default:
		return "!invalid"
	}
}

// cellSlot is the per-slot bookkeeping record kept in a HeapBlock's shadow
// side array. It plays the role of the teacher's objHeader / the original's
// Cell base class, minus the payload bytes: the actual Cell value lives in
// Go-GC-tracked storage (see block.go) since this spec's cells are
// arbitrary interpreter objects, not raw bytes a compiler lays out.
type cellSlot struct {
	state slotState
	cell  Cell
	// addr is this slot's identity address, used as the graph-dump key
	// and as the conservative scanner's resolution target. Zero while
	// state == stateFree.
	addr uintptr
	// free is the index of the next free slot when state == stateFree,
	// or -1 if this is the last entry on the free list. Mirrors the
	// intrusive free list threaded through dead slots in spec.md §3.
	free int
	// finalized is set when the cell's finalizer is invoked, so a cell left
	// unswept (its finalizer panicked mid-cycle) is not finalized again by
	// a later cycle. Reset when the slot is deallocated.
	finalized bool
}

package heap

// RootOrigin tags why a cell was added to the root set, used only by the
// graph dump (spec.md §3 "Root origin", §9 Open Questions: normalizes the
// original implementation's inconsistent "MarkedVector"sv / "MarkedVector"
// string duplication into this single type's String method).
type RootOrigin int

const (
	OriginHandle RootOrigin = iota
	OriginMarkedVector
	OriginRegisterPointer
	OriginStackPointer
	OriginVM
	OriginSafeFunction
)

func (o RootOrigin) String() string {
	switch o {
	case OriginHandle:
		return "Handle"
	case OriginMarkedVector:
		return "MarkedVector"
	case OriginRegisterPointer:
		return "RegisterPointer"
	case OriginStackPointer:
		return "StackPointer"
	case OriginVM:
		return "VM"
	case OriginSafeFunction:
		return "SafeFunction"
	default:
		return "Unknown"
	}
}

// rootSet accumulates cells discovered as roots during gather_roots,
// keeping only the first origin recorded per cell (matching the original
// HashMap<Cell*, ...>::set-on-conflict semantics, which keeps the latest;
// here we keep the first, a harmless divergence since it only affects which
// origin tag the graph dump prints for a cell reachable through more than
// one kind of root).
type rootSet struct {
	origins map[*cellSlot]RootOrigin
	order   []*cellSlot
}

func newRootSet() *rootSet {
	return &rootSet{origins: make(map[*cellSlot]RootOrigin)}
}

func (r *rootSet) add(slot *cellSlot, origin RootOrigin) {
	if _, ok := r.origins[slot]; ok {
		return
	}
	r.origins[slot] = origin
	r.order = append(r.order, slot)
}

// Handle is a precisely-rooted reference to a single cell: the handle
// itself, while alive, keeps its cell marked as a root (spec.md §3, §6).
type Handle struct {
	heap *Heap
	slot *cellSlot
}

// NewHandle creates a handle rooting cell and registers it with the heap.
// Every handle created must eventually be released via Release.
func (h *Heap) NewHandle(cell Cell) *Handle {
	slot := h.slotFor(cell)
	handle := &Handle{heap: h, slot: slot}
	h.didCreateHandle(handle)
	return handle
}

// Cell returns the handle's rooted cell.
func (h *Handle) Cell() Cell {
	if h.slot == nil {
		return nil
	}
	return h.slot.cell
}

// Addr returns the identity address of the handle's slot: the same value
// the conservative scanner would resolve back to this cell. Exposed so an
// embedder (or a custom scan range registered through heap/safefunc) can
// hold a raw address rather than a Handle across a region the collector
// can only see conservatively.
func (h *Handle) Addr() uintptr {
	if h.slot == nil {
		return 0
	}
	return h.slot.addr
}

// Release deregisters the handle. After Release, the handle no longer
// roots its cell.
func (h *Handle) Release() {
	h.heap.didDestroyHandle(h)
}

func (h *Heap) didCreateHandle(handle *Handle) {
	if _, ok := h.handles[handle]; ok {
		fatal(ErrRegistryContract, "handle registered twice")
	}
	h.handles[handle] = struct{}{}
}

func (h *Heap) didDestroyHandle(handle *Handle) {
	if _, ok := h.handles[handle]; !ok {
		fatal(ErrRegistryContract, "handle destroyed without being registered")
	}
	delete(h.handles, handle)
}

// MarkedVector is a precisely-rooted container of cells: every cell it
// holds is a root for as long as the vector is alive (spec.md §3, §6).
type MarkedVector struct {
	heap  *Heap
	cells []Cell
}

// NewMarkedVector creates an empty marked vector registered with the heap.
func (h *Heap) NewMarkedVector() *MarkedVector {
	v := &MarkedVector{heap: h}
	h.didCreateMarkedVector(v)
	return v
}

// Append adds a cell to the vector, rooting it.
func (v *MarkedVector) Append(cell Cell) { v.cells = append(v.cells, cell) }

// Cells returns the vector's contents.
func (v *MarkedVector) Cells() []Cell { return v.cells }

// Release deregisters the vector. Its cells are no longer roots.
func (v *MarkedVector) Release() { v.heap.didDestroyMarkedVector(v) }

func (h *Heap) didCreateMarkedVector(v *MarkedVector) {
	if _, ok := h.markedVectors[v]; ok {
		fatal(ErrRegistryContract, "marked vector registered twice")
	}
	h.markedVectors[v] = struct{}{}
}

func (h *Heap) didDestroyMarkedVector(v *MarkedVector) {
	if _, ok := h.markedVectors[v]; !ok {
		fatal(ErrRegistryContract, "marked vector destroyed without being registered")
	}
	delete(h.markedVectors, v)
}

// WeakContainer holds cells without rooting them, and is asked to drop
// entries whose referent died in the last sweep (spec.md §3, §4.8, §6).
type WeakContainer struct {
	heap    *Heap
	entries map[Cell]struct{}
}

// NewWeakContainer creates an empty weak container registered with the
// heap.
func (h *Heap) NewWeakContainer() *WeakContainer {
	w := &WeakContainer{heap: h, entries: make(map[Cell]struct{})}
	h.didCreateWeakContainer(w)
	return w
}

// Add inserts cell into the container without rooting it.
func (w *WeakContainer) Add(cell Cell) { w.entries[cell] = struct{}{} }

// Contains reports whether cell is currently held.
func (w *WeakContainer) Contains(cell Cell) bool {
	_, ok := w.entries[cell]
	return ok
}

// Release deregisters the container.
func (w *WeakContainer) Release() { w.heap.didDestroyWeakContainer(w) }

// removeDeadCells drops every entry whose cell did not survive sweep.
// Called from sweep, after per-cell deallocation, per spec.md §4.8's
// ordering note: "weak containers...run after per-cell deallocation so a
// weak entry never dangles". stillMarked is keyed on sweep's survivor set,
// which also retains MustSurvivor cells that were never actually marked —
// the original keys this purely on is_marked(), so a cell kept alive only
// via MustSurvivor stays in a weak container here where the original would
// drop it.
func (w *WeakContainer) removeDeadCells(stillMarked map[Cell]struct{}) {
	for cell := range w.entries {
		if _, alive := stillMarked[cell]; !alive {
			delete(w.entries, cell)
		}
	}
}

func (h *Heap) didCreateWeakContainer(w *WeakContainer) {
	if _, ok := h.weakContainers[w]; ok {
		fatal(ErrRegistryContract, "weak container registered twice")
	}
	h.weakContainers[w] = struct{}{}
}

func (h *Heap) didDestroyWeakContainer(w *WeakContainer) {
	if _, ok := h.weakContainers[w]; !ok {
		fatal(ErrRegistryContract, "weak container destroyed without being registered")
	}
	delete(h.weakContainers, w)
}

package heap

// markingVisitor implements vm.RootVisitor and Visitor: it seeds a LIFO
// work queue from the root set and the bytecode interpreter's edges, then
// drains it, setting each cell's mark bit exactly once (spec.md §4.5,
// §9 "Work-queue of cell references"). Draining pops LIFO (depth-first);
// only reachability matters, so traversal order is unconstrained.
type markingVisitor struct {
	heap  *Heap
	queue []*cellSlot
}

func (v *markingVisitor) Visit(cell Cell) {
	if cell == nil {
		return
	}
	slot := v.heap.slotFor(cell)
	v.visitSlot(slot)
}

func (v *markingVisitor) VisitRoot(obj interface{}) {
	cell, ok := obj.(Cell)
	if !ok {
		fatal(ErrInvariant, "bytecode interpreter contributed a non-Cell edge")
	}
	v.Visit(cell)
}

func (v *markingVisitor) visitSlot(slot *cellSlot) {
	if slot.state == stateMarked {
		return
	}
	slot.state = stateMarked
	v.queue = append(v.queue, slot)
}

func (v *markingVisitor) drain() {
	for len(v.queue) > 0 {
		n := len(v.queue) - 1
		slot := v.queue[n]
		v.queue = v.queue[:n]
		slot.cell.VisitEdges(v)
	}
}

// markLiveCells seeds the marking visitor from roots and the bytecode
// interpreter's own edges, drains the work queue, then clears the mark bit
// of every uprooted cell (spec.md §4.5, §9 "Uprooting").
func (h *Heap) markLiveCells(roots *rootSet) {
	visitor := &markingVisitor{heap: h}

	for _, slot := range roots.order {
		visitor.visitSlot(slot)
	}
	if h.interp != nil {
		h.interp.VisitEdges(visitor)
	}

	visitor.drain()

	for _, slot := range h.uprooted {
		slot.state = stateLive
	}
	h.uprooted = h.uprooted[:0]
}

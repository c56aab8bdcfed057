package heap

// finalizeUnmarkedCells invokes Finalize on every live cell that is
// unmarked and not forced to survive, before any sweep happens so
// finalizers still see valid edges (spec.md §4.7).
func (h *Heap) finalizeUnmarkedCells() {
	h.forEachBlock(func(block *HeapBlock) {
		block.ForEachLive(func(_ int, slot *cellSlot, _ uintptr) {
			if slot.state != stateMarked && !slot.finalized && !cellMustSurvive(slot.cell) {
				slot.finalized = true
				cellFinalize(slot.cell)
			}
		})
	})
}

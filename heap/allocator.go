package heap

// CellAllocator is pinned to one cell size and owns a set of blocks
// partitioned into "usable" (has at least one free slot) and "full"
// (spec.md §3, §4.1).
type CellAllocator struct {
	heap      *Heap
	cellSize  uintptr
	blockSize uintptr

	usable []*HeapBlock
	full   []*HeapBlock
}

func newCellAllocator(heap *Heap, cellSize, blockSize uintptr) *CellAllocator {
	return &CellAllocator{heap: heap, cellSize: cellSize, blockSize: blockSize}
}

// CellSize returns this allocator's fixed cell size.
func (a *CellAllocator) CellSize() uintptr { return a.cellSize }

// allocateCell pops a free slot from any usable block, creating a new block
// first if none is usable. Mirrors CellAllocator::allocate_cell /
// gc_blocks.go's alloc()'s free-range-or-grow loop, simplified since a
// single slot is always exactly one cell (no multi-block spanning objects
// here, unlike tinygo).
func (a *CellAllocator) allocateCell(cell Cell) (*cellSlot, uintptr) {
	if len(a.usable) == 0 {
		block, err := newHeapBlock(a, a.blockSize, a.cellSize)
		if err != nil {
			panic(&FatalError{Kind: ErrOutOfMemory, Message: "gc: failed to map a new heap block: " + err.Error()})
		}
		a.usable = append(a.usable, block)
		a.heap.registerBlock(block)
	}

	block := a.usable[len(a.usable)-1]
	slot, addr := block.popFree()
	if slot == nil {
		// Should not happen: a block only stays in `usable` while it has
		// free slots.
		panic(&FatalError{Kind: ErrInvariant, Message: "gc: usable block had no free slots"})
	}
	slot.state = stateLive
	slot.cell = cell
	slot.addr = addr

	if block.IsFull() {
		a.usable = a.usable[:len(a.usable)-1]
		a.full = append(a.full, block)
	}

	return slot, addr
}

// blockDidBecomeEmpty is called by the collector after a sweep leaves a
// block with no live cells. A block swept from full-to-empty in one cycle
// never passed through blockDidBecomeUsable, so it can still be sitting in
// `a.full` here; removeFromPartitions checks both partitions rather than
// assuming `a.usable`, or the block would end up double-tracked (if
// retained) or referenced from a stale slice after munmap (if released).
// The allocator may retain the block (kept here, matching the common
// "retain for reuse" policy) or release it; we release blocks beyond a
// small retained cushion to bound address space growth, returning memory
// to the OS via munmap.
func (a *CellAllocator) blockDidBecomeEmpty(block *HeapBlock) {
	a.removeFromPartitions(block)
	const retainedEmptyBlocks = 1
	emptyHeld := 0
	for _, b := range a.usable {
		if b.freeCount == b.slotCount {
			emptyHeld++
		}
	}
	if emptyHeld >= retainedEmptyBlocks {
		a.heap.unregisterBlock(block)
		_ = block.close()
		return
	}
	a.usable = append(a.usable, block)
}

// blockDidBecomeUsable moves a previously-full block back into the usable
// set after sweep frees at least one of its cells.
func (a *CellAllocator) blockDidBecomeUsable(block *HeapBlock) {
	a.removeFromPartitions(block)
	a.usable = append(a.usable, block)
}

// removeFromPartitions removes block from whichever of `usable`/`full` it
// currently lives in. A block can be in exactly one of the two, but the
// caller doesn't necessarily know which.
func (a *CellAllocator) removeFromPartitions(block *HeapBlock) {
	for i, b := range a.usable {
		if b == block {
			a.usable = append(a.usable[:i], a.usable[i+1:]...)
			return
		}
	}
	for i, b := range a.full {
		if b == block {
			a.full = append(a.full[:i], a.full[i+1:]...)
			return
		}
	}
}

// forEachBlock calls fn for every block (usable and full) owned by this
// allocator.
func (a *CellAllocator) forEachBlock(fn func(*HeapBlock)) {
	for _, b := range a.usable {
		fn(b)
	}
	for _, b := range a.full {
		fn(b)
	}
}

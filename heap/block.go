package heap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// HeapBlock is a page-aligned slab holding cells of one fixed size, with an
// intrusive free list and per-slot liveness state (spec.md §3, §4.1).
//
// Unlike the teacher (tinygo), which carves blocks out of one statically
// linked heap arena, each HeapBlock here is backed by its own
// mmap-allocated, block-size-aligned region (golang.org/x/sys/unix). This
// keeps "mask a pointer to its block boundary" an O(1) arithmetic operation
// (see resolvePossiblePointers in scan.go) while letting blocks come and
// go independently, matching
// the original LibJS implementation's per-block aligned_alloc rather than
// tinygo's single-arena design.
type HeapBlock struct {
	allocator *CellAllocator
	cellSize  uintptr
	slotCount int

	base   uintptr // block-size-aligned start address
	region []byte  // the raw mmap'd region, kept alive only for Munmap

	slots []cellSlot

	freeHead  int // index of first free slot, or -1
	freeCount int
}

// newHeapBlock mmaps a fresh, blockSize-aligned region and carves it into
// slots of cellSize bytes each.
func newHeapBlock(allocator *CellAllocator, blockSize, cellSize uintptr) (*HeapBlock, error) {
	base, region, err := mmapAligned(blockSize)
	if err != nil {
		return nil, err
	}

	slotCount := int(blockSize / cellSize)
	b := &HeapBlock{
		allocator: allocator,
		cellSize:  cellSize,
		slotCount: slotCount,
		base:      base,
		region:    region,
		slots:     make([]cellSlot, slotCount),
		freeHead:  0,
		freeCount: slotCount,
	}
	for i := 0; i < slotCount; i++ {
		b.slots[i] = cellSlot{state: stateFree, free: i + 1}
	}
	b.slots[slotCount-1].free = -1
	return b, nil
}

func (b *HeapBlock) close() error {
	return unix.Munmap(b.region)
}

// Base returns the block's aligned base address, used as the map key in the
// heap's live-block registry.
func (b *HeapBlock) Base() uintptr { return b.base }

// CellSize returns the fixed slot size of this block.
func (b *HeapBlock) CellSize() uintptr { return b.cellSize }

// IsFull reports whether every slot is occupied.
func (b *HeapBlock) IsFull() bool { return b.freeCount == 0 }

// slotAddr returns the identity address exposed to the conservative
// scanner for slot i. It is an address inside the mmap'd region: stable,
// never moved by Go's own (unrelated) garbage collector.
func (b *HeapBlock) slotAddr(i int) uintptr {
	return b.base + uintptr(i)*b.cellSize
}

// addrToIndex validates that addr lies on this block's cell-size grid and
// returns the corresponding slot index, or false if addr is not a valid
// cell boundary (spec.md §4.1: "reject if p is ... not aligned to a cell
// boundary").
func (b *HeapBlock) addrToIndex(addr uintptr) (int, bool) {
	if addr < b.base {
		return 0, false
	}
	off := addr - b.base
	if off%b.cellSize != 0 {
		return 0, false
	}
	idx := int(off / b.cellSize)
	if idx >= b.slotCount {
		return 0, false
	}
	return idx, true
}

// CellFromPossiblePointer returns the slot at addr if addr lies exactly on
// a cell boundary within this block, regardless of that slot's state. The
// caller (the conservative scanner) is responsible for checking the
// returned slot's liveness, matching spec.md §4.6's "ask the block to
// resolve the pointer to a cell at a valid slot boundary".
func (b *HeapBlock) CellFromPossiblePointer(addr uintptr) *cellSlot {
	idx, ok := b.addrToIndex(addr)
	if !ok {
		return nil
	}
	return &b.slots[idx]
}

// popFree removes and returns the first free slot, or nil if the block has
// no free slots.
func (b *HeapBlock) popFree() (*cellSlot, uintptr) {
	if b.freeCount == 0 {
		return nil, 0
	}
	idx := b.freeHead
	slot := &b.slots[idx]
	b.freeHead = slot.free
	b.freeCount--
	return slot, b.slotAddr(idx)
}

// deallocate pushes a slot back onto the free list and marks it Dead.
// Mirrors spec.md §4.1's "deallocation pushes the slot onto the block's
// intrusive free list and marks the cell Dead".
func (b *HeapBlock) deallocate(idx int) {
	b.slots[idx] = cellSlot{state: stateFree, free: b.freeHead}
	b.freeHead = idx
	b.freeCount++
}

// ForEachLive calls fn for every slot currently in a live-ish state
// (stateLive or stateMarked), passing the slot and its identity address.
func (b *HeapBlock) ForEachLive(fn func(idx int, slot *cellSlot, addr uintptr)) {
	for i := range b.slots {
		if b.slots[i].state == stateLive || b.slots[i].state == stateMarked {
			fn(i, &b.slots[i], b.slotAddr(i))
		}
	}
}

// mmapAligned allocates a size-aligned, anonymous, read/write mapping of
// `size` bytes. size must be a power of two. Real slab allocators (and the
// original LibJS HeapBlock, via aligned_alloc) need this so that masking a
// pointer to its block boundary is a single AND operation; the portable way
// to get size-aligned mmap on POSIX is to over-map and trim the slack.
func mmapAligned(size uintptr) (base uintptr, region []byte, err error) {
	full, err := unix.Mmap(-1, 0, int(2*size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, err
	}

	fullAddr := uintptr(unsafe.Pointer(&full[0]))
	alignedAddr := (fullAddr + size - 1) &^ (size - 1)
	headSlack := alignedAddr - fullAddr
	tailSlack := 2*size - size - headSlack

	if headSlack > 0 {
		_ = unix.Munmap(full[:headSlack])
	}
	if tailSlack > 0 {
		_ = unix.Munmap(full[headSlack+size:])
	}

	region = full[headSlack : headSlack+size]
	return alignedAddr, region, nil
}

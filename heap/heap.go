package heap

import (
	"golang.org/x/net/trace"

	"github.com/nichtverstehen/serenity/gcconfig"
	"github.com/nichtverstehen/serenity/vm"
)

// Heap owns the allocators for every size class, the precise-root
// registries, and the collector's bookkeeping state (spec.md §3).
type Heap struct {
	vm     vm.VM
	interp vm.BytecodeInterpreter
	cfg    gcconfig.Config

	allocators []*CellAllocator // ascending by cell size; first-fit

	blocks map[uintptr]*HeapBlock // live-block registry, keyed by base addr

	handles        map[*Handle]struct{}
	markedVectors  map[*MarkedVector]struct{}
	weakContainers map[*WeakContainer]struct{}

	uprooted []*cellSlot

	allocatedSinceLastGC uintptr
	gcBytesThreshold     uintptr

	collecting          bool
	deferralDepth       int
	shouldGCOnUndefer   bool
	collectOnEveryAlloc bool

	tracer trace.EventLog

	lastReportText string
}

// LastReport returns the text of the most recently emitted collection
// report, or "" if none has run yet. Used by cmd/gcdebug.
func (h *Heap) LastReport() string { return h.lastReportText }

// New creates a heap whose size classes and thresholds come from cfg, and
// whose precise roots/bytecode edges are supplied by the given VM
// collaborator (spec.md §6, the "to the runtime, consumed" interfaces).
func New(v vm.VM, interp vm.BytecodeInterpreter, cfg gcconfig.Config) *Heap {
	cfg = cfg.WithDefaults()

	h := &Heap{
		vm:                   v,
		interp:               interp,
		cfg:                  cfg,
		blocks:               make(map[uintptr]*HeapBlock),
		handles:              make(map[*Handle]struct{}),
		markedVectors:        make(map[*MarkedVector]struct{}),
		weakContainers:       make(map[*WeakContainer]struct{}),
		allocatedSinceLastGC: 0,
		gcBytesThreshold:     cfg.GCMinBytesThreshold,
		collectOnEveryAlloc:  cfg.CollectOnEveryAllocation,
	}
	for _, size := range cfg.SizeClasses {
		h.allocators = append(h.allocators, newCellAllocator(h, size, cfg.BlockSize))
	}
	if cfg.Debug {
		h.tracer = trace.NewEventLog("gc.Heap", "collector")
	}
	return h
}

// Close tears the heap down: it clears the VM's string caches and runs a
// CollectEverything cycle so every non-survivor cell is finalized and
// released (spec.md §4.3, mirroring Heap::~Heap).
func (h *Heap) Close() {
	h.vm.StringCache().Clear()
	h.CollectGarbage(CollectEverything, false)
	for _, b := range h.blocks {
		_ = b.close()
	}
	if h.tracer != nil {
		h.tracer.Finish()
	}
}

// allocatorForSize returns the first allocator whose cell size is at least
// n, per spec.md §4.1 ("the list is sorted ascending so first-fit is
// correct").
func (h *Heap) allocatorForSize(n uintptr) *CellAllocator {
	for _, a := range h.allocators {
		if a.CellSize() >= n {
			return a
		}
	}
	fatal(ErrSizeClassExhausted, "requested cell size %d exceeds largest class %d", n,
		h.allocators[len(h.allocators)-1].CellSize())
	return nil // unreachable
}

// AllocateCell allocates a new cell of the given declared size, routing it
// to the allocator of the smallest size class that can hold it, and
// triggering a collection first if the allocation would cross the GC
// threshold (spec.md §4.2).
func (h *Heap) AllocateCell(size uintptr, cell Cell) *Handle {
	if h.collectOnEveryAlloc {
		h.allocatedSinceLastGC = 0
		h.CollectGarbage(CollectGarbage, false)
	} else if h.allocatedSinceLastGC+size > h.gcBytesThreshold {
		h.allocatedSinceLastGC = 0
		h.CollectGarbage(CollectGarbage, false)
	}

	h.allocatedSinceLastGC += size
	allocator := h.allocatorForSize(size)
	slot, _ := allocator.allocateCell(cell)
	handle := &Handle{heap: h, slot: slot}
	h.didCreateHandle(handle)
	return handle
}

// slotFor locates the cellSlot currently holding cell by scanning live
// blocks. Used to build a Handle for a cell a caller already obtained
// through some other path (e.g. an edge walked during VisitEdges).
func (h *Heap) slotFor(cell Cell) *cellSlot {
	for _, block := range h.blocks {
		var found *cellSlot
		block.ForEachLive(func(_ int, slot *cellSlot, _ uintptr) {
			if slot.cell == cell {
				found = slot
			}
		})
		if found != nil {
			return found
		}
	}
	fatal(ErrInvariant, "slotFor: cell is not a live cell owned by this heap")
	return nil
}

func (h *Heap) registerBlock(b *HeapBlock)   { h.blocks[b.Base()] = b }
func (h *Heap) unregisterBlock(b *HeapBlock) { delete(h.blocks, b.Base()) }

// forEachBlock calls fn for every live block across every allocator.
func (h *Heap) forEachBlock(fn func(*HeapBlock)) {
	for _, a := range h.allocators {
		a.forEachBlock(fn)
	}
}

// UprootCell enqueues cell for forced mark-bit clearing immediately after
// mark propagation (spec.md §4.5, §9 "Uprooting"): supports a cell that was
// briefly a root during an allocation but must not survive the cycle if no
// other reference exists at the end.
func (h *Heap) UprootCell(cell Cell) {
	h.uprooted = append(h.uprooted, h.slotFor(cell))
}

// DeferGC suppresses collection until a matching UndeferGC call. Deferral
// scopes must be strictly nested (spec.md §5).
func (h *Heap) DeferGC() { h.deferralDepth++ }

// UndeferGC ends one deferral scope. If this was the last nested scope and
// a collection was requested while deferred, it runs now.
func (h *Heap) UndeferGC() {
	if h.deferralDepth == 0 {
		fatal(ErrDeferralUnderflow, "UndeferGC called with zero deferral depth")
	}
	h.deferralDepth--
	if h.deferralDepth == 0 {
		if h.shouldGCOnUndefer {
			h.CollectGarbage(CollectGarbage, false)
		}
		h.shouldGCOnUndefer = false
	}
}

package heap

// CollectionType selects between a normal collection (mark + sweep) and a
// teardown collection that skips marking entirely so every non-survivor
// cell becomes collectible (spec.md §4.3).
type CollectionType int

const (
	// CollectGarbage runs a normal mark-and-sweep cycle.
	CollectGarbage CollectionType = iota
	// CollectEverything skips marking, so every cell not forced to
	// survive is finalized and swept. Used from Heap.Close.
	CollectEverything
)

func (t CollectionType) String() string {
	if t == CollectEverything {
		return "CollectEverything"
	}
	return "CollectGarbage"
}

// CollectGarbage runs one collection cycle: gather roots and mark (unless
// collectionType is CollectEverything), finalize unmarked cells, then
// sweep dead cells, in that order (spec.md §4.3, §4.8's ordering note).
//
// Re-entering CollectGarbage while a collection is already running is a
// fatal error (spec.md §3 invariant 4, §5, §7).
func (h *Heap) CollectGarbage(collectionType CollectionType, printReport bool) {
	if h.collecting {
		fatal(ErrReentrantCollection, "CollectGarbage called while a collection is already in progress")
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	if h.tracer != nil {
		h.tracer.Printf("collect_garbage: type=%v", collectionType)
	}

	if collectionType == CollectGarbage {
		if h.deferralDepth > 0 {
			h.shouldGCOnUndefer = true
			if h.tracer != nil {
				h.tracer.Printf("collect_garbage: deferred (depth=%d)", h.deferralDepth)
			}
			return
		}
		roots := h.gatherRoots()
		h.markLiveCells(roots)
	}

	h.finalizeUnmarkedCells()
	report := h.sweepDeadCells()

	if printReport || h.cfg.Debug {
		h.emitReport(report)
	}
}

// gatherRoots asks the VM for its precise roots, performs the conservative
// scan, and adds every live handle and every marked-vector's contents
// (spec.md §4.4).
func (h *Heap) gatherRoots() *rootSet {
	roots := newRootSet()

	h.vm.GatherRoots(&vmRootAdapter{heap: h, roots: roots})
	h.gatherConservativeRoots(roots)

	for handle := range h.handles {
		if handle.slot != nil {
			roots.add(handle.slot, OriginHandle)
		}
	}

	for vector := range h.markedVectors {
		for _, cell := range vector.cells {
			roots.add(h.slotFor(cell), OriginMarkedVector)
		}
	}

	if h.tracer != nil {
		h.tracer.Printf("gather_roots: %d roots", len(roots.order))
	}
	return roots
}

// vmRootAdapter adapts heap.rootSet to the vm.RootVisitor interface the VM
// collaborator calls back into, tagging every contributed root OriginVM.
type vmRootAdapter struct {
	heap  *Heap
	roots *rootSet
}

func (a *vmRootAdapter) VisitRoot(obj interface{}) {
	cell, ok := obj.(Cell)
	if !ok {
		fatal(ErrInvariant, "VM contributed a root that is not a heap.Cell")
	}
	a.roots.add(a.heap.slotFor(cell), OriginVM)
}

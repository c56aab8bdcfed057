package heap

import (
	"unsafe"

	"github.com/nichtverstehen/serenity/heap/safefunc"
	"github.com/nichtverstehen/serenity/vm"
)

const wordSize = unsafe.Sizeof(uintptr(0))

// possiblePointer pairs a candidate word with the origin it would be
// tagged with if it resolves to a live cell.
type possiblePointer struct {
	value  uintptr
	origin RootOrigin
}

// addPossiblePointer records data as a possible pointer, unshifting it
// first if it looks like a NaN-boxed/tagged cell reference and the VM
// exposes its tagging scheme (spec.md §4.6, "Pointer extraction from
// tagged values"). The first origin recorded per address wins, matching
// rootSet.add's conflict policy.
func (h *Heap) addPossiblePointer(possible map[uintptr]RootOrigin, data uintptr, origin RootOrigin) {
	if vt, ok := h.vm.(vm.ValueTagging); ok {
		pattern := vt.ShiftedIsCellPattern()
		if pattern != 0 && data&pattern == pattern {
			data = vt.ExtractPointerBits(data)
		}
	}
	if _, ok := possible[data]; !ok {
		possible[data] = origin
	}
}

// gatherConservativeRoots captures callee-saved registers, walks the stack
// from a local reference up to the VM's reported stack top, walks every
// registered custom scan range, and resolves every resulting candidate
// word against the set of currently-live blocks (spec.md §4.6).
func (h *Heap) gatherConservativeRoots(roots *rootSet) {
	possible := make(map[uintptr]RootOrigin)

	// Step 1: callee-saved registers.
	var regs [numCalleeSaved]uintptr
	stackReference := captureRegisters(&regs)
	for _, word := range regs {
		h.addPossiblePointer(possible, word, OriginRegisterPointer)
	}

	// Step 2: the stack, from the reference address up to (not including)
	// the VM-reported top.
	top := h.vm.StackInfo().Top()
	for addr := stackReference; addr < top; addr += wordSize {
		word := *(*uintptr)(unsafe.Pointer(addr))
		h.addPossiblePointer(possible, word, OriginStackPointer)
		h.gatherASanFakeStackRoots(possible, word)
	}

	// Step 3: address-sanitizer fake-stack cooperation has no portable Go
	// equivalent; gatherASanFakeStackRoots (below) is a documented no-op,
	// matching the teacher's own non-ASan build's no-op.

	// Step 4: registered custom scan ranges (e.g. SafeFunction closures).
	safefunc.ForEachRange(func(base uintptr, words int, loc safefunc.SourceLocation) {
		_ = loc // not recorded: these roots are tagged OriginSafeFunction only
		for i := 0; i < words; i++ {
			word := *(*uintptr)(unsafe.Pointer(base + uintptr(i)*wordSize))
			h.addPossiblePointer(possible, word, OriginSafeFunction)
		}
	})

	h.resolvePossiblePointers(possible, roots)
}

// resolvePossiblePointers masks each non-zero candidate to its block
// boundary, discards it unless that block is currently live, then asks the
// block to resolve the candidate to a cell at a valid slot boundary.
// Candidates that only narrowly miss (e.g. an unshifted tagged value whose
// high bits happened to match SHIFTED_IS_CELL_PATTERN but whose unshifted
// form lands off any cell boundary) are silently discarded per spec, and
// logged when running with Config.Debug set (spec.md §9 Open Questions).
func (h *Heap) resolvePossiblePointers(possible map[uintptr]RootOrigin, roots *rootSet) {
	for addr, origin := range possible {
		if addr == 0 {
			continue
		}
		blockBase := addr &^ (h.cfg.BlockSize - 1)
		block, ok := h.blocks[blockBase]
		if !ok {
			continue
		}
		slot := block.CellFromPossiblePointer(addr)
		if slot == nil {
			if h.cfg.Debug && h.tracer != nil {
				h.tracer.Printf("conservative scan: %#x landed in a live block but not on a cell boundary", addr)
			}
			continue
		}
		if slot.state != stateLive && slot.state != stateMarked {
			continue
		}
		roots.add(slot, origin)
	}
}

// gatherASanFakeStackRoots has no effect: Go does not build under C++'s
// stack-use-after-return AddressSanitizer fake-stack instrumentation, so
// there is nothing to cooperate with. Kept as an explicit stage to mirror
// spec.md §4.6 step 3 and the teacher's #ifdef HAS_ADDRESS_SANITIZER /
// #else no-op branch.
func (h *Heap) gatherASanFakeStackRoots(possible map[uintptr]RootOrigin, addr uintptr) {
}

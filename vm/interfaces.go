// Package vm defines the external interfaces the heap package consumes
// from its host runtime (spec.md §6, "To the runtime (VM) — consumed").
// The actual bytecode interpreter, value representation, and runtime
// built-ins are out of scope for this repository (spec.md §1); this
// package only names the contract the GC calls into.
package vm

// RootVisitor receives precise roots contributed by the VM and the
// bytecode interpreter during gather_roots (spec.md §4.4).
type RootVisitor interface {
	// VisitRoot registers obj (expected to be a heap.Cell, typed as
	// interface{} here to avoid an import cycle between vm and heap) as a
	// root, originating from the VM.
	VisitRoot(obj interface{})
}

// VM is the embedding runtime's state the heap gathers precise roots from
// and asks for the usable stack window.
type VM interface {
	// GatherRoots contributes the VM's own precisely-tracked roots.
	GatherRoots(visitor RootVisitor)

	// StackInfo returns the bounds of the currently executing stack, used
	// by the conservative scanner (spec.md §4.6).
	StackInfo() StackInfo

	// StringCache is cleared on heap teardown before the final collection
	// (spec.md §6).
	StringCache() StringCache
}

// StackInfo describes the bounds of the stack the conservative scanner
// should walk.
type StackInfo interface {
	// Top returns the upper (base) address of the usable stack; the
	// scanner walks from a locally-captured reference address up to Top.
	Top() uintptr
}

// BytecodeInterpreter enumerates the live references held in the
// interpreter's internal state (spec.md §1, §4.4: "the collector walks the
// bytecode interpreter's edges separately during the mark pass rather than
// as roots").
type BytecodeInterpreter interface {
	VisitEdges(visitor RootVisitor)
}

// StringCache is the minimal surface Heap.Close needs from the VM's string
// interning tables (spec.md §6).
type StringCache interface {
	Clear()
}

// ValueTagging is optionally implemented by a VM whose tagged value
// representation is the same width as a pointer (spec.md §4.6: "If
// pointers and the runtime's value word are the same width (64-bit)...").
// A VM that doesn't implement this is scanned as if every word were
// already a raw, untagged pointer candidate — the spec's fallback path for
// narrower platforms.
type ValueTagging interface {
	// ShiftedIsCellPattern returns the bit pattern a tagged pointer-value
	// word matches in its high bits.
	ShiftedIsCellPattern() uintptr
	// ExtractPointerBits recovers the canonical pointer from a word that
	// matched ShiftedIsCellPattern.
	ExtractPointerBits(word uintptr) uintptr
}

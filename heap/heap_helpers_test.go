package heap_test

import (
	"github.com/nichtverstehen/serenity/gcconfig"
	"github.com/nichtverstehen/serenity/heap"
	"github.com/nichtverstehen/serenity/vm"
)

// testConfig returns a small-block config (4096-byte blocks, so 128 cells
// of 32 bytes) to keep each test from allocating megabytes. The 1-byte GC
// threshold makes every allocation trigger a collection first.
func testConfig() gcconfig.Config {
	cfg := gcconfig.Config{
		SizeClasses:         []uintptr{32, 64},
		GCMinBytesThreshold: 1,
		BlockSize:           4096,
	}
	return cfg.WithDefaults()
}

// fakeStringCache counts Clear calls so Heap.Close's teardown step is
// observable.
type fakeStringCache struct{ cleared int }

func (c *fakeStringCache) Clear() { c.cleared++ }

// fakeStackInfo reports a fixed upper bound for the conservative stack
// scan. Tests that don't care about real stack/register scanning set top
// to 0, which makes the scan loop in heap.gatherConservativeRoots a no-op
// (stackReference is always a nonzero address, so `addr < top` is false
// from the first iteration) without disabling the pass entirely.
type fakeStackInfo struct{ top uintptr }

func (s fakeStackInfo) Top() uintptr { return s.top }

// fakeVM is a minimal vm.VM: it contributes whatever roots have been
// registered with Root/Unroot as precise roots, and otherwise defers
// conservative scanning to fakeStackInfo.
type fakeVM struct {
	roots   map[string]heap.Cell
	strings *fakeStringCache
	top     uintptr
}

func newFakeVM() *fakeVM {
	return &fakeVM{roots: make(map[string]heap.Cell), strings: &fakeStringCache{}}
}

func (v *fakeVM) GatherRoots(visitor vm.RootVisitor) {
	for _, cell := range v.roots {
		visitor.VisitRoot(cell)
	}
}

func (v *fakeVM) StackInfo() vm.StackInfo { return fakeStackInfo{top: v.top} }

func (v *fakeVM) StringCache() vm.StringCache { return v.strings }

func (v *fakeVM) Root(name string, cell heap.Cell) { v.roots[name] = cell }

func (v *fakeVM) Unroot(name string) { delete(v.roots, name) }

// recorder is a Cell that records whether it was finalized and can declare
// edges to other cells and whether it must survive a cycle.
type recorder struct {
	name        string
	edges       []heap.Cell
	finalized   bool
	mustSurvive bool
}

func (r *recorder) ClassName() string { return "Recorder:" + r.name }

func (r *recorder) VisitEdges(v heap.Visitor) {
	for _, e := range r.edges {
		v.Visit(e)
	}
}

func (r *recorder) Finalize() { r.finalized = true }

func (r *recorder) MustSurviveGarbageCollection() bool { return r.mustSurvive }

// plainCell is a Cell with no finalizer and no must-survive override, used
// where a test only cares about liveness, not finalization.
type plainCell struct {
	name  string
	edges []heap.Cell
}

func (c *plainCell) ClassName() string { return "Plain:" + c.name }

func (c *plainCell) VisitEdges(v heap.Visitor) {
	for _, e := range c.edges {
		v.Visit(e)
	}
}

// reentrantFinalizer calls back into its own heap from Finalize, exercising
// the re-entrant-collection guard.
type reentrantFinalizer struct {
	heap *heap.Heap
}

func (r *reentrantFinalizer) ClassName() string      { return "Reentrant" }
func (r *reentrantFinalizer) VisitEdges(heap.Visitor) {}
func (r *reentrantFinalizer) Finalize()               { r.heap.CollectGarbage(heap.CollectGarbage, false) }

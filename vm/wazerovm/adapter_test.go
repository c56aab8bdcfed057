package wazerovm_test

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/nichtverstehen/serenity/heap"
	"github.com/nichtverstehen/serenity/vm/wazerovm"
)

// minimalModule is the smallest valid WebAssembly binary: just the magic
// number and version, no sections.
var minimalModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type stubCell struct{ name string }

func (c *stubCell) ClassName() string      { return c.name }
func (c *stubCell) VisitEdges(heap.Visitor) {}

func newTestAdapter(t *testing.T) (*wazerovm.Adapter, func()) {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	mod, err := rt.Instantiate(ctx, minimalModule)
	if err != nil {
		t.Fatalf("instantiating minimal module: %v", err)
	}
	adapter := wazerovm.New(ctx, rt, mod)
	return adapter, func() { rt.Close(ctx) }
}

func TestBindGlobalIsReportedAsARoot(t *testing.T) {
	adapter, closeRT := newTestAdapter(t)
	defer closeRT()

	cell := &stubCell{name: "a"}
	adapter.BindGlobal("g0", cell)

	var seen []interface{}
	adapter.GatherRoots(rootCollector(func(obj interface{}) { seen = append(seen, obj) }))
	if len(seen) != 1 || seen[0] != heap.Cell(cell) {
		t.Fatalf("expected GatherRoots to report the bound cell, got %v", seen)
	}

	adapter.UnbindGlobal("g0")
	seen = nil
	adapter.GatherRoots(rootCollector(func(obj interface{}) { seen = append(seen, obj) }))
	if len(seen) != 0 {
		t.Fatalf("expected no roots after UnbindGlobal, got %v", seen)
	}
}

func TestStringCacheClearEmptiesInternTable(t *testing.T) {
	adapter, closeRT := newTestAdapter(t)
	defer closeRT()

	adapter.InternString("hello", &stubCell{name: "hello"})
	if _, ok := adapter.LookupString("hello"); !ok {
		t.Fatal("expected the interned string to be found before Clear")
	}

	adapter.StringCache().Clear()
	if _, ok := adapter.LookupString("hello"); ok {
		t.Fatal("expected Clear to empty the intern table")
	}
}

func TestInterpreterReportsPushedFrames(t *testing.T) {
	adapter, closeRT := newTestAdapter(t)
	defer closeRT()

	interp := adapter.NewInterpreter()
	cell := &stubCell{name: "frame"}
	interp.PushFrame(cell)

	var seen []interface{}
	interp.VisitEdges(rootCollector(func(obj interface{}) { seen = append(seen, obj) }))
	if len(seen) != 1 || seen[0] != heap.Cell(cell) {
		t.Fatalf("expected the pushed frame to be reported as an edge, got %v", seen)
	}

	interp.PopFrame()
	seen = nil
	interp.VisitEdges(rootCollector(func(obj interface{}) { seen = append(seen, obj) }))
	if len(seen) != 0 {
		t.Fatalf("expected no edges after PopFrame, got %v", seen)
	}
}

// rootCollector adapts a plain func to vm.RootVisitor without importing the
// vm package just for the interface.
type rootCollector func(obj interface{})

func (f rootCollector) VisitRoot(obj interface{}) { f(obj) }

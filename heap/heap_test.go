package heap_test

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/nichtverstehen/serenity/heap"
	"github.com/nichtverstehen/serenity/heap/safefunc"
)

func TestUnreachableCellIsFinalizedAndSwept(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	h.AllocateCell(32, obj).Release()

	h.CollectGarbage(heap.CollectGarbage, true)

	if !obj.finalized {
		t.Fatal("expected an unreachable cell to be finalized and swept")
	}
	if !strings.Contains(h.LastReport(), "Collected cells: 1 (") {
		t.Fatalf("expected the report to count one swept cell, got:\n%s", h.LastReport())
	}
}

func TestHandleRootKeepsCellAlive(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	handle := h.AllocateCell(32, obj)

	h.CollectGarbage(heap.CollectGarbage, false)

	if obj.finalized {
		t.Fatal("expected a handle-rooted cell to survive collection")
	}
	if handle.Cell() != obj {
		t.Fatal("handle should still reference its cell after a collection")
	}
}

func TestReleasingHandleAllowsCollection(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	handle := h.AllocateCell(32, obj)
	handle.Release()

	h.CollectGarbage(heap.CollectGarbage, false)

	if !obj.finalized {
		t.Fatal("expected the cell to be collected once its only handle is released")
	}
}

func TestMarkedVectorRootsItsContents(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	h.AllocateCell(32, obj).Release()

	vec := h.NewMarkedVector()
	vec.Append(obj)

	h.CollectGarbage(heap.CollectGarbage, false)
	if obj.finalized {
		t.Fatal("expected a marked-vector entry to survive collection")
	}

	vec.Release()
	h.CollectGarbage(heap.CollectGarbage, false)
	if !obj.finalized {
		t.Fatal("expected the cell to be collected once the marked vector releases it")
	}
}

func TestWeakContainerDropsDeadEntriesButKeepsLive(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	live := &plainCell{name: "live"}
	liveHandle := h.AllocateCell(32, live)
	defer liveHandle.Release()

	dead := &plainCell{name: "dead"}
	h.AllocateCell(32, dead).Release()

	weak := h.NewWeakContainer()
	defer weak.Release()
	weak.Add(live)
	weak.Add(dead)

	h.CollectGarbage(heap.CollectGarbage, false)

	if !weak.Contains(live) {
		t.Fatal("weak container should still contain the live cell")
	}
	if weak.Contains(dead) {
		t.Fatal("weak container should have dropped the dead cell after sweep")
	}
}

func TestDeferredCollectionRunsOnUndefer(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	h.AllocateCell(32, obj).Release()

	h.DeferGC()
	h.CollectGarbage(heap.CollectGarbage, false)
	if obj.finalized {
		t.Fatal("collection must not run while a deferral scope is open")
	}

	h.UndeferGC()
	if !obj.finalized {
		t.Fatal("expected the pending collection to run once the last deferral scope closes")
	}
}

func TestNestedDeferralOnlyRunsOnOutermostUndefer(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "a"}
	h.AllocateCell(32, obj).Release()

	h.DeferGC()
	h.DeferGC()
	h.CollectGarbage(heap.CollectGarbage, false)

	h.UndeferGC()
	if obj.finalized {
		t.Fatal("collection must stay deferred until every nested scope closes")
	}

	h.UndeferGC()
	if !obj.finalized {
		t.Fatal("expected the pending collection to run once the outermost scope closes")
	}
}

func TestCollectEverythingIgnoresRootsButHonorsMustSurvive(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())

	rooted := &recorder{name: "rooted"}
	h.AllocateCell(32, rooted)

	survivor := &recorder{name: "survivor", mustSurvive: true}
	h.AllocateCell(32, survivor)

	h.CollectGarbage(heap.CollectEverything, false)

	if !rooted.finalized {
		t.Fatal("expected CollectEverything to finalize a cell despite a live handle")
	}
	if survivor.finalized {
		t.Fatal("a MustSurvivor cell must never be finalized")
	}
}

func TestUprootedCellIsCollectedDespiteLiveHandle(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	parent := &recorder{name: "parent"}
	handle := h.AllocateCell(32, parent)
	h.UprootCell(parent)

	h.CollectGarbage(heap.CollectGarbage, false)

	if !parent.finalized {
		t.Fatal("expected an uprooted cell to be collected even while its handle is still registered")
	}
	handle.Release()
}

func TestCustomScanRangeConservativelyPinsCell(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &recorder{name: "pinned"}
	handle := h.AllocateCell(32, obj)
	addr := handle.Addr()
	handle.Release()

	var scanBuf [1]uintptr
	scanBuf[0] = addr
	base := uintptr(unsafe.Pointer(&scanBuf[0]))
	safefunc.Register(base, int(unsafe.Sizeof(scanBuf)), safefunc.SourceLocation{
		FunctionName: "TestCustomScanRangeConservativelyPinsCell",
	})
	defer safefunc.Unregister(base)

	h.CollectGarbage(heap.CollectGarbage, false)
	runtime.KeepAlive(scanBuf)

	if obj.finalized {
		t.Fatal("expected the custom scan range to conservatively pin the cell")
	}

	scanBuf[0] = 0
	h.CollectGarbage(heap.CollectGarbage, false)
	runtime.KeepAlive(scanBuf)

	if !obj.finalized {
		t.Fatal("expected the cell to be collected once the custom range no longer references it")
	}
}

func TestReentrantCollectionIsFatal(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &reentrantFinalizer{heap: h}
	h.AllocateCell(32, obj).Release()

	defer func() {
		r := recover()
		fe, ok := r.(*heap.FatalError)
		if !ok || fe.Kind != heap.ErrReentrantCollection {
			t.Fatalf("expected ErrReentrantCollection, got %#v", r)
		}
	}()
	h.CollectGarbage(heap.CollectGarbage, false)
}

func TestAllocatingBeyondLargestSizeClassPanics(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig()) // size classes: 32, 64
	defer h.Close()

	defer func() {
		r := recover()
		fe, ok := r.(*heap.FatalError)
		if !ok || fe.Kind != heap.ErrSizeClassExhausted {
			t.Fatalf("expected ErrSizeClassExhausted, got %#v", r)
		}
	}()
	h.AllocateCell(128, &plainCell{name: "too-big"})
}

func TestUndeferWithoutDeferPanics(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	defer func() {
		r := recover()
		fe, ok := r.(*heap.FatalError)
		if !ok || fe.Kind != heap.ErrDeferralUnderflow {
			t.Fatalf("expected ErrDeferralUnderflow, got %#v", r)
		}
	}()
	h.UndeferGC()
}

func TestReleasingHandleTwicePanics(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	obj := &plainCell{name: "a"}
	handle := h.AllocateCell(32, obj)
	handle.Release()

	defer func() {
		r := recover()
		fe, ok := r.(*heap.FatalError)
		if !ok || fe.Kind != heap.ErrRegistryContract {
			t.Fatalf("expected ErrRegistryContract, got %#v", r)
		}
	}()
	handle.Release()
}

func TestHeapCloseClearsVMStringCache(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	h.Close()

	if v.strings.cleared != 1 {
		t.Fatalf("expected Close to clear the VM string cache exactly once, got %d", v.strings.cleared)
	}
}

func TestDumpGraphIncludesRootsAndEdges(t *testing.T) {
	v := newFakeVM()
	h := heap.New(v, nil, testConfig())
	defer h.Close()

	child := &plainCell{name: "child"}
	childHandle := h.AllocateCell(32, child)
	defer childHandle.Release()

	parent := &plainCell{name: "parent", edges: []heap.Cell{child}}
	parentHandle := h.AllocateCell(32, parent)
	defer parentHandle.Release()

	dump := h.DumpGraph()

	var graph map[string]struct {
		Root      string   `json:"root,omitempty"`
		ClassName string   `json:"class_name"`
		Edges     []string `json:"edges"`
	}
	if err := json.Unmarshal([]byte(dump), &graph); err != nil {
		t.Fatalf("DumpGraph produced invalid JSON: %v", err)
	}
	if len(graph) != 2 {
		t.Fatalf("expected 2 nodes in the dumped graph, got %d", len(graph))
	}

	var sawParentRoot bool
	for _, node := range graph {
		if node.ClassName == "Plain:parent" {
			sawParentRoot = node.Root == "Handle"
			if len(node.Edges) != 1 {
				t.Fatalf("expected parent to have exactly one edge, got %d", len(node.Edges))
			}
		}
	}
	if !sawParentRoot {
		t.Fatal("expected the parent node to be tagged as a Handle root")
	}
}

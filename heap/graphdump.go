package heap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// graphNode is one entry in the dumped object graph: a cell's class name,
// its outgoing edges (by address), and — for root cells — the origin tag
// that rooted it (spec.md §4.9, §6 "a human-readable mapping keyed by
// stringified cell addresses, with per-node fields {root?, class_name,
// edges: [address, ...]}").
type graphNode struct {
	Root      string   `json:"root,omitempty"`
	ClassName string   `json:"class_name"`
	Edges     []string `json:"edges"`
}

// graphVisitor walks reachability from the gathered roots and records
// every visited cell's class name and edges, mirroring
// GraphConstructorVisitor in the original implementation. It has no effect
// on liveness: no mark bits are touched.
type graphVisitor struct {
	heap    *Heap
	graph   map[uintptr]*graphNode
	current *graphNode
	queue   []*cellSlot
	drained map[*cellSlot]bool
}

func (v *graphVisitor) Visit(cell Cell) {
	if cell == nil {
		return
	}
	slot := v.heap.slotFor(cell)
	if v.current != nil {
		v.current.Edges = append(v.current.Edges, fmt.Sprintf("%d", slot.addr))
	}
	if _, seen := v.graph[slot.addr]; seen {
		return
	}
	v.queue = append(v.queue, slot)
}

func (v *graphVisitor) VisitRoot(obj interface{}) {
	cell, ok := obj.(Cell)
	if !ok {
		fatal(ErrInvariant, "VM/interpreter contributed a non-Cell edge during graph dump")
	}
	v.Visit(cell)
}

func (v *graphVisitor) ensure(slot *cellSlot) *graphNode {
	node, ok := v.graph[slot.addr]
	if !ok {
		node = &graphNode{ClassName: slot.cell.ClassName()}
		v.graph[slot.addr] = node
	}
	return node
}

func (v *graphVisitor) drain() {
	for len(v.queue) > 0 {
		n := len(v.queue) - 1
		slot := v.queue[n]
		v.queue = v.queue[:n]
		if v.drained == nil {
			v.drained = make(map[*cellSlot]bool)
		}
		if v.drained[slot] {
			continue
		}
		v.drained[slot] = true

		v.current = v.ensure(slot)
		slot.cell.VisitEdges(v)
		v.current = nil
	}
}

// DumpGraph runs a full reachability trace from the gathered roots and
// returns a human-readable JSON object keyed by stringified cell
// addresses (spec.md §4.9). Debug-only; has no effect on liveness and no
// stability is promised across versions.
func (h *Heap) DumpGraph() string {
	roots := h.gatherRoots()

	visitor := &graphVisitor{heap: h, graph: make(map[uintptr]*graphNode)}
	for _, slot := range roots.order {
		node := visitor.ensure(slot)
		node.Root = roots.origins[slot].String()
		visitor.queue = append(visitor.queue, slot)
	}
	if h.interp != nil {
		h.interp.VisitEdges(visitor)
	}
	visitor.drain()

	out := make(map[string]*graphNode, len(visitor.graph))
	for addr, node := range visitor.graph {
		out[fmt.Sprintf("%d", addr)] = node
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(ErrInvariant, "DumpGraph: failed to encode graph: %v", err)
	}
	return string(encoded)
}

// DumpGraphToFile writes DumpGraph's output to path, guarded by an
// exclusive file lock so two heaps (or two debug sessions) in the same
// process don't interleave writes to a shared dump file.
func (h *Heap) DumpGraphToFile(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	return os.WriteFile(path, []byte(h.DumpGraph()), 0o644)
}

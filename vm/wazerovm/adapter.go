// Package wazerovm adapts a wazero-hosted WebAssembly module to the
// vm.VM / vm.BytecodeInterpreter contracts heap.Heap consumes (spec.md
// §6). It stands in for a real bytecode interpreter so the collector can
// be exercised end to end against an actual module runtime rather than a
// hand-rolled fake.
package wazerovm

import (
	"context"
	"unsafe"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/nichtverstehen/serenity/heap"
	"github.com/nichtverstehen/serenity/vm"
)

// Adapter wraps one instantiated wazero module. wazero globals only ever
// hold i32/i64/f32/f64, so a module "holding a cell" is modeled here as the
// host recording, for each exported global the module treats as a handle
// slot, which heap.Cell that slot currently names; GatherRoots reports
// exactly those bindings.
type Adapter struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module

	globals map[string]heap.Cell
	strings map[string]heap.Cell

	stackTop uintptr
}

// New wraps an already-instantiated module. The caller owns rt and mod's
// lifetime beyond Close.
func New(ctx context.Context, rt wazero.Runtime, mod api.Module) *Adapter {
	return &Adapter{
		ctx:      ctx,
		runtime:  rt,
		module:   mod,
		globals:  make(map[string]heap.Cell),
		strings:  make(map[string]heap.Cell),
		stackTop: captureApproximateStackTop(),
	}
}

// BindGlobal records that the module's global named name currently roots
// cell. Call this whenever the module's guest code stores a new handle
// into that global; call UnbindGlobal when it's overwritten or goes out
// of scope.
func (a *Adapter) BindGlobal(name string, cell heap.Cell) { a.globals[name] = cell }

// UnbindGlobal removes a previously bound global root.
func (a *Adapter) UnbindGlobal(name string) { delete(a.globals, name) }

// GatherRoots reports every currently bound global as a precise root
// (spec.md §4.4).
func (a *Adapter) GatherRoots(visitor vm.RootVisitor) {
	for _, cell := range a.globals {
		visitor.VisitRoot(cell)
	}
}

// StackInfo returns an approximation of the usable stack window: wazero's
// interpreter and compiler both run on the host goroutine's own stack, and
// Go exposes no portable way to ask the runtime for that stack's base, so
// this takes the address of a local captured once at adapter construction
// as a stand-in upper bound. A real embedder with access to its own thread
// stack bounds should supply those instead.
func (a *Adapter) StackInfo() vm.StackInfo { return stackInfo{top: a.stackTop} }

//go:noinline
func captureApproximateStackTop() uintptr {
	var probe byte
	return uintptr(unsafe.Pointer(&probe))
}

type stackInfo struct{ top uintptr }

func (s stackInfo) Top() uintptr { return s.top }

// StringCache exposes the adapter's interned-string table for
// Heap.Close's teardown step (spec.md §6).
func (a *Adapter) StringCache() vm.StringCache { return (*stringCache)(a) }

// InternString records cell as the canonical representation of s so
// future lookups (guest-side string comparisons) can reuse it.
func (a *Adapter) InternString(s string, cell heap.Cell) { a.strings[s] = cell }

// LookupString returns the previously interned cell for s, if any.
func (a *Adapter) LookupString(s string) (heap.Cell, bool) {
	cell, ok := a.strings[s]
	return cell, ok
}

type stringCache Adapter

func (c *stringCache) Clear() {
	for k := range c.strings {
		delete(c.strings, k)
	}
}

// Close releases the wrapped module. The runtime itself is the caller's
// to close.
func (a *Adapter) Close() error {
	return a.module.Close(a.ctx)
}

// Interpreter tracks the wasm call stack's live cell-valued frames and
// reports them as BytecodeInterpreter edges (spec.md §1, §4.4: "the
// collector walks the bytecode interpreter's edges separately during the
// mark pass rather than as roots"). A real interpreter would derive this
// from its own call-frame representation instead of explicit
// Push/PopFrame calls from host functions.
type Interpreter struct {
	frames []heap.Cell
}

// NewInterpreter returns an empty call-stack tracker for adapter a.
func (a *Adapter) NewInterpreter() *Interpreter { return &Interpreter{} }

// PushFrame records that a new call frame roots cell (e.g. a host function
// invoked by the module passed it a cell-valued argument).
func (i *Interpreter) PushFrame(cell heap.Cell) { i.frames = append(i.frames, cell) }

// PopFrame discards the most recently pushed frame.
func (i *Interpreter) PopFrame() {
	if len(i.frames) == 0 {
		return
	}
	i.frames = i.frames[:len(i.frames)-1]
}

// VisitEdges reports every cell currently referenced by a live call frame.
func (i *Interpreter) VisitEdges(visitor vm.RootVisitor) {
	for _, cell := range i.frames {
		visitor.VisitRoot(cell)
	}
}

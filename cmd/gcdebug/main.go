// Command gcdebug is an interactive console for driving a heap.Heap by
// hand: allocate toy objects, link them together, root and release them,
// then trigger collections and inspect the resulting object graph. It
// exists to exercise the collector end to end against a real (if trivial)
// wazero module instance rather than only through unit tests.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	colorable "github.com/mattn/go-colorable"
	tty "github.com/mattn/go-tty"
	"github.com/tetratelabs/wazero"

	"github.com/nichtverstehen/serenity/gcconfig"
	"github.com/nichtverstehen/serenity/heap"
	"github.com/nichtverstehen/serenity/vm/wazerovm"
)

// emptyModule is the smallest valid WebAssembly module (magic + version,
// no sections). gcdebug doesn't need the module to do anything; it only
// needs a live api.Module to hand to wazerovm.Adapter.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// demoObject is a toy Cell: a named node with an outgoing edge list, just
// enough structure for `link` and `dump` to have something to show.
type demoObject struct {
	name  string
	edges []heap.Cell
}

func (o *demoObject) ClassName() string { return "DemoObject:" + o.name }

func (o *demoObject) VisitEdges(v heap.Visitor) {
	for _, e := range o.edges {
		v.Visit(e)
	}
}

// console is the REPL's state: the heap under test, the wazero adapter
// standing in for the embedding VM, and the named handles the user has
// created so far.
type console struct {
	heap    *heap.Heap
	adapter *wazerovm.Adapter
	handles map[string]*heap.Handle
	out     *bufio.Writer
}

func main() {
	configPath := flag.String("config", "", "path to a gcconfig YAML file (optional)")
	flag.Parse()

	cfg, err := gcconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gcdebug: loading config:", err)
		os.Exit(1)
	}
	cfg.Debug = true

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := rt.Instantiate(ctx, emptyModule)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gcdebug: instantiating module:", err)
		os.Exit(1)
	}
	adapter := wazerovm.New(ctx, rt, mod)

	h := heap.New(adapter, adapter.NewInterpreter(), cfg)
	defer h.Close()

	c := &console{
		heap:    h,
		adapter: adapter,
		handles: make(map[string]*heap.Handle),
		out:     bufio.NewWriter(colorable.NewColorableStdout()),
	}
	defer c.out.Flush()

	c.printf("gcdebug ready. Commands: alloc link root unroot release gc gc-all defer undefer uproot dump report quit\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		c.printf("> ")
		c.out.Flush()
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			c.printf("parse error: %v\n", err)
			continue
		}
		if !c.dispatch(args) {
			return
		}
	}
}

func (c *console) printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
	c.out.Flush()
}

func (c *console) dispatch(args []string) bool {
	if len(args) == 0 {
		return true
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "alloc":
		c.cmdAlloc(rest)
	case "link":
		c.cmdLink(rest)
	case "root":
		c.cmdRoot(rest)
	case "unroot":
		c.cmdUnroot(rest)
	case "release":
		c.cmdRelease(rest)
	case "gc":
		if c.confirm("run a collection") {
			c.heap.CollectGarbage(heap.CollectGarbage, true)
			c.printf("%s\n", c.heap.LastReport())
		}
	case "gc-all":
		if c.confirm("run CollectEverything") {
			c.heap.CollectGarbage(heap.CollectEverything, true)
			c.printf("%s\n", c.heap.LastReport())
		}
	case "defer":
		c.heap.DeferGC()
		c.printf("deferred\n")
	case "undefer":
		c.heap.UndeferGC()
		c.printf("undeferred\n")
	case "uproot":
		c.cmdUproot(rest)
	case "dump":
		c.cmdDump(rest)
	case "report":
		c.printf("%s\n", c.heap.LastReport())
	case "quit", "exit":
		return false
	default:
		c.printf("unknown command %q\n", cmd)
	}
	return true
}

func (c *console) cmdAlloc(args []string) {
	if len(args) != 1 {
		c.printf("usage: alloc NAME\n")
		return
	}
	name := args[0]
	if _, exists := c.handles[name]; exists {
		c.printf("%s already allocated\n", name)
		return
	}
	handle := c.heap.AllocateCell(32, &demoObject{name: name})
	c.handles[name] = handle
	c.printf("allocated %s\n", name)
}

func (c *console) cmdLink(args []string) {
	if len(args) != 2 {
		c.printf("usage: link FROM TO\n")
		return
	}
	from, ok := c.handles[args[0]]
	if !ok {
		c.printf("no such object %q\n", args[0])
		return
	}
	to, ok := c.handles[args[1]]
	if !ok {
		c.printf("no such object %q\n", args[1])
		return
	}
	obj := from.Cell().(*demoObject)
	obj.edges = append(obj.edges, to.Cell())
	c.printf("linked %s -> %s\n", args[0], args[1])
}

func (c *console) cmdRoot(args []string) {
	if len(args) != 1 {
		c.printf("usage: root NAME\n")
		return
	}
	handle, ok := c.handles[args[0]]
	if !ok {
		c.printf("no such object %q\n", args[0])
		return
	}
	c.adapter.BindGlobal(args[0], handle.Cell())
	c.printf("%s is now rooted by the VM\n", args[0])
}

func (c *console) cmdUnroot(args []string) {
	if len(args) != 1 {
		c.printf("usage: unroot NAME\n")
		return
	}
	c.adapter.UnbindGlobal(args[0])
	c.printf("%s no longer rooted by the VM\n", args[0])
}

func (c *console) cmdRelease(args []string) {
	if len(args) != 1 {
		c.printf("usage: release NAME\n")
		return
	}
	handle, ok := c.handles[args[0]]
	if !ok {
		c.printf("no such object %q\n", args[0])
		return
	}
	handle.Release()
	delete(c.handles, args[0])
	c.printf("released handle %s\n", args[0])
}

func (c *console) cmdUproot(args []string) {
	if len(args) != 1 {
		c.printf("usage: uproot NAME\n")
		return
	}
	handle, ok := c.handles[args[0]]
	if !ok {
		c.printf("no such object %q\n", args[0])
		return
	}
	c.heap.UprootCell(handle.Cell())
	c.printf("%s will be uprooted on the next mark pass\n", args[0])
}

func (c *console) cmdDump(args []string) {
	if len(args) == 0 {
		c.printf("%s\n", c.heap.DumpGraph())
		return
	}
	if err := c.heap.DumpGraphToFile(args[0]); err != nil {
		c.printf("dump failed: %v\n", err)
		return
	}
	c.printf("wrote graph to %s\n", args[0])
}

// confirm prompts for a single keystroke before a command that changes
// what's reachable, reading raw (unbuffered) input so the user doesn't
// need to press Enter. Falls back to "yes" when no terminal can be opened
// (tty.Open fails) or the keystroke cannot be read.
func (c *console) confirm(action string) bool {
	t, err := tty.Open()
	if err != nil {
		return true
	}
	defer t.Close()

	c.printf("%s, proceed? [y/N] ", action)
	c.out.Flush()
	r, err := t.ReadRune()
	c.printf("\n")
	if err != nil {
		return true
	}
	return r == 'y' || r == 'Y'
}

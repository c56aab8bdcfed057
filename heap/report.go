package heap

import (
	"fmt"

	bytesize "github.com/inhies/go-bytesize"
)

// emitReport writes a human-readable collection report through the
// collector's trace event log, when one is open, and keeps it for
// LastReport. The report lists live/collected cell counts and bytes and
// live/freed block counts and bytes; it carries no timing. Byte counts are
// formatted with go-bytesize the way a tinygo-style CLI formats build sizes.
func (h *Heap) emitReport(r Report) {
	text := fmt.Sprintf(
		"Garbage collection report\n"+
			"=============================================\n"+
			"     Live cells: %d (%s)\n"+
			"Collected cells: %d (%s)\n"+
			"    Live blocks: %d (%s)\n"+
			"   Freed blocks: %d (%s)\n"+
			"=============================================",
		r.LiveCells, bytesize.New(float64(r.LiveCellBytes)),
		r.CollectedCells, bytesize.New(float64(r.CollectedBytes)),
		r.LiveBlocks, bytesize.New(float64(r.LiveBlockBytes)),
		r.FreedBlocks, bytesize.New(float64(r.FreedBlockBytes)),
	)
	if h.tracer != nil {
		h.tracer.Printf("%s", text)
	}
	h.lastReportText = text
}

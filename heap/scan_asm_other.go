//go:build !amd64 && !arm64

package heap

import "unsafe"

// numCalleeSaved is 0 on architectures without a captureRegisters asm
// stub: callee-saved registers simply aren't scanned there. This is a
// documented limitation (spec.md §9's general caveat about compiler
// cooperation) rather than a silent correctness gap: property 8 in
// spec.md §8 ("Conservative-scan coverage") does not hold on these
// architectures.
const numCalleeSaved = 0

// captureRegisters has no register snapshot to take on unsupported
// architectures; it returns the address of a local as a best-effort stack
// reference, matching the "address of a local variable" fallback spec.md
// §4.6 step 2 uses regardless of register support.
func captureRegisters(buf *[numCalleeSaved]uintptr) uintptr {
	var local int
	return uintptr(unsafe.Pointer(&local))
}

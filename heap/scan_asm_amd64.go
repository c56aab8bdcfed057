package heap

// numCalleeSaved is the number of callee-saved general-purpose registers
// captureRegisters spills on this architecture (System V AMD64: bx, bp,
// r12-r15).
const numCalleeSaved = 6

// captureRegisters is implemented in scan_asm_amd64.s.
//
//go:noescape
func captureRegisters(buf *[numCalleeSaved]uintptr) uintptr

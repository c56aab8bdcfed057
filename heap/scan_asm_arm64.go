package heap

// numCalleeSaved is the number of callee-saved general-purpose registers
// captureRegisters spills on this architecture (AArch64: r19-r28).
const numCalleeSaved = 10

// captureRegisters is implemented in scan_asm_arm64.s.
//
//go:noescape
func captureRegisters(buf *[numCalleeSaved]uintptr) uintptr

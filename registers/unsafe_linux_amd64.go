package registers

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// unsafeRegsArray reinterprets a PtraceRegs struct as an array of 27
// uint64 words. This relies on unix.PtraceRegs being laid out exactly as
// the kernel's user_regs_struct: 27 consecutive uint64 fields in the same
// order as the Register enum above.
func unsafeRegsArray(regs *unix.PtraceRegs) unsafe.Pointer {
	return unsafe.Pointer(regs)
}

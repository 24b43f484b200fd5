// Package ptrace is a thin, typed wrapper over the kernel's process-trace
// interface: attach-self, continue, single-step, word-sized memory
// read/write, and the general-purpose register file. Every operation is
// synchronous with respect to the tracee and reports failure only on a
// genuine kernel error.
package ptrace

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/errs"
)

// ReadWord returns the 8-byte word at addr in the tracee's memory.
//
// PTRACE_PEEKDATA signals errors out of band: the call returns -1 both on
// a genuine error and when the word at addr legitimately equals
// 0xFFFFFFFFFFFFFFFF. unix.PtracePeekData already disambiguates this for
// us by returning a non-nil error only when the underlying syscall itself
// failed, so a successful peek of an all-ones word is reported as success
// with that value. (The original C implementation of this wrapper got
// this wrong: it returned "ok" unconditionally, regardless of errno.)
func ReadWord(pid int, address addr.RealAddr) (uint64, error) {
	buf := make([]byte, 8)
	n, err := unix.PtracePeekData(pid, uintptr(address.Value), buf)
	if err != nil {
		return 0, errs.Wrap(errs.TracerError, "PTRACE_PEEKDATA", err)
	}
	if n != len(buf) {
		return 0, errs.New(errs.TracerError, "PTRACE_PEEKDATA: short read")
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteWord replaces the 8-byte word at addr in the tracee's memory.
func WriteWord(pid int, address addr.RealAddr, word uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, word)
	if _, err := unix.PtracePokeData(pid, uintptr(address.Value), buf); err != nil {
		return errs.Wrap(errs.TracerError, "PTRACE_POKEDATA", err)
	}
	return nil
}

// ReadRegisters returns the full general-purpose register set of pid.
func ReadRegisters(pid int) (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return nil, errs.Wrap(errs.TracerError, "PTRACE_GETREGS", err)
	}
	return &regs, nil
}

// WriteRegisters replaces the full general-purpose register set of pid.
func WriteRegisters(pid int, regs *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(pid, regs); err != nil {
		return errs.Wrap(errs.TracerError, "PTRACE_SETREGS", err)
	}
	return nil
}

// Continue resumes the tracee until the next signal-delivery stop.
func Continue(pid int) error {
	if err := unix.PtraceCont(pid, 0); err != nil {
		return errs.Wrap(errs.TracerError, "PTRACE_CONT", err)
	}
	return nil
}

// SingleStep resumes the tracee for exactly one machine instruction.
func SingleStep(pid int) error {
	if err := unix.PtraceSingleStep(pid); err != nil {
		return errs.Wrap(errs.TracerError, "PTRACE_SINGLESTEP", err)
	}
	return nil
}

// TraceMe requests that the calling process be traced by its parent. It
// must be called in the child after fork, before exec.
func TraceMe() error {
	if err := unix.PtraceTraceme(); err != nil {
		return errs.Wrap(errs.TracerError, "PTRACE_TRACEME", err)
	}
	return nil
}

// Wait blocks until pid changes state (stops, continues, terminates) and
// reports the resulting wait status.
func Wait(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	if err != nil {
		return 0, errs.Wrap(errs.TracerError, "wait4", err)
	}
	return status, nil
}

// Package registers describes the fixed set of x86-64 user registers that
// spray can read and write in a traced process, along with the table that
// maps them to DWARF register numbers and canonical names.
package registers

import (
	"golang.org/x/sys/unix"

	"github.com/thass0/spray/errs"
)

// Register is one of the 27 general-purpose x86-64 registers exposed by
// the kernel's user_regs_struct. The ordering matches that struct exactly,
// the same way golang.org/x/sys/unix.PtraceRegs lays its fields out, so a
// Register can index into it positionally.
type Register int

const (
	R15 Register = iota
	R14
	R13
	R12
	Rbp
	Rbx
	R11
	R10
	R9
	R8
	Rax
	Rcx
	Rdx
	Rsi
	Rdi
	OrigRax
	Rip
	Cs
	Eflags
	Rsp
	Ss
	FsBase
	GsBase
	Ds
	Es
	Fs
	Gs

	nRegisters
)

// noDwarf marks a register that has no DWARF register number.
const noDwarf = -1

// Descriptor pairs a Register with its DWARF register number (or noDwarf)
// and its canonical textual name.
type Descriptor struct {
	Reg    Register
	DwarfR int
	Name   string
}

// descriptors is the closed, immutable register table, ported directly
// from the reg_descriptors table in the original C implementation, which
// itself mirrors the layout of struct user_regs_struct.
var descriptors = [nRegisters]Descriptor{
	{R15, 15, "r15"},
	{R14, 14, "r14"},
	{R13, 13, "r13"},
	{R12, 12, "r12"},
	{Rbp, 6, "rbp"},
	{Rbx, 3, "rbx"},
	{R11, 11, "r11"},
	{R10, 10, "r10"},
	{R9, 9, "r9"},
	{R8, 8, "r8"},
	{Rax, 0, "rax"},
	{Rcx, 2, "rcx"},
	{Rdx, 1, "rdx"},
	{Rsi, 4, "rsi"},
	{Rdi, 5, "rdi"},
	{OrigRax, noDwarf, "orig_rax"},
	{Rip, noDwarf, "rip"},
	{Cs, 51, "cs"},
	{Eflags, 49, "eflags"},
	{Rsp, 7, "rsp"},
	{Ss, 52, "ss"},
	{FsBase, 58, "fs_base"},
	{GsBase, 59, "gs_base"},
	{Ds, 53, "ds"},
	{Es, 50, "es"},
	{Fs, 54, "fs"},
	{Gs, 55, "gs"},
}

// ByName looks up a register by its canonical name.
func ByName(name string) (Register, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d.Reg, true
		}
	}
	return 0, false
}

// ByDwarfNum looks up a register by its DWARF register number. Some
// registers (orig_rax, rip) have no DWARF number and can never be
// returned by this lookup.
func ByDwarfNum(dwarfR int) (Register, bool) {
	for _, d := range descriptors {
		if d.DwarfR == dwarfR && d.DwarfR != noDwarf {
			return d.Reg, true
		}
	}
	return 0, false
}

// Name returns the canonical name of reg.
func Name(reg Register) string {
	return descriptors[reg].Name
}

// DwarfNum returns the DWARF register number of reg, and false if reg has
// none.
func DwarfNum(reg Register) (int, bool) {
	d := descriptors[reg]
	if d.DwarfR == noDwarf {
		return 0, false
	}
	return d.DwarfR, true
}

// wordAt reinterprets a PtraceRegs value as an array of 27 uint64 words in
// struct order, the way the original C implementation reinterprets
// user_regs_struct as a uint64 array.
func wordAt(regs *unix.PtraceRegs, reg Register) *uint64 {
	words := (*[nRegisters]uint64)(unsafeRegsArray(regs))
	return &words[reg]
}

// Get reads the value of reg out of a snapshot of the register file.
func Get(regs *unix.PtraceRegs, reg Register) uint64 {
	return *wordAt(regs, reg)
}

// Set writes value into reg within a snapshot of the register file. The
// caller is responsible for writing the snapshot back to the tracee.
func Set(regs *unix.PtraceRegs, reg Register, value uint64) {
	*wordAt(regs, reg) = value
}

// GetByName reads the register named name out of regs.
func GetByName(regs *unix.PtraceRegs, name string) (uint64, error) {
	reg, ok := ByName(name)
	if !ok {
		return 0, errs.New(errs.BadUserInput, "unknown register name: "+name)
	}
	return Get(regs, reg), nil
}

// SetByName writes value into the register named name within regs.
func SetByName(regs *unix.PtraceRegs, name string, value uint64) error {
	reg, ok := ByName(name)
	if !ok {
		return errs.New(errs.BadUserInput, "unknown register name: "+name)
	}
	Set(regs, reg, value)
	return nil
}

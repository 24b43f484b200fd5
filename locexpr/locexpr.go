// Package locexpr executes the tiny stack machine defined by DWARF
// location expressions against a live register snapshot and the current
// frame base, producing either a register designator or a memory
// address. It is the sole consumer of the decoded opcode sequences the
// debug-info oracle produces.
package locexpr

import (
	"golang.org/x/sys/unix"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
	"github.com/thass0/spray/registers"
)

// MemReader reads the 8-byte word at a real address in the tracee. It is
// only consulted for DW_OP_deref; expressions that never dereference
// never call it, so a nil reader is safe for the common register/frame
// offset cases.
type MemReader func(addr.RealAddr) (uint64, error)

// origin tracks whether the running stack top is a DbgAddr-domain value
// (pushed by DW_OP_addr, needing the load bias applied before it names
// live memory) or already a RealAddr-domain value (derived from the
// live register file or frame base).
type origin int

const (
	originReal origin = iota
	originDbg
)

// The DW_OP_* opcodes the evaluator handles; they mirror the decoding
// table in package dbginfo, including the DW_OP_reg0..31/regx range the
// evaluator uses to recognise a register-only expression.
const (
	opAddr    = 0x03
	opDeref   = 0x06
	opConst1u = 0x08
	opConst1s = 0x09
	opConst2u = 0x0a
	opConst2s = 0x0b
	opConst4u = 0x0c
	opConst4s = 0x0d
	opConst8u = 0x0e
	opConst8s = 0x0f
	opConstu  = 0x10
	opConsts  = 0x11
	opMinus   = 0x1c
	opPlus    = 0x22
	opLit0    = 0x30
	opLit31   = 0x4f
	opReg0    = 0x50
	opReg31   = 0x6f
	opBreg0   = 0x70
	opBreg31  = 0x8f
	opRegx    = 0x90
	opFbreg   = 0x91
	opBregx   = 0x92
)

// Eval evaluates expr against regs and frameBase (the subprogram's
// resolved DW_AT_frame_base value, typically rbp), applying bias to any
// address that originated in the debug section. read is consulted only
// for DW_OP_deref.
func Eval(expr dbginfo.LocExpression, regs *unix.PtraceRegs, frameBase addr.RealAddr, bias addr.Bias, read MemReader) (dbginfo.VarLocation, error) {
	if len(expr.Ops) == 1 {
		if reg, ok := registerOnlyOp(expr.Ops[0]); ok {
			return dbginfo.VarLocation{Kind: dbginfo.VarInRegister, Reg: reg}, nil
		}
	}

	var stack []int64
	org := originReal

	push := func(v int64) { stack = append(stack, v) }
	pop := func() (int64, error) {
		if len(stack) == 0 {
			return 0, errs.New(errs.UnsupportedOpcode, "location expression stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	for _, op := range expr.Ops {
		switch {
		case op.Opcode == opAddr:
			push(op.Operand1)
			org = originDbg

		case op.Opcode == opConst1u, op.Opcode == opConst1s, op.Opcode == opConst2u,
			op.Opcode == opConst2s, op.Opcode == opConst4u, op.Opcode == opConst4s,
			op.Opcode == opConst8u, op.Opcode == opConst8s, op.Opcode == opConstu,
			op.Opcode == opConsts:
			push(op.Operand1)

		case op.Opcode >= opLit0 && op.Opcode <= opLit31:
			push(op.Operand1)

		case op.Opcode == opFbreg:
			push(int64(frameBase.Value) + op.Operand1)
			org = originReal

		case op.Opcode >= opBreg0 && op.Opcode <= opBreg31:
			reg, ok := registers.ByDwarfNum(int(op.Operand1))
			if !ok {
				return dbginfo.VarLocation{}, errs.New(errs.UnsupportedOpcode, "breg names a register with no DWARF mapping")
			}
			push(int64(registers.Get(regs, reg)) + op.Operand2)
			org = originReal

		case op.Opcode == opBregx:
			reg, ok := registers.ByDwarfNum(int(op.Operand1))
			if !ok {
				return dbginfo.VarLocation{}, errs.New(errs.UnsupportedOpcode, "bregx names a register with no DWARF mapping")
			}
			push(int64(registers.Get(regs, reg)) + op.Operand2)
			org = originReal

		case op.Opcode == opPlus:
			b, err := pop()
			if err != nil {
				return dbginfo.VarLocation{}, err
			}
			a, err := pop()
			if err != nil {
				return dbginfo.VarLocation{}, err
			}
			push(a + b)

		case op.Opcode == opMinus:
			b, err := pop()
			if err != nil {
				return dbginfo.VarLocation{}, err
			}
			a, err := pop()
			if err != nil {
				return dbginfo.VarLocation{}, err
			}
			push(a - b)

		case op.Opcode == opDeref:
			a, err := pop()
			if err != nil {
				return dbginfo.VarLocation{}, err
			}
			target := addr.RealAddr{Value: uint64(a)}
			if org == originDbg {
				target = bias.ToReal(addr.DbgAddr{Value: uint64(a)})
			}
			if read == nil {
				return dbginfo.VarLocation{}, errs.New(errs.UnsupportedOpcode, "DW_OP_deref requires a live tracee")
			}
			word, err := read(target)
			if err != nil {
				return dbginfo.VarLocation{}, errs.Wrap(errs.TracerError, "dereferencing location expression", err)
			}
			push(int64(word))
			org = originReal

		default:
			return dbginfo.VarLocation{}, errs.New(errs.UnsupportedOpcode, "opcode outside the supported location-expression subset")
		}
	}

	if len(stack) != 1 {
		return dbginfo.VarLocation{}, errs.New(errs.UnsupportedOpcode, "location expression did not reduce to a single value")
	}

	top := uint64(stack[0])
	var real addr.RealAddr
	if org == originDbg {
		real = bias.ToReal(addr.DbgAddr{Value: top})
	} else {
		real = addr.RealAddr{Value: top}
	}

	return dbginfo.VarLocation{Kind: dbginfo.VarInMemory, Mem: real}, nil
}

// registerOnlyOp reports whether op is a bare register designator
// (DW_OP_regN or DW_OP_regx), which must stand alone as the entire
// expression.
func registerOnlyOp(op dbginfo.Op) (registers.Register, bool) {
	var dwarfNum int
	switch {
	case op.Opcode >= opReg0 && op.Opcode <= opReg31:
		dwarfNum = int(op.Operand1)
	case op.Opcode == opRegx:
		dwarfNum = int(op.Operand1)
	default:
		return 0, false
	}
	return registers.ByDwarfNum(dwarfNum)
}

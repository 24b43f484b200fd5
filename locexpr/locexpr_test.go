package locexpr_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
	"github.com/thass0/spray/locexpr"
	"github.com/thass0/spray/registers"
)

func op(opcode byte, operand1, operand2 int64) dbginfo.Op {
	return dbginfo.Op{Opcode: opcode, Operand1: operand1, Operand2: operand2}
}

// TestFbregYieldsMemory matches scenario S4: DW_OP_fbreg -8 against a
// frame base resolves to a memory address 8 bytes below the frame base.
func TestFbregYieldsMemory(t *testing.T) {
	var regs unix.PtraceRegs
	frameBase := addr.RealAddr{Value: 0x7ffeeffff000}
	expr := dbginfo.LocExpression{Ops: []dbginfo.Op{op(0x91, -8, 0)}}

	loc, err := locexpr.Eval(expr, &regs, frameBase, addr.Bias{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loc.Kind != dbginfo.VarInMemory {
		t.Fatalf("expected VarInMemory, got %v", loc.Kind)
	}
	want := addr.RealAddr{Value: frameBase.Value - 8}
	if loc.Mem != want {
		t.Fatalf("Mem = %v, want %v", loc.Mem, want)
	}
}

// TestRegOnlyYieldsRegister: a bare DW_OP_regN expression yields a
// register designator, not a memory address.
func TestRegOnlyYieldsRegister(t *testing.T) {
	var regs unix.PtraceRegs
	// DW_OP_reg0 == 0x50; DWARF register 0 is rax.
	expr := dbginfo.LocExpression{Ops: []dbginfo.Op{op(0x50, 0, 0)}}

	loc, err := locexpr.Eval(expr, &regs, addr.RealAddr{}, addr.Bias{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loc.Kind != dbginfo.VarInRegister {
		t.Fatalf("expected VarInRegister, got %v", loc.Kind)
	}
	if loc.Reg != registers.Rax {
		t.Fatalf("Reg = %v, want Rax", loc.Reg)
	}
}

// TestAddrAppliesBias: DW_OP_addr pushes a DbgAddr-domain value, which
// must be translated through the load bias before it names live memory.
func TestAddrAppliesBias(t *testing.T) {
	var regs unix.PtraceRegs
	bias := addr.Bias{Value: 0x1000}
	expr := dbginfo.LocExpression{Ops: []dbginfo.Op{op(0x03, 0x401050, 0)}}

	loc, err := locexpr.Eval(expr, &regs, addr.RealAddr{}, bias, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := addr.RealAddr{Value: 0x401050 + 0x1000}
	if loc.Mem != want {
		t.Fatalf("Mem = %v, want %v", loc.Mem, want)
	}
}

// TestBregAddsLiveRegister: DW_OP_breg6 (rbp) 16 computes rbp+16 from
// the live register snapshot, independent of any frame-base argument.
func TestBregAddsLiveRegister(t *testing.T) {
	var regs unix.PtraceRegs
	registers.Set(&regs, registers.Rbp, 0x7ffeeffff000)
	// DW_OP_breg6 == 0x76; DWARF register 6 is rbp.
	expr := dbginfo.LocExpression{Ops: []dbginfo.Op{op(0x76, 6, 16)}}

	loc, err := locexpr.Eval(expr, &regs, addr.RealAddr{}, addr.Bias{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := addr.RealAddr{Value: 0x7ffeeffff000 + 16}
	if loc.Mem != want {
		t.Fatalf("Mem = %v, want %v", loc.Mem, want)
	}
}

func TestUnsupportedOpcodeReportsErr(t *testing.T) {
	var regs unix.PtraceRegs
	expr := dbginfo.LocExpression{Ops: []dbginfo.Op{op(0xff, 0, 0)}}

	_, err := locexpr.Eval(expr, &regs, addr.RealAddr{}, addr.Bias{}, nil)
	if !errs.Is(err, errs.UnsupportedOpcode) {
		t.Fatalf("expected UnsupportedOpcode, got %v", err)
	}
}

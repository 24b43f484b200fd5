package registers_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/thass0/spray/registers"
)

func TestDwarfNumIsLeftInverseOfByDwarfNum(t *testing.T) {
	for reg := registers.R15; reg <= registers.Gs; reg++ {
		dwarfNum, ok := registers.DwarfNum(reg)
		if !ok {
			continue
		}
		got, ok := registers.ByDwarfNum(dwarfNum)
		if !ok {
			t.Fatalf("ByDwarfNum(%d) not found for register %s", dwarfNum, registers.Name(reg))
		}
		if got != reg {
			t.Fatalf("ByDwarfNum(%d) = %s, want %s", dwarfNum, registers.Name(got), registers.Name(reg))
		}
	}
}

func TestByNameRoundTrip(t *testing.T) {
	for reg := registers.R15; reg <= registers.Gs; reg++ {
		name := registers.Name(reg)
		got, ok := registers.ByName(name)
		if !ok || got != reg {
			t.Fatalf("ByName(%q) = %v, %v; want %v, true", name, got, ok, reg)
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, ok := registers.ByName("not_a_register"); ok {
		t.Fatal("expected ByName to fail for an unknown register")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	var regs unix.PtraceRegs
	registers.Set(&regs, registers.Rip, 0x401156)
	registers.Set(&regs, registers.Rbp, 0x7ffeeffff000)

	if got := registers.Get(&regs, registers.Rip); got != 0x401156 {
		t.Fatalf("Get(Rip) = %#x, want 0x401156", got)
	}
	if got := registers.Get(&regs, registers.Rbp); got != 0x7ffeeffff000 {
		t.Fatalf("Get(Rbp) = %#x, want 0x7ffeeffff000", got)
	}
	if regs.Rip != 0x401156 || regs.Rbp != 0x7ffeeffff000 {
		t.Fatalf("Set did not land on the expected struct fields: %+v", regs)
	}
}

func TestGetByNameAndSetByName(t *testing.T) {
	var regs unix.PtraceRegs
	if err := registers.SetByName(&regs, "rax", 42); err != nil {
		t.Fatal(err)
	}
	got, err := registers.GetByName(&regs, "rax")
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("GetByName(rax) = %d, want 42", got)
	}

	if _, err := registers.GetByName(&regs, "nope"); err == nil {
		t.Fatal("expected an error for an unknown register name")
	}
}

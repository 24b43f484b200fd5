// Package addr models the two address spaces a debugger has to keep
// straight: addresses as they appear in the running tracee's memory, and
// addresses as they're recorded in the binary's debug information. The two
// are nominally distinct types; converting between them always goes
// through a load bias.
package addr

import "fmt"

// RealAddr is an address as observed in the running process's virtual
// memory.
type RealAddr struct {
	Value uint64
}

// DbgAddr is an address as recorded in the binary's debug information.
type DbgAddr struct {
	Value uint64
}

func (a RealAddr) String() string { return fmt.Sprintf("0x%016x", a.Value) }
func (a DbgAddr) String() string  { return fmt.Sprintf("0x%016x", a.Value) }

// Bias is the runtime base at which a position-independent executable was
// mapped. It is the zero value for a non-PIE executable and is set exactly
// once, after the tracee's initial stop.
type Bias struct {
	Value uint64
}

// ToDbg converts a real (runtime) address to a debug (stored) address by
// subtracting the bias.
func (b Bias) ToDbg(real RealAddr) DbgAddr {
	return DbgAddr{Value: real.Value - b.Value}
}

// ToReal converts a debug (stored) address to a real (runtime) address by
// adding the bias.
func (b Bias) ToReal(dbg DbgAddr) RealAddr {
	return RealAddr{Value: dbg.Value + b.Value}
}

// Plus returns the real address offset by n bytes (n may be negative).
func (a RealAddr) Plus(n int64) RealAddr {
	return RealAddr{Value: uint64(int64(a.Value) + n)}
}

// Plus returns the debug address offset by n bytes (n may be negative).
func (a DbgAddr) Plus(n int64) DbgAddr {
	return DbgAddr{Value: uint64(int64(a.Value) + n)}
}

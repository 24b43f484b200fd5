// Package breakpoints implements the software breakpoint engine: a
// mapping from real addresses to breakpoints, each with a saved original
// byte and an armed/disarmed flag, arming and disarming transactionally
// via the tracer primitives.
package breakpoints

import (
	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/ptrace"
)

// int3 is the single-byte trap opcode. Executing it stops the tracee with
// SIGTRAP.
const int3 = 0xCC

const btmByteMask = 0xFF

// Breakpoint is a single software breakpoint site.
type Breakpoint struct {
	Addr    addr.RealAddr
	OrigLow byte
	Armed   bool
}

// Table maps real addresses to the breakpoints placed there. At most one
// breakpoint exists per address.
type Table struct {
	pid    int
	byAddr map[addr.RealAddr]*Breakpoint
}

// NewTable creates an empty breakpoint table for the tracee identified by
// pid.
func NewTable(pid int) *Table {
	return &Table{pid: pid, byAddr: make(map[addr.RealAddr]*Breakpoint)}
}

// Lookup reports whether a breakpoint at a is currently armed.
func (t *Table) Lookup(a addr.RealAddr) bool {
	bp, ok := t.byAddr[a]
	return ok && bp.Armed
}

// Get returns the breakpoint at a, if one exists (armed or not).
func (t *Table) Get(a addr.RealAddr) (*Breakpoint, bool) {
	bp, ok := t.byAddr[a]
	return bp, ok
}

// Enable arms the breakpoint at a, creating the site first if it's
// absent. It is a no-op if the site already exists and is armed.
//
// Arming is transactional: if either memory operation fails, the site's
// armed flag is left unchanged.
func (t *Table) Enable(a addr.RealAddr) (*Breakpoint, error) {
	bp, ok := t.byAddr[a]
	if !ok {
		bp = &Breakpoint{Addr: a}
		t.byAddr[a] = bp
	}
	if bp.Armed {
		return bp, nil
	}

	word, err := ptrace.ReadWord(t.pid, a)
	if err != nil {
		return nil, err
	}

	origLow := byte(word & btmByteMask)
	trapped := (word &^ uint64(btmByteMask)) | int3

	if err := ptrace.WriteWord(t.pid, a, trapped); err != nil {
		return nil, err
	}

	bp.OrigLow = origLow
	bp.Armed = true
	return bp, nil
}

// Disable disarms the breakpoint at a, restoring the original byte. It's
// a no-op if the site is absent or already disarmed.
func (t *Table) Disable(a addr.RealAddr) error {
	bp, ok := t.byAddr[a]
	if !ok || !bp.Armed {
		return nil
	}

	word, err := ptrace.ReadWord(t.pid, a)
	if err != nil {
		return err
	}

	restored := (word &^ uint64(btmByteMask)) | uint64(bp.OrigLow)
	if err := ptrace.WriteWord(t.pid, a, restored); err != nil {
		return err
	}

	bp.Armed = false
	return nil
}

// Delete disarms (if necessary) and removes the breakpoint at a.
func (t *Table) Delete(a addr.RealAddr) error {
	if _, ok := t.byAddr[a]; !ok {
		return nil
	}
	if err := t.Disable(a); err != nil {
		return err
	}
	delete(t.byAddr, a)
	return nil
}

// Addrs returns every address that currently has a breakpoint, armed or
// not.
func (t *Table) Addrs() []addr.RealAddr {
	out := make([]addr.RealAddr, 0, len(t.byAddr))
	for a := range t.byAddr {
		out = append(out, a)
	}
	return out
}

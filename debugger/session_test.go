package debugger_test

import (
	"testing"

	"github.com/thass0/spray/config"
	"github.com/thass0/spray/debugger"
	"github.com/thass0/spray/testutil"
)

// TestBreakpointRoundTrip exercises S5: after a breakpoint is set on
// main in a real running debuggee, continuing to it reports a
// StopBreakpoint at exactly that address.
func TestBreakpointRoundTrip(t *testing.T) {
	bin := testutil.CompileFixture(t, "../testdata/simple.c")

	sess, err := debugger.Setup(config.Config{Args: []string{bin}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer sess.Shutdown()

	target, err := sess.BreakAt("main")
	if err != nil {
		t.Fatalf("BreakAt(main): %v", err)
	}

	res, err := sess.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if res.Kind != debugger.StopBreakpoint {
		t.Fatalf("stop kind = %v, want StopBreakpoint", res.Kind)
	}
	if res.Addr != target {
		t.Fatalf("stopped at %v, want %v", res.Addr, target)
	}
}

// TestPrintVarReadsLocalFrameRelativeVariable exercises print_var against
// a real frame: stopped at main's past-prologue breakpoint (before line
// 10's initialiser runs), PrintVar resolves a and returns a non-empty
// rendering of it.
func TestPrintVarReadsLocalFrameRelativeVariable(t *testing.T) {
	bin := testutil.CompileFixture(t, "../testdata/simple.c")

	sess, err := debugger.Setup(config.Config{Args: []string{bin}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer sess.Shutdown()

	if _, err := sess.BreakAt("main"); err != nil {
		t.Fatalf("BreakAt(main): %v", err)
	}
	res, err := sess.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if res.Kind != debugger.StopBreakpoint {
		t.Fatalf("stop kind = %v, want StopBreakpoint", res.Kind)
	}

	out, err := sess.PrintVar("a")
	if err != nil {
		t.Fatalf("PrintVar(a): %v", err)
	}
	if out == "" {
		t.Fatal("expected a non-empty rendering for a")
	}
}

// TestValidatorsRejectUnparsableBreakSpec exercises BadUserInput
// propagation: a spec matching neither file:line, function name, nor a
// hex address must fail without touching the breakpoint table.
func TestValidatorsRejectUnparsableBreakSpec(t *testing.T) {
	bin := testutil.CompileFixture(t, "../testdata/simple.c")

	sess, err := debugger.Setup(config.Config{Args: []string{bin}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer sess.Shutdown()

	if _, err := sess.BreakAt("check>function!>name"); err == nil {
		t.Fatal("expected an error for an unparsable break spec")
	}
}

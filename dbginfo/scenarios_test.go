package dbginfo_test

import (
	"path/filepath"
	"testing"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
	"github.com/thass0/spray/testutil"
)

// openFixture compiles and opens a testdata/*.c fixture, skipping the
// test if no C compiler is installed.
func openFixture(t *testing.T, srcPath string) *dbginfo.DebugInfo {
	t.Helper()
	bin := testutil.CompileFixture(t, srcPath)
	di, err := dbginfo.Open(bin)
	if err != nil {
		t.Fatalf("dbginfo.Open(%s): %v", bin, err)
	}
	return di
}

// TestIteratingLinesInMain exercises iterating_lines_works: main's
// statement rows, in address order, as gcc -O0 emits them: the
// declaration row (9), one row for each of lines 10-12, two rows for the
// return statement on line 13, and the closing brace (14).
func TestIteratingLinesInMain(t *testing.T) {
	di := openFixture(t, "../testdata/simple.c")

	var got []int
	err := di.ForEachLineInSubprog("main", "../testdata/simple.c", func(le dbginfo.LineEntry) bool {
		got = append(got, le.Line)
		return true
	})
	if err != nil {
		t.Fatalf("ForEachLineInSubprog: %v", err)
	}

	want := []int{9, 10, 11, 12, 13, 13, 14}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lines = %v, want %v", got, want)
		}
	}
}

// TestFunctionStartPastPrologue exercises get_effective_function_start_works:
// main's effective start is the first statement past its declaration
// line (10); weird_sum's multi-line declaration still yields its first
// body statement (3).
func TestFunctionStartPastPrologue(t *testing.T) {
	di := openFixture(t, "../testdata/simple.c")

	main, ok := di.SymByName("main")
	if !ok {
		t.Fatal("no symbol named main")
	}
	start, err := di.FunctionStartAddr(main)
	if err != nil {
		t.Fatalf("FunctionStartAddr(main): %v", err)
	}
	pos, ok := di.AddrPosition(start)
	if !ok {
		t.Fatal("no position for main's effective start")
	}
	if pos.Line != 10 {
		t.Fatalf("main effective start line = %d, want 10", pos.Line)
	}

	ws, ok := di.SymByName("weird_sum")
	if !ok {
		t.Fatal("no symbol named weird_sum")
	}
	wsStart, err := di.FunctionStartAddr(ws)
	if err != nil {
		t.Fatalf("FunctionStartAddr(weird_sum): %v", err)
	}
	wsPos, ok := di.AddrPosition(wsStart)
	if !ok {
		t.Fatal("no position for weird_sum's effective start")
	}
	if wsPos.Line != 3 {
		t.Fatalf("weird_sum effective start line = %d, want 3", wsPos.Line)
	}
}

// TestLineEntryAtFindsRequestedLine exercises sd_line_entry_at_works: a
// query for an exact existing statement line returns that line.
func TestLineEntryAtFindsRequestedLine(t *testing.T) {
	di := openFixture(t, "../testdata/simple.c")

	le, ok := di.LineEntryAt("../testdata/simple.c", 11)
	if !ok {
		t.Fatal("LineEntryAt(11) found nothing")
	}
	if le.Line != 11 {
		t.Fatalf("LineEntryAt(11).Line = %d, want 11", le.Line)
	}
}

// TestFilepathFromPCRoundTrips exercises get_filepath_from_pc_works: the
// filepath attributed to an address inside main resolves back to the
// fixture's own canonical path, and an address with no symbol reports
// nothing.
func TestFilepathFromPCRoundTrips(t *testing.T) {
	di := openFixture(t, "../testdata/simple.c")

	main, ok := di.SymByName("main")
	if !ok {
		t.Fatal("no symbol named main")
	}
	fp, ok := di.SymFilepath(main)
	if !ok || fp == "" {
		t.Fatal("expected a filepath for main")
	}
	wantPath, err := filepath.Abs("../testdata/simple.c")
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
	if resolved, err := filepath.EvalSymlinks(wantPath); err == nil {
		wantPath = resolved
	}
	gotPath, err := filepath.Abs(fp)
	if err != nil {
		t.Fatalf("filepath.Abs(%s): %v", fp, err)
	}
	if resolved, err := filepath.EvalSymlinks(gotPath); err == nil {
		gotPath = resolved
	}
	if gotPath != wantPath {
		t.Fatalf("filepath for main = %s, want %s", fp, wantPath)
	}

	_, ok = di.FilepathFromPC(addr.DbgAddr{Value: 0xdeadbeef})
	if ok {
		t.Fatal("expected no filepath for a bogus address")
	}
}

// TestVariableShadowingAcrossScopes exercises finding_locations_by_scope_works:
// inside main every variable resolves to a frame-relative location, while
// inside blah the unshadowed global `a` resolves to an absolute address
// and the locals `b`/`c` resolve to frame-relative locations.
func TestVariableShadowingAcrossScopes(t *testing.T) {
	di := openFixture(t, "../testdata/recurring_variables.c")

	mainSym, ok := di.SymByName("main")
	if !ok {
		t.Fatal("no symbol named main")
	}
	mainPC, err := di.FunctionStartAddr(mainSym)
	if err != nil {
		t.Fatalf("FunctionStartAddr(main): %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		ll, err := di.LoclistForVar(mainPC, name)
		if err != nil {
			t.Fatalf("LoclistForVar(main, %s): %v", name, err)
		}
		if len(ll.Exprs) != 1 || len(ll.Exprs[0].Ops) != 1 {
			t.Fatalf("%s: expected a single one-op exprloc in main, got %+v", name, ll)
		}
		if ll.Exprs[0].Ops[0].Opcode != 0x91 { // DW_OP_fbreg
			t.Fatalf("%s in main: opcode = %#x, want DW_OP_fbreg", name, ll.Exprs[0].Ops[0].Opcode)
		}
	}

	blahSym, ok := di.SymByName("blah")
	if !ok {
		t.Fatal("no symbol named blah")
	}
	blahPC, err := di.FunctionStartAddr(blahSym)
	if err != nil {
		t.Fatalf("FunctionStartAddr(blah): %v", err)
	}

	aLL, err := di.LoclistForVar(blahPC, "a")
	if err != nil {
		t.Fatalf("LoclistForVar(blah, a): %v", err)
	}
	if aLL.Exprs[0].Ops[0].Opcode != 0x03 { // DW_OP_addr: a is the unshadowed global
		t.Fatalf("a in blah: opcode = %#x, want DW_OP_addr", aLL.Exprs[0].Ops[0].Opcode)
	}

	for _, name := range []string{"b", "c"} {
		ll, err := di.LoclistForVar(blahPC, name)
		if err != nil {
			t.Fatalf("LoclistForVar(blah, %s): %v", name, err)
		}
		if ll.Exprs[0].Ops[0].Opcode != 0x91 {
			t.Fatalf("%s in blah: opcode = %#x, want DW_OP_fbreg", name, ll.Exprs[0].Ops[0].Opcode)
		}
	}
}

// TestLoclistForVarMissesUnknownName exercises the not-in-scope error
// path: a name that appears nowhere in the scope chain is an OracleMiss,
// not a panic or a zero value mistaken for success.
func TestLoclistForVarMissesUnknownName(t *testing.T) {
	di := openFixture(t, "../testdata/simple.c")

	main, ok := di.SymByName("main")
	if !ok {
		t.Fatal("no symbol named main")
	}
	start, err := di.FunctionStartAddr(main)
	if err != nil {
		t.Fatalf("FunctionStartAddr(main): %v", err)
	}

	_, err = di.LoclistForVar(start, "this_variable_does_not_exist")
	if !errs.Is(err, errs.OracleMiss) {
		t.Fatalf("expected OracleMiss, got %v", err)
	}
}

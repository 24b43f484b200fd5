package dbginfo

import (
	"debug/dwarf"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/errs"
)

// compileUnits returns the root Entry of every compilation unit in the
// DWARF data.
func (d *DebugInfo) compileUnits() ([]*dwarf.Entry, error) {
	var cus []*dwarf.Entry
	r := d.dwarf.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, errs.Wrap(errs.OracleParse, "reading compile units", err)
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			cus = append(cus, e)
		}
		if e.Children {
			r.SkipChildren()
		}
	}
	return cus, nil
}

// allLineEntries reads every row of cu's line-number program.
func (d *DebugInfo) allLineEntries(cu *dwarf.Entry) ([]LineEntry, error) {
	lr, err := d.dwarf.LineReader(cu)
	if err != nil {
		return nil, errs.Wrap(errs.OracleParse, "reading line program", err)
	}
	if lr == nil {
		return nil, nil
	}

	var out []LineEntry
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			break // io.EOF signals the end of the program
		}
		fp := ""
		if le.File != nil {
			fp = le.File.Name
		}
		out = append(out, LineEntry{
			Addr:           addr.DbgAddr{Value: le.Address},
			Line:           le.Line,
			Column:         le.Column,
			IsNewStatement: le.IsStmt,
			IsPrologueEnd:  le.PrologueEnd,
			Filepath:       fp,
			EndSequence:    le.EndSequence,
		})
	}
	sortedLineEntries(out)
	return out, nil
}

// lineEntriesCoveringCU returns the line entries of the first compile
// unit, in DWARF order, whose PC range contains addr, and false if none
// does.
func (d *DebugInfo) lineEntriesCoveringCU(a addr.DbgAddr) ([]LineEntry, bool, error) {
	cus, err := d.compileUnits()
	if err != nil {
		return nil, false, err
	}
	for _, cu := range cus {
		contains, err := d.entryContainsPC(cu, a.Value)
		if err != nil {
			continue
		}
		if !contains {
			continue
		}
		entries, err := d.allLineEntries(cu)
		if err != nil {
			return nil, false, err
		}
		return entries, true, nil
	}
	return nil, false, nil
}

// LineEntryFromPC returns the line entry whose address range contains
// addr: the entry with the greatest address not exceeding addr, within
// the same sequence (i.e. before the next entry or an end-of-sequence
// marker). The returned entry carries no exactness flag; AddrPosition
// reports whether addr exactly equals the entry's address as IsExact.
func (d *DebugInfo) LineEntryFromPC(a addr.DbgAddr) (LineEntry, bool) {
	cus, err := d.compileUnits()
	if err != nil {
		return LineEntry{}, false
	}
	for _, cu := range cus {
		entries, err := d.allLineEntries(cu)
		if err != nil || len(entries) == 0 {
			continue
		}
		// entries is sorted by address. Walk it forward, tracking the
		// closest real statement at or below addr; crossing an
		// EndSequence row drops that candidate, since addr would then
		// sit in the dead gap after one sequence ends and before the
		// next one's first real entry.
		var best *LineEntry
		for i := range entries {
			e := &entries[i]
			if e.Addr.Value > a.Value {
				break
			}
			if e.EndSequence {
				best = nil
				continue
			}
			best = e
		}
		if best != nil {
			return *best, true
		}
	}
	return LineEntry{}, false
}

// LineEntryAt returns the first entry in any compilation unit whose file
// matches filepath (after canonicalisation) and whose line is >= line,
// preferring the smallest such line.
func (d *DebugInfo) LineEntryAt(filepath string, line int) (LineEntry, bool) {
	want := canonicalPath(filepath)

	cus, err := d.compileUnits()
	if err != nil {
		return LineEntry{}, false
	}

	var best *LineEntry
	for _, cu := range cus {
		entries, err := d.allLineEntries(cu)
		if err != nil {
			continue
		}
		for i := range entries {
			e := &entries[i]
			if e.EndSequence || e.Filepath == "" {
				continue
			}
			if canonicalPath(e.Filepath) != want {
				continue
			}
			if e.Line < line {
				continue
			}
			if best == nil || e.Line < best.Line || (e.Line == best.Line && e.Addr.Value < best.Addr.Value) {
				best = e
			}
		}
	}
	if best == nil {
		return LineEntry{}, false
	}
	return *best, true
}

// ForEachLineInSubprog iterates every is_new_statement line entry inside
// the named subprogram defined in the canonicalised file, in ascending
// address order, aborting early if callback reports failure.
func (d *DebugInfo) ForEachLineInSubprog(name, filepath string, callback func(LineEntry) bool) error {
	sym, ok := d.SymByName(name)
	if !ok {
		return errs.New(errs.OracleMiss, "no such subprogram: "+name)
	}

	want := canonicalPath(filepath)
	start, end := d.SymStartAddr(sym), d.SymEndAddr(sym)

	entries, found, err := d.lineEntriesCoveringCU(start)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.OracleMiss, "no line program covers "+name)
	}

	for _, e := range entries {
		if e.EndSequence || !e.IsNewStatement {
			continue
		}
		if e.Addr.Value < start.Value || e.Addr.Value >= end.Value {
			continue
		}
		if e.Filepath != "" && canonicalPath(e.Filepath) != want {
			continue
		}
		if !callback(e) {
			break
		}
	}
	return nil
}

// FilepathFromPC returns the source file the line program attributes to
// addr.
func (d *DebugInfo) FilepathFromPC(a addr.DbgAddr) (string, bool) {
	le, ok := d.LineEntryFromPC(a)
	if !ok || le.Filepath == "" {
		return "", false
	}
	return le.Filepath, true
}

// AddrName returns the name of the symbol containing addr.
func (d *DebugInfo) AddrName(a addr.DbgAddr) (string, bool) {
	sym, ok := d.SymByAddr(a)
	if !ok {
		return "", false
	}
	return d.SymName(sym), true
}

// AddrPosition returns the source position of addr via the line program.
func (d *DebugInfo) AddrPosition(a addr.DbgAddr) (Position, bool) {
	le, ok := d.LineEntryFromPC(a)
	if !ok {
		return Position{}, false
	}
	return Position{Line: le.Line, Column: le.Column, IsExact: le.Addr.Value == a.Value}, true
}

// AddrFilepath is an alias of FilepathFromPC kept for symmetry with the
// other addr_* accessors.
func (d *DebugInfo) AddrFilepath(a addr.DbgAddr) (string, bool) {
	return d.FilepathFromPC(a)
}

// AddrAt is a convenience wrapper around LineEntryAt returning only the
// address.
func (d *DebugInfo) AddrAt(filepath string, line int) (addr.DbgAddr, error) {
	le, ok := d.LineEntryAt(filepath, line)
	if !ok {
		return addr.DbgAddr{}, errs.New(errs.OracleMiss, "no line entry at that file:line")
	}
	return le.Addr, nil
}

// FunctionStartAddr returns the effective start address of sym's
// function, past the prologue: the first line entry flagged
// prologue_end, or if none carries that flag, the first statement after
// the declaration line.
func (d *DebugInfo) FunctionStartAddr(sym DebugSymbol) (addr.DbgAddr, error) {
	start, end := d.SymStartAddr(sym), d.SymEndAddr(sym)

	entries, found, err := d.lineEntriesCoveringCU(start)
	if err != nil {
		return addr.DbgAddr{}, err
	}
	if !found {
		return addr.DbgAddr{}, errs.New(errs.OracleMiss, "no line program covers "+d.SymName(sym))
	}

	var inRange []LineEntry
	for _, e := range entries {
		if !e.EndSequence && e.Addr.Value >= start.Value && e.Addr.Value < end.Value {
			inRange = append(inRange, e)
		}
	}
	if len(inRange) == 0 {
		return addr.DbgAddr{}, errs.New(errs.OracleMiss, "no line entries in "+d.SymName(sym))
	}

	for _, e := range inRange {
		if e.IsPrologueEnd {
			return e.Addr, nil
		}
	}

	declLine := inRange[0].Line
	for _, e := range inRange {
		if e.Line != declLine && e.IsNewStatement {
			return e.Addr, nil
		}
	}

	// Every entry shares the declaration line (a one-line function):
	// fall back to the function's low PC.
	return inRange[0].Addr, nil
}

// Package dbginfo is the debug-info oracle: a read-only query layer over
// an ELF64/DWARF view of a debuggee, mapping between source-level names
// (functions, files, lines, variables) and addresses as recorded in the
// binary. Every query is pure with respect to the tracee; results are
// cached internally where the original C implementation cached them.
package dbginfo

import (
	"debug/dwarf"
	"debug/elf"
	"os"
	"path/filepath"
	"sort"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/errs"
)

// SymKind classifies what a DebugSymbol refers to.
type SymKind int

const (
	SymFunction SymKind = iota
	SymObject
	SymOther
)

// Position is a 1-based source position.
type Position struct {
	Line    int
	Column  int
	IsExact bool
}

// LineEntry is one row of a compilation unit's line-number program.
// EndSequence rows mark the first address past the end of a sequence
// of instructions rather than a real statement; they carry no usable
// line/column and exist only to bound the entry before them.
type LineEntry struct {
	Addr           addr.DbgAddr
	Line           int
	Column         int
	IsNewStatement bool
	IsPrologueEnd  bool
	Filepath       string
	EndSequence    bool
}

// symbolFacts is the immutable data backing a DebugSymbol, taken directly
// from the ELF symbol table.
type symbolFacts struct {
	name         string
	hasAddr      bool
	specificAddr addr.DbgAddr
	start        addr.DbgAddr
	end          addr.DbgAddr
	kind         SymKind
}

// symbolCacheEntry is the lazily-populated, mutable half of a symbol: the
// filepath and position are expensive to compute (they require walking
// the line program) and are memoised on first query.
type symbolCacheEntry struct {
	facts symbolFacts

	filepathKnown bool
	filepath      string

	positionKnown bool
	position      Position
	positionOK    bool
}

// DebugSymbol is a handle to a symbol. It is an index into the oracle's
// symbol cache, not a borrowed pointer: the facts it refers to never
// move, and the lazily-populated fields (filepath, position) are
// memoised in the slot the index names, not on the handle itself. This
// is the Go rendering of the "interior mutable cache keyed by symbol
// identity" strategy: a DebugSymbol looks const from the outside but the
// oracle can still fill in its cache on first use.
type DebugSymbol struct {
	idx int
}

// DebugInfo is the oracle: an ELF64 little-endian x86-64 view of a
// debuggee plus its DWARF debug sections.
type DebugInfo struct {
	elfFile *elf.File
	dwarf   *dwarf.Data
	path    string
	dynExec bool
	cache   []symbolCacheEntry
}

// Open parses path as the oracle's view of a debuggee. It rejects
// anything other than an ELF64 little-endian x86-64 object with distinct
// error kinds, matching the setup-time contract: IoError, Invalid,
// Unsupported.
func Open(path string) (*DebugInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opening debuggee file", err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, "parsing ELF", err)
	}

	if ef.Class != elf.ELFCLASS64 {
		return nil, errs.New(errs.Unsupported, "unsupported ELF class: only 64-bit objects are supported")
	}
	if ef.Data != elf.ELFDATA2LSB {
		return nil, errs.New(errs.Unsupported, "unsupported ELF data encoding: only little-endian objects are supported")
	}
	if ef.Machine != elf.EM_X86_64 {
		return nil, errs.New(errs.Unsupported, "unsupported ELF machine: only x86_64 objects are supported")
	}

	dwarfData, err := ef.DWARF()
	if err != nil {
		return nil, errs.Wrap(errs.OracleParse, "parsing DWARF", err)
	}

	di := &DebugInfo{
		elfFile: ef,
		dwarf:   dwarfData,
		path:    path,
		dynExec: ef.Type == elf.ET_DYN,
	}

	if err := di.loadSymbols(); err != nil {
		return nil, err
	}

	return di, nil
}

// IsDynExec reports whether the underlying ELF object is position
// independent (ET_DYN), meaning a non-zero load bias must be applied.
func (d *DebugInfo) IsDynExec() bool {
	return d.dynExec
}

// loadSymbols populates the symbol cache from the ELF symbol table (and
// falls back to the dynamic symbol table for stripped/dynamic objects).
func (d *DebugInfo) loadSymbols() error {
	syms, err := d.elfFile.Symbols()
	if err != nil {
		dynSyms, dynErr := d.elfFile.DynamicSymbols()
		if dynErr != nil {
			// An executable legitimately may carry neither table; that's
			// not a parse error, just an oracle with nothing to look up
			// by name.
			return nil
		}
		syms = dynSyms
	}

	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		kind := SymOther
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			kind = SymFunction
		case elf.STT_OBJECT:
			kind = SymObject
		}
		d.cache = append(d.cache, symbolCacheEntry{
			facts: symbolFacts{
				name:  s.Name,
				start: addr.DbgAddr{Value: s.Value},
				end:   addr.DbgAddr{Value: s.Value + s.Size},
				kind:  kind,
			},
		})
	}

	return nil
}

// SymByName returns the symbol named name. Among equal names, the one
// with the smallest start address wins.
func (d *DebugInfo) SymByName(name string) (DebugSymbol, bool) {
	best := -1
	for i, e := range d.cache {
		if e.facts.name != name {
			continue
		}
		if best == -1 || e.facts.start.Value < d.cache[best].facts.start.Value {
			best = i
		}
	}
	if best == -1 {
		return DebugSymbol{}, false
	}
	return DebugSymbol{idx: best}, true
}

// SymByAddr returns the symbol whose [start,end) range contains addr. If
// several match, the innermost (smallest range) wins; ties are broken by
// smallest start.
func (d *DebugInfo) SymByAddr(a addr.DbgAddr) (DebugSymbol, bool) {
	best := -1
	for i, e := range d.cache {
		if e.facts.end.Value <= e.facts.start.Value {
			continue
		}
		if a.Value < e.facts.start.Value || a.Value >= e.facts.end.Value {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bf, cf := d.cache[best].facts, e.facts
		bSize := bf.end.Value - bf.start.Value
		cSize := cf.end.Value - cf.start.Value
		if cSize < bSize || (cSize == bSize && cf.start.Value < bf.start.Value) {
			best = i
		}
	}
	if best == -1 {
		return DebugSymbol{}, false
	}
	return DebugSymbol{idx: best}, true
}

func (d *DebugInfo) entry(sym DebugSymbol) *symbolCacheEntry {
	return &d.cache[sym.idx]
}

// SymStartAddr returns the symbol's start address.
func (d *DebugInfo) SymStartAddr(sym DebugSymbol) addr.DbgAddr {
	return d.entry(sym).facts.start
}

// SymEndAddr returns the symbol's end address (exclusive).
func (d *DebugInfo) SymEndAddr(sym DebugSymbol) addr.DbgAddr {
	return d.entry(sym).facts.end
}

// SymAddr returns the symbol's specific address if it was built from
// one, else its start address.
func (d *DebugInfo) SymAddr(sym DebugSymbol) addr.DbgAddr {
	e := d.entry(sym)
	if e.facts.hasAddr {
		return e.facts.specificAddr
	}
	return e.facts.start
}

// SymName returns the symbol's name.
func (d *DebugInfo) SymName(sym DebugSymbol) string {
	return d.entry(sym).facts.name
}

// SymFilepath returns (and memoises) the source file the symbol was
// defined in.
func (d *DebugInfo) SymFilepath(sym DebugSymbol) (string, bool) {
	e := d.entry(sym)
	if e.filepathKnown {
		return e.filepath, e.filepath != ""
	}
	e.filepathKnown = true
	fp, ok := d.FilepathFromPC(e.facts.start)
	if ok {
		e.filepath = fp
	}
	return e.filepath, ok
}

// SymPosition returns (and memoises) the symbol's declaration position.
func (d *DebugInfo) SymPosition(sym DebugSymbol) (Position, bool) {
	e := d.entry(sym)
	if e.positionKnown {
		return e.position, e.positionOK
	}
	e.positionKnown = true
	le, ok := d.LineEntryFromPC(e.facts.start)
	if ok {
		e.position = Position{Line: le.Line, Column: le.Column, IsExact: le.Addr.Value == e.facts.start.Value}
		e.positionOK = true
	}
	return e.position, e.positionOK
}

// SymKindOf reports whether sym names a function, a data object, or
// something else.
func (d *DebugInfo) SymKindOf(sym DebugSymbol) SymKind {
	return d.entry(sym).facts.kind
}

// UsesSpecificAddress reports whether sym was built from a specific
// address rather than discovered by name or range.
func (d *DebugInfo) UsesSpecificAddress(sym DebugSymbol) bool {
	return d.entry(sym).facts.hasAddr
}

// canonicalPath realpath-canonicalises p the way the oracle must before
// matching it against DWARF file names, per the line_entry_at contract.
func canonicalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func sortedLineEntries(entries []LineEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr.Value < entries[j].Addr.Value })
}

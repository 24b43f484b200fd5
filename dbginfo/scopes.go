package dbginfo

import (
	"debug/dwarf"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/errs"
)

// entryContainsPC reports whether e's PC range (lowpc/highpc, or a DWARF
// range list when it has no contiguous range) contains pc.
func (d *DebugInfo) entryContainsPC(e *dwarf.Entry, pc uint64) (bool, error) {
	low, ok := e.Val(dwarf.AttrLowpc).(uint64)
	if ok {
		high := low
		if hf := e.AttrField(dwarf.AttrHighpc); hf != nil {
			switch v := hf.Val.(type) {
			case uint64:
				if hf.Class == dwarf.ClassAddress {
					high = v
				} else {
					high = low + v
				}
			case int64:
				high = low + uint64(v)
			}
		}
		return pc >= low && pc < high, nil
	}

	ranges, err := d.dwarf.Ranges(e)
	if err != nil || ranges == nil {
		return false, nil
	}
	for _, rg := range ranges {
		if pc >= rg[0] && pc < rg[1] {
			return true, nil
		}
	}
	return false, nil
}

// scopeLevel is one level of the scope chain from a compilation unit
// down to the innermost lexical block containing a PC: the DIE itself
// plus the names of variables and formal parameters declared directly
// in it (not in any nested block).
type scopeLevel struct {
	entry *dwarf.Entry
	vars  map[string]*dwarf.Entry
}

// scopeChainForPC walks the DWARF DIE tree from the compilation unit
// containing pc down to the innermost lexical block (or subprogram)
// containing pc, collecting each level's directly-declared variables and
// formal parameters. The result is ordered outermost (compile unit)
// first, innermost last, matching the shadowing rule that inner scopes
// take precedence in a search from the end of the slice backwards.
func (d *DebugInfo) scopeChainForPC(pc uint64) ([]scopeLevel, error) {
	r := d.dwarf.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, errs.Wrap(errs.OracleParse, "walking scope tree", err)
		}
		if e == nil {
			return nil, errs.New(errs.OracleMiss, "no compile unit contains that address")
		}
		if e.Tag != dwarf.TagCompileUnit {
			if e.Children {
				r.SkipChildren()
			}
			continue
		}
		contains, err := d.entryContainsPC(e, pc)
		if err != nil {
			return nil, err
		}
		if !contains {
			r.SkipChildren()
			continue
		}

		chain := []scopeLevel{{entry: e}}
		vars, err := d.scanScopeChildren(r, pc, &chain)
		if err != nil {
			return nil, err
		}
		chain[0].vars = vars
		return chain, nil
	}
}

// scanScopeChildren reads the children of the entry most recently
// returned by r.Next (which must have Children true), recording the
// names of variables and formal parameters declared directly in it. Any
// child subprogram or lexical block whose range contains pc is appended
// to chain (in outer-to-inner order, since it is appended before its own
// descendants are explored) and recursed into.
func (d *DebugInfo) scanScopeChildren(r *dwarf.Reader, pc uint64, chain *[]scopeLevel) (map[string]*dwarf.Entry, error) {
	vars := map[string]*dwarf.Entry{}
	for {
		e, err := r.Next()
		if err != nil {
			return nil, errs.Wrap(errs.OracleParse, "walking scope tree", err)
		}
		if e == nil || e.Tag == 0 {
			return vars, nil
		}

		switch e.Tag {
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			if name, ok := e.Val(dwarf.AttrName).(string); ok {
				vars[name] = e
			}
			if e.Children {
				r.SkipChildren()
			}

		case dwarf.TagSubprogram, dwarf.TagLexDwarfBlock:
			contains, err := d.entryContainsPC(e, pc)
			if err != nil {
				return nil, err
			}
			if contains && e.Children {
				idx := len(*chain)
				*chain = append(*chain, scopeLevel{entry: e})
				nested, err := d.scanScopeChildren(r, pc, chain)
				if err != nil {
					return nil, err
				}
				(*chain)[idx].vars = nested
			} else if e.Children {
				r.SkipChildren()
			}

		default:
			if e.Children {
				r.SkipChildren()
			}
		}
	}
}

// LoclistForVar walks the scope tree from the compilation unit
// containing pc down to the innermost lexical block containing pc,
// searching at each level (innermost first) for a variable or
// formal-parameter entry named name, and returns its location list
// restricted to ranges that intersect pc. Inner scopes shadow outer.
func (d *DebugInfo) LoclistForVar(pc addr.DbgAddr, name string) (Loclist, error) {
	chain, err := d.scopeChainForPC(pc.Value)
	if err != nil {
		return Loclist{}, err
	}

	for i := len(chain) - 1; i >= 0; i-- {
		e, ok := chain[i].vars[name]
		if !ok {
			continue
		}
		return d.loclistFromEntry(e)
	}

	return Loclist{}, errs.New(errs.OracleMiss, "no variable named "+name+" is in scope at that address")
}

// loclistFromEntry resolves a variable/parameter DIE's DW_AT_location
// attribute into a Loclist. Only the single-expression (exprloc) form
// produced by -O0 compilation is supported; a DWARF location-list form
// (a variable whose location differs across PC sub-ranges of its scope)
// reports UnsupportedOpcode, since the standard library offers no
// .debug_loc/.debug_loclists reader to decode it.
func (d *DebugInfo) loclistFromEntry(e *dwarf.Entry) (Loclist, error) {
	field := e.AttrField(dwarf.AttrLocation)
	if field == nil {
		return Loclist{}, errs.New(errs.OracleMiss, "variable has no location attribute")
	}

	switch v := field.Val.(type) {
	case []byte:
		expr, err := decodeLocExpr(v)
		if err != nil {
			return Loclist{}, err
		}
		return Loclist{
			Exprs:  []LocExpression{expr},
			Ranges: []LocRange{{Meaningful: false}},
		}, nil
	default:
		return Loclist{}, errs.New(errs.UnsupportedOpcode, "variable location is a location list, which is unsupported")
	}
}

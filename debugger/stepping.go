package debugger

import (
	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
	"github.com/thass0/spray/ptrace"
	"github.com/thass0/spray/registers"
)

// currentLineEntry returns the oracle's line entry for the tracee's
// current PC, converted through the load bias.
func (s *Session) currentLineEntry() (dbginfo.LineEntry, addr.DbgAddr, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return dbginfo.LineEntry{}, addr.DbgAddr{}, err
	}
	pc := s.bias.ToDbg(addr.RealAddr{Value: registers.Get(regs, registers.Rip)})
	le, ok := s.info.LineEntryFromPC(pc)
	if !ok {
		return dbginfo.LineEntry{}, pc, errs.New(errs.OracleMiss, "no line entry for the current PC")
	}
	return le, pc, nil
}

// StepIn single-steps until the new PC's line entry differs from the
// starting one and is flagged as a new statement.
func (s *Session) StepIn() (StopResult, error) {
	startLE, _, err := s.currentLineEntry()
	if err != nil {
		return StopResult{}, err
	}

	for {
		res, err := s.SingleStep()
		if err != nil || res.Kind == StopExited {
			return res, err
		}

		le, _, err := s.currentLineEntry()
		if err != nil {
			// No line info at this PC (e.g. inside a PLT stub): keep
			// stepping rather than surfacing a spurious miss.
			continue
		}
		if le.IsNewStatement && (le.Line != startLE.Line || le.Filepath != startLE.Filepath) {
			return res, nil
		}
	}
}

// currentSubprogram returns the DebugSymbol of the function containing
// the tracee's current PC.
func (s *Session) currentSubprogram() (dbginfo.DebugSymbol, addr.RealAddr, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return dbginfo.DebugSymbol{}, addr.RealAddr{}, err
	}
	realPC := addr.RealAddr{Value: registers.Get(regs, registers.Rip)}
	pc := s.bias.ToDbg(realPC)
	sym, ok := s.info.SymByAddr(pc)
	if !ok {
		return dbginfo.DebugSymbol{}, realPC, errs.New(errs.OracleMiss, "no subprogram contains the current PC")
	}
	return sym, realPC, nil
}

// returnAddr reads the current frame's return address from rbp+8.
func (s *Session) returnAddr() (addr.RealAddr, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return addr.RealAddr{}, err
	}
	fp := addr.RealAddr{Value: registers.Get(regs, registers.Rbp)}
	word, err := ptrace.ReadWord(s.pid, fp.Plus(8))
	if err != nil {
		return addr.RealAddr{}, err
	}
	return addr.RealAddr{Value: word}, nil
}

// disposableSites tracks breakpoints a stepping verb armed temporarily so
// it can restore exactly the state it found, rather than blow away a
// site the user had independently placed there. added sites didn't
// exist before the sweep and are deleted outright afterward; reArmed
// sites existed but were disarmed, and are disarmed again (not
// deleted) so the user's breakpoint survives.
type disposableSites struct {
	added   []addr.RealAddr
	reArmed []addr.RealAddr
}

// armOne arms the breakpoint at a if it isn't already armed, recording
// it in the appropriate disposable bucket. A site that's already armed
// (the user's own live breakpoint) is left untouched and untracked.
func (s *Session) armOne(a addr.RealAddr, d *disposableSites) {
	if s.bp.Lookup(a) {
		return
	}
	_, existed := s.bp.Get(a)
	if _, err := s.bp.Enable(a); err != nil {
		return
	}
	if existed {
		d.reArmed = append(d.reArmed, a)
	} else {
		d.added = append(d.added, a)
	}
}

// restore undoes exactly what armOne recorded: newly-created sites are
// deleted, sites that were merely re-armed are disarmed back to how the
// user left them.
func (s *Session) restore(d disposableSites) {
	for _, a := range d.added {
		_ = s.bp.Delete(a)
	}
	for _, a := range d.reArmed {
		_ = s.bp.Disable(a)
	}
}

// StepOver places disposable breakpoints on every new-statement line in
// the current subprogram (except the current line) plus the return
// address, continues, and restores every disposable site at the first
// stop.
func (s *Session) StepOver() (StopResult, error) {
	sym, _, err := s.currentSubprogram()
	if err != nil {
		return StopResult{}, err
	}
	startLE, _, err := s.currentLineEntry()
	if err != nil {
		return StopResult{}, err
	}

	disposable, err := s.armSubprogramLines(sym, startLE.Line)
	if err != nil {
		return StopResult{}, err
	}

	if ret, err := s.returnAddr(); err == nil {
		s.armOne(ret, &disposable)
	}

	res, err := s.Continue()
	s.restore(disposable)
	return res, err
}

// StepOut places a disposable breakpoint on the current frame's return
// address and continues, restoring it at the first stop.
func (s *Session) StepOut() (StopResult, error) {
	ret, err := s.returnAddr()
	if err != nil {
		return StopResult{}, err
	}

	var disposable disposableSites
	s.armOne(ret, &disposable)

	res, err := s.Continue()
	s.restore(disposable)
	return res, err
}

// RunToLine places a breakpoint at the address resolved for file:line
// and continues. The breakpoint is left armed afterward unless oneShot
// is set, matching the "leave it in place unless the caller requested
// one-shot" rule.
func (s *Session) RunToLine(file string, line int, oneShot bool) (StopResult, error) {
	dbgAddr, err := s.info.AddrAt(file, line)
	if err != nil {
		return StopResult{}, err
	}
	target := s.bias.ToReal(dbgAddr)

	var disposable disposableSites
	s.armOne(target, &disposable)

	res, err := s.Continue()
	if oneShot {
		s.restore(disposable)
	}
	return res, err
}

// armSubprogramLines arms a disposable breakpoint at every new-statement
// line entry inside sym's range, except skipLine.
func (s *Session) armSubprogramLines(sym dbginfo.DebugSymbol, skipLine int) (disposableSites, error) {
	var d disposableSites
	fp, ok := s.info.SymFilepath(sym)
	if !ok {
		return d, errs.New(errs.OracleMiss, "no filepath for the current subprogram")
	}

	err := s.info.ForEachLineInSubprog(s.info.SymName(sym), fp, func(le dbginfo.LineEntry) bool {
		if le.Line == skipLine {
			return true
		}
		s.armOne(s.bias.ToReal(le.Addr), &d)
		return true
	})
	return d, err
}

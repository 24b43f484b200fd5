// Package debugger owns the traced child, the breakpoint table, and the
// debug-info oracle together, and exposes the verbs an interactive
// front end drives a debugging session through.
package debugger

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/backtrace"
	"github.com/thass0/spray/breakpoints"
	"github.com/thass0/spray/config"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
	"github.com/thass0/spray/locexpr"
	"github.com/thass0/spray/ptrace"
	"github.com/thass0/spray/registers"
)

// Session owns the child pid, the breakpoint table, and the debug-info
// oracle for a single debugging session. It is not safe for concurrent
// use; callers serialize verbs.
type Session struct {
	cfg  config.Config
	cmd  *exec.Cmd
	pid  int
	info *dbginfo.DebugInfo
	bp   *breakpoints.Table
	bias addr.Bias

	exited   bool
	exitCode int

	threadLocked bool
}

// StopKind classifies why the tracee most recently stopped.
type StopKind int

const (
	StopBreakpoint StopKind = iota
	StopSignal
	StopExited
)

// StopResult reports the outcome of continue/single-step/stepping verbs.
type StopResult struct {
	Kind     StopKind
	Addr     addr.RealAddr // meaningful for StopBreakpoint and StopSignal
	Signal   unix.Signal   // meaningful for StopSignal
	ExitCode int           // meaningful for StopExited
}

// addrNoRandomize mirrors <linux/personality.h>'s ADDR_NO_RANDOMIZE. It is
// kept as a local constant rather than golang.org/x/sys/unix's own copy,
// whose export has not been consistent across module versions.
const addrNoRandomize = 0x0040000

// Setup forks a child that traces itself, disables its address-space
// randomisation, and execs the debuggee named by cfg.Args[0] with the
// remaining entries as its argv. It waits for the initial post-execve
// stop, opens the ELF/DWARF view, and computes the load bias.
func Setup(cfg config.Config) (*Session, error) {
	if len(cfg.Args) == 0 {
		return nil, errs.New(errs.BadUserInput, "setup requires a debuggee path as the first argument")
	}
	path := cfg.Args[0]

	info, err := dbginfo.Open(path)
	if err != nil {
		return nil, err
	}

	// Personality flags are inherited across fork and execve, so
	// disabling ASLR here (before forking) propagates to the debuggee
	// the same way the original implementation disables it in the
	// child just before exec.
	oldPersona, err := unix.Personality(0xffffffff) // read-only probe
	if err == nil {
		defer unix.Personality(uint64(oldPersona))
		unix.Personality(uint64(oldPersona) | addrNoRandomize)
	}

	cmd := exec.Command(path, cfg.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	// The kernel records the tracer of a PTRACE_TRACEME child as the
	// specific OS thread that forked it, not the process as a whole.
	// Every later ptrace call in this session's lifetime must come from
	// this same thread, so it is locked here and only released on
	// Shutdown.
	runtime.LockOSThread()

	if err := cmd.Start(); err != nil {
		runtime.UnlockOSThread()
		return nil, errs.Wrap(errs.TracerError, "starting debuggee", err)
	}
	pid := cmd.Process.Pid

	status, err := ptrace.Wait(pid)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errs.Wrap(errs.TracerError, "waiting for initial stop", err)
	}
	if !status.Stopped() {
		runtime.UnlockOSThread()
		return nil, errs.New(errs.TracerError, "debuggee did not stop after exec")
	}

	bias := addr.Bias{}
	if info.IsDynExec() {
		bias, err = loadBias(pid)
		if err != nil {
			runtime.UnlockOSThread()
			return nil, err
		}
	}

	slog.Debug("session ready", "pid", pid, "path", path, "bias", bias.Value)

	return &Session{
		cfg:          cfg,
		cmd:          cmd,
		pid:          pid,
		info:         info,
		bp:           breakpoints.NewTable(pid),
		bias:         bias,
		threadLocked: true,
	}, nil
}

// Attach takes over an already-running process by pid instead of forking
// a new one, the way jackc-delve/proctl.NewDebugProcess does: PTRACE_ATTACH,
// wait for the resulting stop, then load the same ELF/DWARF view any other
// session uses. execPath overrides where the oracle reads the binary from;
// an empty string falls back to /proc/<pid>/exe, which is what delve's own
// attach path effectively relies on via the kernel-maintained symlink.
func Attach(cfg config.Config, pid int, execPath string) (*Session, error) {
	if execPath == "" {
		execPath = fmt.Sprintf("/proc/%d/exe", pid)
	}

	info, err := dbginfo.Open(execPath)
	if err != nil {
		return nil, err
	}

	runtime.LockOSThread()

	if err := unix.PtraceAttach(pid); err != nil {
		runtime.UnlockOSThread()
		return nil, errs.Wrap(errs.TracerError, "attaching to pid", err)
	}

	status, err := ptrace.Wait(pid)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errs.Wrap(errs.TracerError, "waiting for attach stop", err)
	}
	if !status.Stopped() {
		runtime.UnlockOSThread()
		return nil, errs.New(errs.TracerError, "attached process did not report a stop")
	}

	bias := addr.Bias{}
	if info.IsDynExec() {
		bias, err = loadBias(pid)
		if err != nil {
			runtime.UnlockOSThread()
			return nil, err
		}
	}

	slog.Debug("attached", "pid", pid, "path", execPath, "bias", bias.Value)

	return &Session{
		cfg:          cfg,
		pid:          pid,
		info:         info,
		bp:           breakpoints.NewTable(pid),
		bias:         bias,
		threadLocked: true,
	}, nil
}

// loadBias reads /proc/<pid>/maps and returns the base of the lowest
// executable segment, the runtime base of a position-independent
// executable's load.
func loadBias(pid int) (addr.Bias, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return addr.Bias{}, errs.Wrap(errs.IoError, "reading process map", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		perms := fields[1]
		if !strings.Contains(perms, "x") {
			continue
		}
		rangeField := fields[0]
		lowStr, _, ok := strings.Cut(rangeField, "-")
		if !ok {
			continue
		}
		low, err := strconv.ParseUint(lowStr, 16, 64)
		if err != nil {
			continue
		}
		return addr.Bias{Value: low}, nil
	}
	return addr.Bias{}, errs.New(errs.IoError, "no executable segment found in process map")
}

// Run resumes a freshly-set-up tracee until its first stop.
func (s *Session) Run() (StopResult, error) {
	return s.Continue()
}

// Continue runs the "step over an armed site the PC currently rests on"
// protocol if needed, then resumes the tracee until the next stop.
func (s *Session) Continue() (StopResult, error) {
	if s.exited {
		return StopResult{}, errs.New(errs.TraceeGone, "debuggee has already exited")
	}

	if err := s.stepOffCurrentBreakpoint(); err != nil {
		return StopResult{}, err
	}

	if err := ptrace.Continue(s.pid); err != nil {
		return StopResult{}, err
	}
	return s.waitAndClassify()
}

// SingleStep issues exactly one kernel single-step with no breakpoint
// manipulation.
func (s *Session) SingleStep() (StopResult, error) {
	if s.exited {
		return StopResult{}, errs.New(errs.TraceeGone, "debuggee has already exited")
	}
	if err := ptrace.SingleStep(s.pid); err != nil {
		return StopResult{}, err
	}
	return s.waitAndClassify()
}

// stepOffCurrentBreakpoint implements §4.5's "land on a breakpoint,
// continue past it" protocol when the PC currently rests exactly on an
// armed site: disable it, single-step past it, re-enable it. It is a
// no-op when the current PC has no armed breakpoint.
func (s *Session) stepOffCurrentBreakpoint() error {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return err
	}
	pc := addr.RealAddr{Value: registers.Get(regs, registers.Rip)}

	if !s.bp.Lookup(pc) {
		return nil
	}

	if err := s.bp.Disable(pc); err != nil {
		return err
	}
	if err := ptrace.SingleStep(s.pid); err != nil {
		return err
	}
	if _, err := ptrace.Wait(s.pid); err != nil {
		return err
	}
	_, err = s.bp.Enable(pc)
	return err
}

// waitAndClassify blocks on the tracee's next stop and classifies it:
// a trap whose PC-1 names an armed breakpoint is rewound and reported as
// StopBreakpoint; termination is StopExited; any other trap/signal is
// StopSignal.
func (s *Session) waitAndClassify() (StopResult, error) {
	status, err := ptrace.Wait(s.pid)
	if err != nil {
		return StopResult{}, err
	}

	if status.Exited() {
		s.exited = true
		s.exitCode = status.ExitStatus()
		return StopResult{Kind: StopExited, ExitCode: s.exitCode}, nil
	}
	if status.Signaled() {
		s.exited = true
		return StopResult{Kind: StopExited, ExitCode: -1}, nil
	}

	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return StopResult{}, err
	}
	rip := registers.Get(regs, registers.Rip)

	if status.StopSignal() == unix.SIGTRAP {
		hitAddr := addr.RealAddr{Value: rip - 1}
		if s.bp.Lookup(hitAddr) {
			registers.Set(regs, registers.Rip, hitAddr.Value)
			if err := ptrace.WriteRegisters(s.pid, regs); err != nil {
				return StopResult{}, err
			}
			return StopResult{Kind: StopBreakpoint, Addr: hitAddr}, nil
		}
		return StopResult{Kind: StopSignal, Addr: addr.RealAddr{Value: rip}, Signal: unix.SIGTRAP}, nil
	}

	return StopResult{Kind: StopSignal, Addr: addr.RealAddr{Value: rip}, Signal: status.StopSignal()}, nil
}

// BreakAt resolves spec (a bare address, read as hexadecimal with or
// without a 0x prefix, a "file:line" pair, or a bare function name) to a real address and arms a breakpoint
// there. A function name resolves to its past-prologue address, not its
// raw low PC.
func (s *Session) BreakAt(spec string) (addr.RealAddr, error) {
	target, err := s.resolveBreakSpec(spec)
	if err != nil {
		return addr.RealAddr{}, err
	}
	if _, err := s.bp.Enable(target); err != nil {
		return addr.RealAddr{}, err
	}
	return target, nil
}

// DeleteBreak removes the breakpoint named by spec, using the same
// resolution rules as BreakAt.
func (s *Session) DeleteBreak(spec string) error {
	target, err := s.resolveBreakSpec(spec)
	if err != nil {
		return err
	}
	return s.bp.Delete(target)
}

func (s *Session) resolveBreakSpec(spec string) (addr.RealAddr, error) {
	switch {
	case LooksLikeFileLine(spec):
		file, lineStr, _ := strings.Cut(spec, ":")
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return addr.RealAddr{}, errs.New(errs.BadUserInput, "invalid line number in "+spec)
		}
		dbgAddr, err := s.info.AddrAt(file, line)
		if err != nil {
			return addr.RealAddr{}, err
		}
		return s.bias.ToReal(dbgAddr), nil

	case LooksLikeFunctionName(spec):
		sym, ok := s.info.SymByName(spec)
		if !ok {
			return addr.RealAddr{}, errs.New(errs.OracleMiss, "no function named "+spec)
		}
		dbgAddr, err := s.info.FunctionStartAddr(sym)
		if err != nil {
			return addr.RealAddr{}, err
		}
		return s.bias.ToReal(dbgAddr), nil

	default:
		v, err := strconv.ParseUint(strings.TrimPrefix(spec, "0x"), 16, 64)
		if err != nil {
			return addr.RealAddr{}, errs.New(errs.BadUserInput, "not an address, file:line, or function name: "+spec)
		}
		return addr.RealAddr{Value: v}, nil
	}
}

// ReadReg returns the current value of the named register.
func (s *Session) ReadReg(name string) (uint64, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return 0, err
	}
	return registers.GetByName(regs, name)
}

// WriteReg sets the named register to value.
func (s *Session) WriteReg(name string, value uint64) error {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return err
	}
	if err := registers.SetByName(regs, name, value); err != nil {
		return err
	}
	return ptrace.WriteRegisters(s.pid, regs)
}

// ReadMem reads the 8-byte word at a real address in the tracee.
func (s *Session) ReadMem(a addr.RealAddr) (uint64, error) {
	return ptrace.ReadWord(s.pid, a)
}

// WriteMem replaces the 8-byte word at a real address in the tracee.
func (s *Session) WriteMem(a addr.RealAddr, word uint64) error {
	return ptrace.WriteWord(s.pid, a, word)
}

// PrintVar resolves name's location at the current PC and returns a
// human-readable rendering: the register name and its value, or the
// memory address and the word stored there.
func (s *Session) PrintVar(name string) (string, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return "", err
	}
	pc := s.bias.ToDbg(addr.RealAddr{Value: registers.Get(regs, registers.Rip)})

	loclist, err := s.info.LoclistForVar(pc, name)
	if err != nil {
		return "", err
	}
	if len(loclist.Exprs) == 0 {
		return "", errs.New(errs.OracleMiss, "no location for "+name+" at the current PC")
	}

	// The fixtures this debugger targets are compiled -O0, which always
	// emits a single exprloc location attribute rather than a PC-range
	// location list, so the first (and only) expression always applies.
	frameBase := addr.RealAddr{Value: registers.Get(regs, registers.Rbp)}
	loc, err := locexpr.Eval(loclist.Exprs[0], regs, frameBase, s.bias, func(a addr.RealAddr) (uint64, error) {
		return ptrace.ReadWord(s.pid, a)
	})
	if err != nil {
		return "", err
	}

	switch loc.Kind {
	case dbginfo.VarInRegister:
		return fmt.Sprintf("%s = %s (%#x)", name, registers.Name(loc.Reg), registers.Get(regs, loc.Reg)), nil
	default:
		word, err := ptrace.ReadWord(s.pid, loc.Mem)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %#x (at %s)", name, word, loc.Mem), nil
	}
}

// PrintBacktrace reconstructs the call stack starting at the current
// PC/frame pointer.
func (s *Session) PrintBacktrace() ([]backtrace.CallFrame, error) {
	regs, err := ptrace.ReadRegisters(s.pid)
	if err != nil {
		return nil, err
	}
	pc := s.bias.ToDbg(addr.RealAddr{Value: registers.Get(regs, registers.Rip)})
	fp := addr.RealAddr{Value: registers.Get(regs, registers.Rbp)}

	if !backtrace.StoresFramePointer(pc, s.bias, s.info, s.readWord) {
		slog.Warn("function does not appear to maintain a frame pointer; backtrace may be unreliable", "pc", pc)
	}

	return backtrace.Build(pc, fp, s.bias, s.info, s.readWord), nil
}

func (s *Session) readWord(a addr.RealAddr) (uint64, error) {
	return ptrace.ReadWord(s.pid, a)
}

// Shutdown tears every owned resource down in reverse order: end the
// tracee if it's still alive, then drop the debug-info oracle and
// breakpoint table, then release the OS thread locked at setup/attach
// time. Safe to call more than once. A forked child is killed outright;
// an attached process is detached instead, leaving it running the way
// delve's own attach/detach pair does.
func (s *Session) Shutdown() error {
	if !s.exited {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_, _ = s.cmd.Process.Wait()
		} else if s.pid != 0 {
			_ = unix.PtraceDetach(s.pid)
		}
		s.exited = true
	}
	s.info = nil
	s.bp = nil
	if s.threadLocked {
		runtime.UnlockOSThread()
		s.threadLocked = false
	}
	return nil
}

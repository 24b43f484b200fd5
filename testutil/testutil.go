// Package testutil compiles the C fixtures under testdata/ on the fly
// and launches them under ptrace, the same way a test harness for a
// source-level debugger has to: there is no way to exercise breakpoint
// placement, register access, or DWARF-backed symbol lookup without a
// real traced child.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/ptrace"
)

// TracedProcess bundles a freshly-launched, freshly-stopped tracee with
// the debug-info oracle built from the same binary that was launched.
type TracedProcess struct {
	Pid  int
	Path string
	Info *dbginfo.DebugInfo

	cmd *exec.Cmd
}

// Kill terminates the tracee unconditionally. Safe to call more than
// once and safe to call on an already-exited process.
func (tp *TracedProcess) Kill() {
	if tp.cmd == nil || tp.cmd.Process == nil {
		return
	}
	_ = tp.cmd.Process.Kill()
	_, _ = tp.cmd.Process.Wait()
}

// CompileFixture compiles the C source at srcPath into a temporary
// executable with debug info and a frame pointer in every function,
// skipping the test if no C compiler is available. The binary is removed
// automatically when the test completes.
func CompileFixture(t *testing.T, srcPath string) string {
	t.Helper()

	cc, err := exec.LookPath("cc")
	if err != nil {
		cc, err = exec.LookPath("gcc")
	}
	if err != nil {
		t.Skip("no C compiler (cc/gcc) available, skipping")
	}

	out := filepath.Join(t.TempDir(), "fixture")
	// -O0 and -fno-omit-frame-pointer keep the generated code close to
	// what original_source/tests/dwarf.c's fixtures assume: one DWARF
	// statement per source line, a pushed rbp in every function. -no-pie
	// keeps symbol addresses fixed across runs, which is what the
	// scenario tests' literal line/address expectations assume.
	cmd := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-no-pie", "-o", out, srcPath)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Skipf("compiling fixture %s: %v", srcPath, err)
	}
	return out
}

// Launch starts path under ptrace and waits for the initial post-execve
// stop, then opens the debug-info oracle on the same binary. The caller
// must call Kill() when done.
//
// This only works on linux/amd64, which is the only platform spray
// supports; on anything else it skips the test outright.
func Launch(t *testing.T, path string) *TracedProcess {
	t.Helper()

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("ptrace-based tests require linux/amd64")
	}

	// os/exec's Ptrace SysProcAttr makes the forked child issue
	// PTRACE_TRACEME itself before execve, so the tracer never races the
	// exec: the first wait() below always reports the post-execve
	// SIGTRAP stop, not some arbitrary earlier state.
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// The tracer must stay on the same OS thread that issued the
	// ptrace calls: the kernel ties a tracee to the tracing thread, not
	// the tracing process.
	runtime.LockOSThread()

	if err := cmd.Start(); err != nil {
		runtime.UnlockOSThread()
		t.Fatalf("starting traced fixture: %v", err)
	}

	status, err := ptrace.Wait(cmd.Process.Pid)
	if err != nil {
		runtime.UnlockOSThread()
		t.Fatalf("waiting for initial stop: %v", err)
	}
	if !status.Stopped() || status.StopSignal() != unix.SIGTRAP {
		runtime.UnlockOSThread()
		t.Fatalf("unexpected initial wait status: %v", status)
	}

	info, err := dbginfo.Open(path)
	if err != nil {
		cmd.Process.Kill()
		runtime.UnlockOSThread()
		t.Fatalf("opening debug info for %s: %v", path, err)
	}

	t.Cleanup(runtime.UnlockOSThread)

	return &TracedProcess{Pid: cmd.Process.Pid, Path: path, Info: info, cmd: cmd}
}

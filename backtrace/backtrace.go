// Package backtrace reconstructs the tracee's call stack by walking
// saved frame pointers, enriching each frame with the function name and
// source line the debug-info oracle can resolve for its PC.
package backtrace

import (
	"github.com/thass0/spray/addr"
	"github.com/thass0/spray/dbginfo"
	"github.com/thass0/spray/errs"
)

// canonicalPrologue is the first four bytes of the standard frame-setup
// sequence: push rbp; mov rsp, rbp (encoded 55 48 89 e5, little-endian
// as a 32-bit word: 0xe5894855).
const canonicalPrologue = 0xe5894855

// CallFrame is one frame of a reconstructed call stack. Frames are
// ordered callee-first; the outermost frame (main, or whatever the
// tracee started in) is last.
type CallFrame struct {
	PC           addr.DbgAddr
	FramePointer addr.RealAddr
	Function     string
	HasFunction  bool
	Line         int
	HasLine      bool
}

// MemReader reads the 8-byte word at a real address in the tracee.
type MemReader func(addr.RealAddr) (uint64, error)

// StoresFramePointer reports whether the function containing pc begins
// with the canonical push-rbp/mov-rsp,rbp sequence, by reading its first
// four instruction bytes and comparing them to the canonical prologue.
// It returns false (not an error) for any oracle miss or read failure:
// callers use this only to decide whether to print a warning before a
// best-effort walk.
func StoresFramePointer(pc addr.DbgAddr, bias addr.Bias, di *dbginfo.DebugInfo, read MemReader) bool {
	if di == nil {
		return false
	}
	sym, ok := di.SymByAddr(pc)
	if !ok {
		return false
	}
	start := bias.ToReal(di.SymStartAddr(sym))
	word, err := read(start)
	if err != nil {
		return false
	}
	return uint32(word) == canonicalPrologue
}

// Build walks the call stack starting at (pc, framePointer), the
// current rip and rbp, resolving each frame's function name and line
// through the oracle. It stops when the saved frame pointer is 0. Any
// memory read failure truncates the trace at that point and returns
// what has been gathered so far; that is success, not an error.
func Build(pc addr.DbgAddr, framePointer addr.RealAddr, bias addr.Bias, di *dbginfo.DebugInfo, read MemReader) []CallFrame {
	var frames []CallFrame

	for {
		frames = append(frames, resolveFrame(pc, framePointer, di))

		if framePointer.Value == 0 {
			break
		}

		retAddrWord, err := read(framePointer.Plus(8))
		if err != nil {
			break
		}
		savedFP, err := read(framePointer)
		if err != nil {
			break
		}

		pc = bias.ToDbg(addr.RealAddr{Value: retAddrWord})
		framePointer = addr.RealAddr{Value: savedFP}

		if framePointer.Value == 0 {
			break
		}
	}

	return frames
}

func resolveFrame(pc addr.DbgAddr, fp addr.RealAddr, di *dbginfo.DebugInfo) CallFrame {
	frame := CallFrame{PC: pc, FramePointer: fp}

	if di == nil {
		return frame
	}

	sym, ok := di.SymByAddr(pc)
	if !ok {
		return frame
	}

	frame.Function = di.SymName(sym)
	frame.HasFunction = true

	if pos, ok := di.SymPosition(sym); ok {
		frame.Line = pos.Line
		frame.HasLine = true
	}

	return frame
}

// ErrNoFramePointer is the structured counterpart to the warning
// original_source/src/backtrace.c prints to stdout: it is informational,
// not fatal, and Build proceeds with the walk regardless.
var ErrNoFramePointer = errs.New(errs.NoFramePointer, "function does not appear to maintain a frame pointer")

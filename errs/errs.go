// Package errs defines the closed set of error kinds that every fallible
// operation in spray reports through, instead of threading ad-hoc
// "result = success | error" out-parameters or bare strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed tag identifying why an operation failed.
type Kind int

const (
	// TracerError means the kernel refused a ptrace request.
	TracerError Kind = iota
	// OracleMiss means a requested name/address/line has no matching
	// debug information entry. Not fatal; the caller decides what to do.
	OracleMiss
	// OracleParse means the DWARF/ELF data itself is malformed. Fatal at
	// setup.
	OracleParse
	// UnsupportedOpcode means the location evaluator met a DWARF
	// expression opcode it doesn't implement.
	UnsupportedOpcode
	// TraceeGone means a wait reported that the tracee terminated.
	TraceeGone
	// BadUserInput means a verb was called with a syntactically invalid
	// argument.
	BadUserInput
	// NoFramePointer is emitted as a warning, not a fatal error, before a
	// best-effort backtrace when a function doesn't appear to maintain
	// a frame pointer.
	NoFramePointer
	// IoError means the debuggee file itself could not be read at setup.
	IoError
	// Invalid means the debuggee file was read but is not a well-formed
	// ELF object.
	Invalid
	// Unsupported means the debuggee file is a well-formed ELF object of
	// a class, endianness, or machine this debugger does not support.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case TracerError:
		return "TracerError"
	case OracleMiss:
		return "OracleMiss"
	case OracleParse:
		return "OracleParse"
	case UnsupportedOpcode:
		return "UnsupportedOpcode"
	case TraceeGone:
		return "TraceeGone"
	case BadUserInput:
		return "BadUserInput"
	case NoFramePointer:
		return "NoFramePointer"
	case IoError:
		return "IoError"
	case Invalid:
		return "Invalid"
	case Unsupported:
		return "Unsupported"
	default:
		return "UnknownKind"
	}
}

// Error wraps an underlying cause with one of the Kind tags above.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error with the given kind, message, and underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

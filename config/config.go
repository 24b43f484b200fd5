// Package config carries the small set of options the session and its
// collaborators (the pretty-printer, in particular) need, as one
// explicit value passed at construction instead of process-wide state.
package config

// Config holds the options a debugger session is constructed with.
type Config struct {
	// Color enables ANSI colour in any output the session formats
	// itself (currently none: source highlighting lives outside this
	// core, per the REPL contract). Kept here because it is the one
	// flag the original global-singleton pattern existed to carry.
	Color bool

	// Args are the command-line arguments passed to the debuggee on
	// exec, with Args[0] conventionally the debuggee's own path.
	Args []string
}

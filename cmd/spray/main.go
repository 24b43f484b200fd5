// Command spray is the command-line entry point: it parses flags,
// starts a debugging session, and drives a minimal line-oriented command
// loop over it. The interactive REPL's command grammar, history, and
// source-code pretty-printing are external collaborators per the core's
// contract; this is a thin front end over the stepping, breakpoint,
// register, variable and backtrace verbs. The session's ReadMem, WriteMem
// and RunToLine verbs have no command here.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/thass0/spray/config"
	"github.com/thass0/spray/debugger"
)

func main() {
	var (
		pid      int
		execPath string
		noColor  bool
	)

	flag.IntVar(&pid, "pid", 0, "pid of a running process to attach to, instead of launching a new one")
	flag.StringVar(&execPath, "exec", "", "path to the attached process's binary (defaults to /proc/<pid>/exe)")
	flag.BoolVar(&noColor, "no-color", false, "disable ANSI colour in session output")
	flag.Parse()

	cfg := config.Config{Color: !noColor, Args: flag.Args()}

	var sess *debugger.Session
	var err error
	if pid != 0 {
		sess, err = debugger.Attach(cfg, pid, execPath)
	} else {
		if len(cfg.Args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: spray [-no-color] file [arg1 ...]")
			fmt.Fprintln(os.Stderr, "       spray [-no-color] -pid PID [-exec PATH]")
			os.Exit(1)
		}
		sess, err = debugger.Setup(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	defer sess.Shutdown()

	runLoop(sess)
}

func runLoop(sess *debugger.Session) {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("spray> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		cmd, rest := splitCommand(line)

		if err := dispatch(sess, cmd, rest); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func dispatch(sess *debugger.Session, cmd string, args []string) error {
	switch cmd {
	case "c", "continue":
		res, err := sess.Continue()
		if err != nil {
			return err
		}
		reportStop(res)

	case "si", "stepi":
		res, err := sess.SingleStep()
		if err != nil {
			return err
		}
		reportStop(res)

	case "s", "step":
		res, err := sess.StepIn()
		if err != nil {
			return err
		}
		reportStop(res)

	case "n", "next":
		res, err := sess.StepOver()
		if err != nil {
			return err
		}
		reportStop(res)

	case "finish":
		res, err := sess.StepOut()
		if err != nil {
			return err
		}
		reportStop(res)

	case "b", "break":
		if len(args) != 1 {
			return fmt.Errorf("usage: break <addr|file:line|function>")
		}
		target, err := sess.BreakAt(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint set at %s\n", target)

	case "d", "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <addr|file:line|function>")
		}
		return sess.DeleteBreak(args[0])

	case "reg":
		if len(args) != 1 {
			return fmt.Errorf("usage: reg <name>")
		}
		v, err := sess.ReadReg(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s = %#x\n", args[0], v)

	case "setreg":
		if len(args) != 2 {
			return fmt.Errorf("usage: setreg <name> <value>")
		}
		v, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		return sess.WriteReg(args[0], v)

	case "print":
		if len(args) != 1 {
			return fmt.Errorf("usage: print <variable>")
		}
		out, err := sess.PrintVar(args[0])
		if err != nil {
			return err
		}
		fmt.Println(out)

	case "bt", "backtrace":
		frames, err := sess.PrintBacktrace()
		if err != nil {
			return err
		}
		for i, f := range frames {
			name := f.Function
			if !f.HasFunction {
				name = "???"
			}
			if f.HasLine {
				fmt.Printf("#%d %s (pc=%s, line %d)\n", i, name, f.PC, f.Line)
			} else {
				fmt.Printf("#%d %s (pc=%s)\n", i, name, f.PC)
			}
		}

	case "quit", "exit":
		os.Exit(0)

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func reportStop(res debugger.StopResult) {
	switch res.Kind {
	case debugger.StopBreakpoint:
		fmt.Printf("stopped at breakpoint %s\n", res.Addr)
	case debugger.StopExited:
		fmt.Printf("debuggee exited with code %d\n", res.ExitCode)
	case debugger.StopSignal:
		slog.Info("stopped on signal", "signal", res.Signal, "pc", res.Addr)
		fmt.Printf("stopped on signal %s at %s\n", res.Signal, res.Addr)
	}
}

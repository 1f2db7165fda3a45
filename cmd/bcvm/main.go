// bcvm compiles verified IL modules to bytecode and runs them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"compile", "compile an IL module and write its bytecode", cmdCompile},
	{"run", "run an entry function of an IL or bytecode module", cmdRun},
	{"disasm", "print the disassembly of a module", cmdDisasm},
	{"trace", "run a module and print every dispatched instruction", cmdTrace},
	{"cache", "list or prune the compiled-module cache", cmdCache},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit so tests can drive the CLI.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("bcvm", flag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.Int("v", 0, "log verbosity (1 = info, 2 = debug)")
	dir := flags.String("C", ".", "directory to search for bcvm.toml")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bcvm [options] <command> [args]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-8s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(stderr, "\nOptions:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	commonlog.Configure(*verbose, nil)

	e, err := newEnv(*dir, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close()

	name := flags.Arg(0)
	for _, c := range commands {
		if c.name == name {
			if err := c.run(ctx, e, flags.Args()[1:]); errors.Is(err, flag.ErrHelp) {
				return 2
			} else if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitCode(err)
			}
			return 0
		}
	}
	fmt.Fprintf(stderr, "Unknown command %q\n", name)
	flags.Usage()
	return 2
}

// mvm CLI - translates mathvm AST documents to bytecode and runs them
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("mvm.cli")

const usage = `Usage: mvm [-v] <command> [arguments]

Commands:
  run [-trace] [-no-cache] [-max-frames n] file.yaml   translate (or fetch from cache) and execute
  build [-o out.mvbc] file.yaml...                     write program images
  disasm file.yaml|file.mvbc                           print the disassembly
  exec [-trace] [-max-frames n] file.mvbc              execute a program image
  cache list|clear                                     inspect or empty the program cache

Options:
  -v    verbose logging; repeat for debug output
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// verbosity counts -v flags.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) Set(string) error { *v++; return nil }
func (v *verbosity) IsBoolFlag() bool { return true }

// cli carries the streams and global options shared by all subcommands.
type cli struct {
	stdout    io.Writer
	stderr    io.Writer
	verbosity int
}

// run parses the global flags, dispatches the subcommand and returns the
// process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	var v verbosity
	fs.Var(&v, "v", "verbose logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	commonlog.Configure(int(v), nil)
	c := &cli{stdout: stdout, stderr: stderr, verbosity: int(v)}

	if err := c.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "run":
		return c.runCommand(ctx, args)
	case "build":
		return c.buildCommand(ctx, args)
	case "disasm":
		return c.disasmCommand(args)
	case "exec":
		return c.execCommand(ctx, args)
	case "cache":
		return c.cacheCommand(ctx, args)
	case "help":
		fmt.Fprint(c.stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q (see mvm -h)", cmd)
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("mvm "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

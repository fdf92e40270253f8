// Command factorybuild runs the scene pipeline from the command line:
// write a project's handover contract, build its scene, inspect layout
// files and manage the mesh cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/factory-twin/backend/internal/config"
	"github.com/factory-twin/backend/internal/ctxlog"
)

// ExitError carries a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"encode", "write a project's handover contract from a layout file", runEncode},
	{"build", "build a project's scene from its handover contract", runBuild},
	{"inspect", "summarize a layout file (dxf, yaml/json manifest, msgpack snapshot)", runInspect},
	{"cache", "list or clear cached meshes", runCache},
}

// cliEnv is what every subcommand gets.
type cliEnv struct {
	out    io.Writer
	errOut io.Writer
	cfg    *config.AppConfig
	logger *slog.Logger
}

func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("factorybuild", flag.ContinueOnError)
	flagSet.SetOutput(errW)
	flagSet.Usage = func() {
		fmt.Fprint(errW, `
factorybuild - build 3D factory scenes from layout contracts.

Usage:
  factorybuild [options] <command> [command options] [args]

Commands:
`)
		for _, c := range commands {
			fmt.Fprintf(errW, "  %-9s %s\n", c.name, c.summary)
		}
		fmt.Fprint(errW, "\nOptions:\n")
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "FactoryTwin.config", "Path to the XML configuration file (created if missing).")
	logLevelFlag := flagSet.String("log-level", "", "Override the configured log level: debug, info, warn, error.")
	logFormatFlag := flagSet.String("log-format", "", "Override the configured log format: text or json.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return &ExitError{Code: 2}
	}

	name := flagSet.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		flagSet.Usage()
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", name)}
	}

	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		return err
	}
	if *logLevelFlag != "" {
		cfg.Advanced.LogLevel = *logLevelFlag
	}
	if *logFormatFlag != "" {
		cfg.Advanced.LogFormat = *logFormatFlag
	}
	logger := ctxlog.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, errW)

	env := &cliEnv{out: outW, errOut: errW, cfg: cfg, logger: logger}
	return cmd.run(ctxlog.WithLogger(ctx, logger), env, flagSet.Args()[1:])
}

// subFlags builds a flag set for one subcommand.
func subFlags(env *cliEnv, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.errOut)
	fs.Usage = func() {
		fmt.Fprintf(env.errOut, "\nUsage:\n  factorybuild %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func parseSub(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return &ExitError{Code: 0}
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return nil
}

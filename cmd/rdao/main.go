// Package main implements the rdao CLI tool.
//
// rdao reads IR documents (YAML or JSON) describing multi-threaded programs
// and reports races, deadlocks, atomicity violations, order violations and
// unsafe recursive locking.
//
// Usage:
//
//	rdao analyze prog.yaml            # Analyze every program in prog.yaml
//	rdao batch -workers 8 corpus/*.yaml
//	rdao trace prog.yaml              # Dump collected events and lock graph
//	rdao version
//
// Global flags come before the command:
//
//	rdao -config rdao.toml -log-level debug analyze prog.yaml
//
// Exit status is 0 when no finding reaches the blocking severity, 66 when
// one does (the status Go's race detector uses), 1 on errors and 2 on usage
// errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/rdao/internal/rdao/config"
)

// exitBlocking is returned when a report contains blocking findings.
const exitBlocking subcommands.ExitStatus = 66

// env is passed to every command.
type env struct {
	cfg *config.Config
	log *logrus.Logger
	out io.Writer
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run parses global flags, sets up configuration and logging and dispatches
// to a command. It returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rdao", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "TOML configuration file")
		logLevel   = fs.String("log-level", "", "log level, overrides [log] level")
		logFormat  = fs.String("log-format", "", "log format (text or json), overrides [log] format")
	)
	if err := fs.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return int(subcommands.ExitFailure)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(subcommands.ExitUsageError)
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	if err := cfg.Log.Apply(logger); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(subcommands.ExitUsageError)
	}

	cdr := subcommands.NewCommander(fs, "rdao")
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")
	cdr.Register(new(analyzeCmd), "")
	cdr.Register(new(batchCmd), "")
	cdr.Register(new(traceCmd), "debug")
	cdr.Register(new(versionCmd), "")

	e := &env{cfg: cfg, log: logger, out: stdout}
	return int(cdr.Execute(ctx, e))
}

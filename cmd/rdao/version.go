package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"github.com/kolkov/rdao/rdao"
)

// versionCmd implements subcommands.Command for the "version" command.
type versionCmd struct{}

// Name implements subcommands.Command.Name.
func (*versionCmd) Name() string { return "version" }

// Synopsis implements subcommands.Command.Synopsis.
func (*versionCmd) Synopsis() string { return "show version information" }

// Usage implements subcommands.Command.Usage.
func (*versionCmd) Usage() string { return "version\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*versionCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := args[0].(*env)
	info := rdao.GetInfo()
	fmt.Fprintf(e.out, "rdao version %s\n", info.Version)
	fmt.Fprintf(e.out, "IR format: %s\n", info.IRFormat)
	fmt.Fprintf(e.out, "detectors: %s\n", strings.Join(info.Detectors, ", "))
	return subcommands.ExitSuccess
}

// analyze.go implements the 'rdao analyze' and 'rdao batch' commands.
package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/kolkov/rdao/internal/rdao/config"
	"github.com/kolkov/rdao/rdao"
)

// reportFlags are the output flags shared by analyze and batch. Empty
// values keep the configured setting.
type reportFlags struct {
	format   string
	blocking string
}

func (r *reportFlags) set(f *flag.FlagSet) {
	f.StringVar(&r.format, "format", "", "output format: text, json or yaml (default from config)")
	f.StringVar(&r.blocking, "blocking", "", "lowest severity that fails the run: low, medium, high or critical")
}

// apply returns a copy of cfg with the flags applied.
func (r *reportFlags) apply(cfg *config.Config) (*config.Config, error) {
	c := *cfg
	if r.format != "" {
		c.Report.Format = r.format
	}
	if r.blocking != "" {
		c.Report.Blocking = r.blocking
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// analyzeCmd implements subcommands.Command for the "analyze" command.
type analyzeCmd struct {
	reportFlags
}

// Name implements subcommands.Command.Name.
func (*analyzeCmd) Name() string { return "analyze" }

// Synopsis implements subcommands.Command.Synopsis.
func (*analyzeCmd) Synopsis() string {
	return "analyze IR programs and report concurrency defects"
}

// Usage implements subcommands.Command.Usage.
func (*analyzeCmd) Usage() string {
	return `analyze [flags] <file>... - analyze every program in the given IR files, one at a time
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *analyzeCmd) SetFlags(f *flag.FlagSet) { c.set(f) }

// Execute implements subcommands.Command.Execute.
//
// Every program is analyzed even when an earlier one is ill-formed. The
// reports of the well-formed programs are printed in input order.
func (c *analyzeCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	cfg, err := c.apply(e.cfg)
	if err != nil {
		e.log.WithError(err).Error("invalid flags")
		return subcommands.ExitUsageError
	}
	progs, failed := loadAll(e, f.Args())

	var reports []*rdao.Report
	for _, p := range progs {
		r, err := rdao.AnalyzeWith(p, cfg, e.log)
		if err != nil {
			e.log.WithError(err).WithField("program", p.Name).Error("analysis failed")
			failed = true
			continue
		}
		reports = append(reports, r)
	}
	return finish(e, cfg, reports, failed)
}

// batchCmd implements subcommands.Command for the "batch" command.
type batchCmd struct {
	reportFlags
	workers int
}

// Name implements subcommands.Command.Name.
func (*batchCmd) Name() string { return "batch" }

// Synopsis implements subcommands.Command.Synopsis.
func (*batchCmd) Synopsis() string {
	return "analyze many IR programs concurrently"
}

// Usage implements subcommands.Command.Usage.
func (*batchCmd) Usage() string {
	return `batch [flags] <file>... - analyze every program in the given IR files concurrently;
reports are printed in input order
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *batchCmd) SetFlags(f *flag.FlagSet) {
	c.set(f)
	f.IntVar(&c.workers, "workers", -1, "programs analyzed at once (default from config, 0 means one per CPU)")
}

// Execute implements subcommands.Command.Execute.
func (c *batchCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	cfg, err := c.apply(e.cfg)
	if err != nil {
		e.log.WithError(err).Error("invalid flags")
		return subcommands.ExitUsageError
	}
	if c.workers >= 0 {
		cfg.Analysis.Workers = c.workers
	}
	progs, failed := loadAll(e, f.Args())

	results, err := rdao.AnalyzeBatch(ctx, progs, cfg, e.log)
	if err != nil {
		e.log.WithError(err).Error("batch interrupted")
		return subcommands.ExitFailure
	}
	var reports []*rdao.Report
	for _, r := range results {
		if r.Err != nil {
			e.log.WithError(r.Err).WithField("program", r.Name).Error("analysis failed")
			failed = true
			continue
		}
		reports = append(reports, r.Report)
	}
	e.log.WithField("programs", len(results)).Info("batch done")
	return finish(e, cfg, reports, failed)
}

// finish prints the reports and maps them onto an exit status. Errors win
// over blocking findings.
func finish(e *env, cfg *config.Config, reports []*rdao.Report, failed bool) subcommands.ExitStatus {
	if err := writeReports(e.out, cfg.Report.Format, reports); err != nil {
		e.log.WithError(err).Error("cannot write report")
		return subcommands.ExitFailure
	}
	if failed {
		return subcommands.ExitFailure
	}
	for _, r := range reports {
		if r.Blocking() {
			return exitBlocking
		}
	}
	return subcommands.ExitSuccess
}

// loadAll reads the programs of every file. A file that cannot be read is
// logged and skipped so the remaining files are still analyzed; failed
// reports whether any was skipped.
func loadAll(e *env, paths []string) (progs []*rdao.Program, failed bool) {
	for _, path := range paths {
		ps, err := rdao.Load(path)
		if err != nil {
			e.log.WithError(err).WithField("file", path).Error("cannot load IR")
			failed = true
			continue
		}
		progs = append(progs, ps...)
	}
	return progs, failed
}

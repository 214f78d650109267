// trace.go implements the 'rdao trace' debugging command.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/subcommands"

	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// traceCmd implements subcommands.Command for the "trace" command.
type traceCmd struct{}

// Name implements subcommands.Command.Name.
func (*traceCmd) Name() string { return "trace" }

// Synopsis implements subcommands.Command.Synopsis.
func (*traceCmd) Synopsis() string {
	return "dump the collected events, critical sections and lock-order graph"
}

// Usage implements subcommands.Command.Usage.
func (*traceCmd) Usage() string {
	return `trace <file> - dump what the engine sees for every program in file
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*traceCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*traceCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	progs, failed := loadAll(e, f.Args())

	cfg := spew.ConfigState{
		Indent:                  "  ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		SortKeys:                true,
	}
	status := subcommands.ExitSuccess
	if failed {
		status = subcommands.ExitFailure
	}
	for _, p := range progs {
		tr, err := trace.Collect(p)
		if err != nil {
			e.log.WithError(err).WithField("program", p.Name).Error("cannot collect trace")
			status = subcommands.ExitFailure
			continue
		}
		ls, err := lockset.Analyze(tr)
		if err != nil {
			e.log.WithError(err).WithField("program", p.Name).Error("cannot replay locks")
			status = subcommands.ExitFailure
			continue
		}
		cfg.Fdump(e.out, dumpOf(ls))
	}
	return status
}

type traceDump struct {
	Program  string
	Threads  []threadDump
	Sections []sectionDump
	Edges    []edgeDump
	Shared   []string
}

type threadDump struct {
	ID     string
	Parent string
	Spawn  string
	Join   string
	Events []string
}

type sectionDump struct {
	Thread   string
	Span     string
	Locks    string
	Accesses int
}

type edgeDump struct {
	Edge  string
	Sites []string
}

func dumpOf(ls *lockset.Result) traceDump {
	tr := ls.Trace
	d := traceDump{Program: tr.Name}
	tr.Walk(func(t *trace.Thread) {
		td := threadDump{ID: string(t.ID), Spawn: t.SpawnPos(), Join: t.JoinPos()}
		if t.Parent != nil {
			td.Parent = string(t.Parent.ID)
		}
		if t.Parent != nil && !t.Joined() {
			td.Join = "never"
		}
		for _, ev := range t.Events {
			s := fmt.Sprintf("%d %s %s @%s epoch=%s", ev.Index, ev.Kind, ev.Target, ev.Pos, ev.Epoch)
			if a := ls.Access(ev); a != nil {
				s += " held=" + a.Held.Signature()
			}
			td.Events = append(td.Events, s)
		}
		d.Threads = append(d.Threads, td)

		for _, s := range ls.Sections(t) {
			span := s.Acquire.Pos + ".."
			if s.Release != nil {
				span += s.Release.Pos
			} else {
				span += "end"
			}
			d.Sections = append(d.Sections, sectionDump{
				Thread:   string(t.ID),
				Span:     span,
				Locks:    s.Locks.Signature(),
				Accesses: len(s.Accesses),
			})
		}
	})
	for _, e := range ls.Graph.Edges() {
		ed := edgeDump{Edge: fmt.Sprintf("%s -> %s", e.From, e.To)}
		for _, s := range e.Sites {
			ed.Sites = append(ed.Sites, fmt.Sprintf("%s: %s then %s", s.Thread.ID, s.Held.Pos, s.Acquire.Pos))
		}
		d.Edges = append(d.Edges, ed)
	}
	for _, id := range tr.SharedLocations() {
		d.Shared = append(d.Shared, string(id))
	}
	return d
}

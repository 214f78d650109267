// Package engine runs the full analysis pipeline on IR programs.
//
// One run is single-threaded and deterministic:
//
//	collect → lock-set replay → races, atomicity, order
//	                          → deadlock cycles
//	                          → relation labels
//	                          → merged, sorted, deduplicated report
//
// AnalyzeBatch runs independent programs concurrently. Runs share nothing.
package engine

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/rdao/internal/rdao/config"
	"github.com/kolkov/rdao/internal/rdao/deadlock"
	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/racecheck"
	"github.com/kolkov/rdao/internal/rdao/relation"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Options configure an Engine.
type Options struct {
	// Budget bounds lock-order cycle enumeration.
	Budget lockgraph.Budget

	// BlockingSeverity is copied into every report.
	BlockingSeverity finding.Severity

	// Workers limits concurrent runs in AnalyzeBatch. Zero means GOMAXPROCS.
	Workers int

	// Logger receives progress logs. Nil discards them.
	Logger logrus.FieldLogger
}

// FromConfig returns the options described by c.
func FromConfig(c *config.Config, logger logrus.FieldLogger) Options {
	return Options{
		Budget:           c.Budget(),
		BlockingSeverity: c.BlockingSeverity(),
		Workers:          c.Analysis.Workers,
		Logger:           logger,
	}
}

// Engine analyzes programs. It is safe for concurrent use.
type Engine struct {
	opts Options
	log  logrus.FieldLogger
}

// New returns an engine with the given options.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{opts: opts, log: log}
}

// Analyze runs every detector on p.
//
// An ill-formed program yields an error wrapping *ir.IllFormedTraceError.
// Exhausting the cycle budget is not an error: the report comes back with
// Incomplete set.
func (e *Engine) Analyze(p *ir.Program) (*finding.Report, error) {
	log := e.log.WithField("program", p.Name)

	tr, err := trace.Collect(p)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", p.Name, err)
	}
	log.WithField("threads", len(tr.Threads)).Debug("collected trace")

	ls, err := lockset.Analyze(tr)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", p.Name, err)
	}
	log.WithFields(logrus.Fields{
		"locks":    len(ls.Graph.Nodes()),
		"edges":    len(ls.Graph.Edges()),
		"findings": len(ls.Findings),
	}).Debug("replayed lock sets")

	set := finding.NewSet()
	set.AddAll(ls.Findings)

	access := racecheck.Check(ls)
	set.AddAll(access)
	log.WithField("findings", len(access)).Debug("checked shared accesses")

	dl := deadlock.Detect(ls, e.opts.Budget)
	set.AddAll(dl.Findings)
	log.WithField("findings", len(dl.Findings)).Debug("enumerated lock-order cycles")
	if dl.Incomplete {
		log.WithField("reason", dl.Reason).Warn("analysis incomplete")
	}

	labels := relation.ClassifyTrace(tr)
	fs := set.Findings()
	relation.Attach(fs, labels)

	r := &finding.Report{
		Program:          p.Name,
		Findings:         fs,
		Relations:        labels,
		Incomplete:       dl.Incomplete,
		IncompleteReason: dl.Reason,
		BlockingSeverity: e.opts.BlockingSeverity,
	}
	for _, t := range tr.Unjoined() {
		log.WithFields(logrus.Fields{"thread": t.ID, "spawn": t.SpawnPos()}).Info("thread is never joined")
		r.Unjoined = append(r.Unjoined, finding.UnjoinedThread{
			Thread:   string(t.ID),
			Parent:   string(t.Parent.ID),
			SpawnPos: t.SpawnPos(),
		})
	}
	log.WithField("findings", len(fs)).Debug("analysis done")
	return r, nil
}

// Result is the outcome of one program of a batch.
type Result struct {
	Name   string
	Report *finding.Report
	Err    error
}

// AnalyzeBatch analyzes progs concurrently and returns one result per
// program, in input order. A failing program does not stop the others.
// When ctx is canceled the programs not yet started fail with ctx's error,
// which is also returned.
func (e *Engine) AnalyzeBatch(ctx context.Context, progs []*ir.Program) ([]Result, error) {
	workers := e.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e.log.WithFields(logrus.Fields{"programs": len(progs), "workers": workers}).Debug("starting batch")

	results := make([]Result, len(progs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range progs {
		i, p := i, p
		results[i].Name = p.Name
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Report, results[i].Err = e.Analyze(p)
			if results[i].Err != nil {
				e.log.WithError(results[i].Err).Warn("program failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

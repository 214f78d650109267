// Package deadlock reports potential deadlocks from cycles in the lock-order
// graph.
//
// Every simple cycle of length two or more is one finding. A self-loop L → L
// comes from a plain lock re-acquired by its holder; it is reported as unsafe
// recursion with the same key the lock-set replay uses, so the report keeps
// a single finding for it.
package deadlock

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Result holds the deadlock findings of one run.
type Result struct {
	Findings []finding.Finding

	// Incomplete is set when the budget stopped cycle enumeration. Reason
	// says which limit was hit.
	Incomplete bool
	Reason     string
}

// Detect enumerates the cycles of r.Graph within budget.
//
// Severity is medium, or high when two different threads contribute edges
// of the cycle through acquisitions that happens-before does not order. It
// is raised one more level when any contributing acquisition sits in a loop.
func Detect(r *lockset.Result, budget lockgraph.Budget) Result {
	var res Result
	g := r.Graph

	for _, e := range g.SelfLoops() {
		for _, s := range e.Sites {
			res.Findings = append(res.Findings, lockset.UnsafeRecursion(s.Thread, e.From, s.Held, s.Acquire))
		}
	}

	cycles, err := g.Cycles(budget)
	if errors.Is(err, lockgraph.ErrAnalysisBudgetExceeded) {
		res.Incomplete = true
		res.Reason = err.Error()
	}
	for _, c := range cycles {
		res.Findings = append(res.Findings, cycleFinding(r.Trace, c, g.CycleEdges(c)))
	}
	return res
}

func cycleFinding(tr *trace.Trace, cycle []ir.LockID, edges []*lockgraph.Edge) finding.Finding {
	names := make([]string, 0, len(cycle)+1)
	for _, l := range cycle {
		names = append(names, string(l))
	}
	names = append(names, string(cycle[0]))
	subject := strings.Join(names, " -> ")

	var (
		ev      []finding.Evidence
		threads []string
		inLoop  bool
	)
	seenThread := make(map[*trace.Thread]bool)
	for _, e := range edges {
		// One site per thread and edge keeps the evidence minimal.
		perEdge := make(map[*trace.Thread]bool)
		for _, s := range e.Sites {
			inLoop = inLoop || s.InLoop()
			if perEdge[s.Thread] {
				continue
			}
			perEdge[s.Thread] = true
			if !seenThread[s.Thread] {
				seenThread[s.Thread] = true
				threads = append(threads, string(s.Thread.ID))
			}
			ev = append(ev,
				finding.FromEvent(s.Held, "holds "+string(e.From)),
				finding.FromEvent(s.Acquire, "acquires "+string(e.To)),
			)
		}
	}

	sev := finding.SeverityMedium
	if concurrentSites(tr, edges) {
		sev = finding.SeverityHigh
	}
	if inLoop {
		sev = sev.Raise()
	}

	return finding.New(finding.ClassDeadlock, sev, subject, strings.Join(names[:len(cycle)], "|"),
		fmt.Sprintf("lock-order cycle %s; acquired in conflicting order by thread(s) %s",
			subject, strings.Join(threads, ", ")),
		ev...)
}

// concurrentSites reports whether two edges of the cycle are contributed by
// different threads whose acquisitions can overlap.
func concurrentSites(tr *trace.Trace, edges []*lockgraph.Edge) bool {
	for i, a := range edges {
		for _, b := range edges[i+1:] {
			for _, sa := range a.Sites {
				for _, sb := range b.Sites {
					if sa.Thread != sb.Thread && tr.Concurrent(sa.Acquire, sb.Acquire) {
						return true
					}
				}
			}
		}
	}
	return false
}

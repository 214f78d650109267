// Package relation classifies how threads communicate through a shared
// location.
//
// The classification depends only on which threads read and which threads
// write the location, so it is independent of program order and of the
// order in which threads are supplied.
package relation

import (
	"sort"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Relation labels.
const (
	// Backward: the location belongs to an owner context, another thread
	// writes it back and someone reads it.
	Backward = "backward"
	// Symmetric: every accessing thread both reads and writes.
	Symmetric = "symmetric"
	// Forward: one thread writes, another thread only reads.
	Forward = "forward"
)

// Access is one (thread, op kind) pair on a location.
type Access struct {
	Thread ir.ThreadID
	Kind   ir.OpKind
}

// Classify labels loc from the set of its accesses. It returns "" when no
// label applies. Producers are the writing threads and consumers the
// reading threads, both sorted.
func Classify(loc ir.Location, accesses []Access) (label string, producers, consumers []string) {
	reads := make(map[ir.ThreadID]bool)
	writes := make(map[ir.ThreadID]bool)
	threads := make(map[ir.ThreadID]bool)
	for _, a := range accesses {
		threads[a.Thread] = true
		switch a.Kind {
		case ir.OpRead:
			reads[a.Thread] = true
		case ir.OpWrite:
			writes[a.Thread] = true
		}
	}
	producers = sortedKeys(writes)
	consumers = sortedKeys(reads)

	if loc.Owner != "" && len(reads) > 0 {
		for w := range writes {
			if string(w) != loc.Owner {
				return Backward, producers, consumers
			}
		}
	}

	if len(threads) >= 2 {
		all := true
		for t := range threads {
			if !reads[t] || !writes[t] {
				all = false
				break
			}
		}
		if all {
			return Symmetric, producers, consumers
		}
	}

	for w := range writes {
		for r := range reads {
			if r != w && !writes[r] {
				return Forward, producers, consumers
			}
		}
	}
	return "", nil, nil
}

// ClassifyTrace labels every shared location of tr, sorted by location.
// Locations without a label are omitted.
func ClassifyTrace(tr *trace.Trace) []finding.RelationLabel {
	var out []finding.RelationLabel
	for _, id := range tr.SharedLocations() {
		evs := tr.Accesses(id)
		accs := make([]Access, len(evs))
		for i, e := range evs {
			accs[i] = Access{Thread: e.Thread.ID, Kind: e.Kind}
		}
		label, prod, cons := Classify(tr.Location(id), accs)
		if label == "" {
			continue
		}
		out = append(out, finding.RelationLabel{
			Location:  string(id),
			Label:     label,
			Producers: prod,
			Consumers: cons,
		})
	}
	return out
}

// Attach sets the Relation of every location finding in fs whose subject
// has a label.
func Attach(fs []finding.Finding, labels []finding.RelationLabel) {
	byLoc := make(map[string]string, len(labels))
	for _, l := range labels {
		byLoc[l.Location] = l.Label
	}
	for i := range fs {
		switch fs[i].Class {
		case finding.ClassRace, finding.ClassAtomicity, finding.ClassOrder:
			fs[i].Relation = byLoc[fs[i].Subject]
		}
	}
}

func sortedKeys(m map[ir.ThreadID]bool) []string {
	var out []string
	for k := range m {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

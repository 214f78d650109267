// Package lockset replays every thread's lock operations.
//
// For each thread the analyzer keeps a per-lock acquisition count; a lock is
// held while its count is positive. The replay yields:
//
//   - the held-lock set at every access;
//   - the outermost critical sections of every thread, i.e. the spans during
//     which the thread holds at least one lock;
//   - the lock-order graph, with an edge h → l whenever l is freshly acquired
//     while h is held;
//   - unsafe-recursion findings for plain locks re-acquired by their holder,
//     and missing-unlock findings for locks still held when a thread ends.
//
// Releasing a lock that is not held makes the trace ill-formed.
package lockset

import (
	"fmt"
	"sort"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Access is an access event annotated with the locks held at it.
type Access struct {
	*trace.Event

	Held Set

	// Section is the enclosing outermost critical section, nil when no lock
	// is held.
	Section *Section
}

// Evidence returns the access as finding evidence including its held set.
func (a *Access) Evidence(note string) finding.Evidence {
	ev := finding.FromEvent(a.Event, note)
	ev.Held = a.Held.Strings()
	return ev
}

// Section is an outermost critical section: it starts when a thread goes
// from holding no lock to holding one and ends when it holds none again.
type Section struct {
	Thread *trace.Thread

	// Index is the position of the section among its thread's sections.
	Index int

	Acquire *trace.Event

	// Release is the unlock that ends the section, nil when the thread ends
	// while still holding a lock.
	Release *trace.Event

	// Locks are all locks acquired inside the section.
	Locks Set

	Accesses []*Access
}

// Touching returns the section's accesses to loc in program order.
func (s *Section) Touching(loc ir.LocationID) []*Access {
	var out []*Access
	for _, a := range s.Accesses {
		if a.Location() == loc {
			out = append(out, a)
		}
	}
	return out
}

// Writes reports whether the section writes loc.
func (s *Section) Writes(loc ir.LocationID) bool {
	for _, a := range s.Accesses {
		if a.Location() == loc && a.IsWrite() {
			return true
		}
	}
	return false
}

// Result is the outcome of the lock-set replay.
type Result struct {
	Trace *trace.Trace

	// Graph is the frozen lock-order graph.
	Graph *lockgraph.Graph

	// Findings are the unsafe-recursion and missing-unlock findings.
	Findings []finding.Finding

	access    map[*trace.Event]*Access
	sections  map[*trace.Thread][]*Section
	acquirers map[ir.LockID][]*trace.Thread
}

// Access returns the annotated access for e, or nil if e is not an access.
func (r *Result) Access(e *trace.Event) *Access { return r.access[e] }

// Accesses returns the annotated accesses to loc, in the order of
// trace.Trace.Accesses.
func (r *Result) Accesses(loc ir.LocationID) []*Access {
	evs := r.Trace.Accesses(loc)
	out := make([]*Access, len(evs))
	for i, e := range evs {
		out[i] = r.access[e]
	}
	return out
}

// Sections returns t's outermost critical sections in program order.
func (r *Result) Sections(t *trace.Thread) []*Section { return r.sections[t] }

// Acquirers returns the threads that acquire l, in walk order.
func (r *Result) Acquirers(l ir.LockID) []*trace.Thread { return r.acquirers[l] }

// Analyze replays the lock operations of every thread of tr.
func Analyze(tr *trace.Trace) (*Result, error) {
	r := &Result{
		Trace:     tr,
		Graph:     lockgraph.New(),
		access:    make(map[*trace.Event]*Access),
		sections:  make(map[*trace.Thread][]*Section),
		acquirers: make(map[ir.LockID][]*trace.Thread),
	}

	var (
		err      error
		unfreed  []*trace.Event
		reported = make(map[string]bool)
	)
	tr.Walk(func(t *trace.Thread) {
		if err != nil {
			return
		}
		var left []*trace.Event
		left, err = r.replay(t, reported)
		unfreed = append(unfreed, left...)
	})
	if err != nil {
		return nil, err
	}

	for _, e := range unfreed {
		r.Findings = append(r.Findings, r.missingUnlock(e))
	}
	r.Graph.Freeze()
	return r, nil
}

// replay processes one thread. It returns the outermost acquisitions of the
// locks the thread still holds at its end, sorted by lock.
func (r *Result) replay(t *trace.Thread, reported map[string]bool) ([]*trace.Event, error) {
	var (
		counts = make(map[ir.LockID]int)
		outer  = make(map[ir.LockID]*trace.Event)
		held   Set
		total  int
		cur    *Section
	)
	closeSection := func(release *trace.Event) {
		cur.Release = release
		r.sections[t] = append(r.sections[t], cur)
		cur = nil
	}

	for _, e := range t.Events {
		switch e.Kind {
		case ir.OpLock:
			l := e.Lock()
			r.noteAcquirer(l, t)
			r.Graph.AddNode(l)

			if counts[l] > 0 {
				if r.Trace.LockKind(l) == ir.LockPlain {
					key := string(t.ID) + "|" + string(l)
					if !reported[key] {
						reported[key] = true
						r.Graph.AddEdge(l, l, lockgraph.Site{Thread: t, Held: outer[l], Acquire: e})
						r.Findings = append(r.Findings, UnsafeRecursion(t, l, outer[l], e))
					}
				}
				counts[l]++
				total++
				continue
			}

			for _, h := range held {
				r.Graph.AddEdge(h, l, lockgraph.Site{Thread: t, Held: outer[h], Acquire: e})
			}
			counts[l] = 1
			outer[l] = e
			held = held.With(l)
			total++
			if cur == nil {
				cur = &Section{Thread: t, Index: len(r.sections[t]), Acquire: e}
			}
			cur.Locks = cur.Locks.With(l)

		case ir.OpUnlock:
			l := e.Lock()
			if counts[l] == 0 {
				return nil, ir.NewIllFormed(t.ID, e.Index, e.Pos, "unlock of %s which is not held", l)
			}
			counts[l]--
			total--
			if counts[l] == 0 {
				delete(outer, l)
				held = without(held, l)
			}
			if total == 0 {
				closeSection(e)
			}

		case ir.OpRead, ir.OpWrite:
			a := &Access{Event: e, Held: held, Section: cur}
			if cur != nil {
				cur.Accesses = append(cur.Accesses, a)
			}
			r.access[e] = a
		}
	}

	if cur != nil {
		closeSection(nil)
	}
	left := make([]*trace.Event, 0, len(held))
	for _, l := range held {
		left = append(left, outer[l])
	}
	return left, nil
}

func (r *Result) noteAcquirer(l ir.LockID, t *trace.Thread) {
	ts := r.acquirers[l]
	if len(ts) > 0 && ts[len(ts)-1] == t {
		return
	}
	r.acquirers[l] = append(ts, t)
}

// missingUnlock reports a lock its thread never releases. Any other thread
// that acquires the same lock blocks forever.
func (r *Result) missingUnlock(acq *trace.Event) finding.Finding {
	l := acq.Lock()
	sev := finding.SeverityMedium
	ev := []finding.Evidence{finding.FromEvent(acq, "never released")}
	for _, t := range r.acquirers[l] {
		if t == acq.Thread {
			continue
		}
		sev = finding.SeverityHigh
		for _, e := range t.Events {
			if e.Kind == ir.OpLock && e.Lock() == l {
				ev = append(ev, finding.FromEvent(e, "blocks"))
				break
			}
		}
	}
	return finding.New(finding.ClassDeadlock, sev, string(l),
		"missing-unlock|"+string(acq.Thread.ID)+"|"+string(l),
		fmt.Sprintf("missing unlock: thread %s ends while holding %s", acq.Thread.ID, l),
		ev...)
}

// UnsafeRecursion builds the finding for plain lock l re-acquired by t. The
// key depends only on (thread, lock) so every detector that notices the
// same re-acquisition produces the same finding.
func UnsafeRecursion(t *trace.Thread, l ir.LockID, first, again *trace.Event) finding.Finding {
	return finding.New(finding.ClassUnsafeRecursion, finding.SeverityCritical, string(l),
		string(t.ID)+"|"+string(l),
		fmt.Sprintf("plain lock %s re-acquired by thread %s while already held", l, t.ID),
		finding.FromEvent(first, "first acquisition"),
		finding.FromEvent(again, "re-acquired while held"),
	)
}

func without(s Set, l ir.LockID) Set {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= l })
	if i == len(s) || s[i] != l {
		return s
	}
	out := make(Set, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

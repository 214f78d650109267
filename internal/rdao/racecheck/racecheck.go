// Package racecheck detects data races, atomicity violations and order
// violations on shared locations.
//
// All three checks work on the output of the lock-set replay and use the
// trace's happens-before relation to discard pairs of events that spawn and
// join already order. Locations that only one thread touches, or that are
// declared thread-local, never produce a finding.
package racecheck

import (
	"fmt"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Check runs every check in this package.
func Check(r *lockset.Result) []finding.Finding {
	var out []finding.Finding
	out = append(out, Races(r)...)
	out = append(out, AtomicityViolations(r)...)
	out = append(out, OrderViolations(r)...)
	return out
}

// Races reports pairs of accesses to a shared location from different
// threads where at least one access writes, the held lock sets are
// disjoint, and neither access happens before the other.
//
// One finding is produced per location and pair of lock-set signatures,
// whichever threads contribute the pair. Its evidence is the first
// conflicting pair in trace order, so a conflict repeated inside a loop or
// by identical worker threads is reported once.
func Races(r *lockset.Result) []finding.Finding {
	tr := r.Trace
	var out []finding.Finding
	for _, loc := range tr.SharedLocations() {
		seen := make(map[string]bool)
		accs := r.Accesses(loc)
		for i, a := range accs {
			for _, b := range accs[i+1:] {
				if a.Thread == b.Thread {
					continue
				}
				if !a.IsWrite() && !b.IsWrite() {
					continue
				}
				if a.Held.Intersects(b.Held) || !tr.Concurrent(a.Event, b.Event) {
					continue
				}
				key := raceKey(loc, a, b)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, finding.New(finding.ClassRace, finding.SeverityHigh, string(loc), key,
					fmt.Sprintf("%s and %s of %s are concurrent and hold no common lock",
						a.Kind, b.Kind, loc),
					a.Evidence(""), b.Evidence(""),
				))
			}
		}
	}
	return out
}

func raceKey(loc ir.LocationID, a, b *lockset.Access) string {
	ka, kb := a.Held.Signature(), b.Held.Signature()
	if kb < ka {
		ka, kb = kb, ka
	}
	return string(loc) + "|" + ka + "|" + kb
}

// AtomicityViolations reports compound accesses that another thread can
// interleave.
//
// A compound access is a pair of consecutive outermost critical sections of
// one thread that both touch a shared location X, at least one of them
// writing it. Between the release that ends the first section and the
// acquire that starts the second no lock is held. The compound is violated
// when another thread has an event that is not ordered with that gap and
// either accesses X or writes anything while holding a lock taken by one of
// the two sections.
func AtomicityViolations(r *lockset.Result) []finding.Finding {
	tr := r.Trace
	var out []finding.Finding
	tr.Walk(func(t *trace.Thread) {
		for _, loc := range tr.SharedLocations() {
			var prev *lockset.Section
			for _, s := range r.Sections(t) {
				if len(s.Touching(loc)) == 0 {
					continue
				}
				if prev != nil && prev.Release != nil && (prev.Writes(loc) || s.Writes(loc)) {
					if f, ok := compound(r, loc, prev, s); ok {
						out = append(out, f)
					}
				}
				prev = s
			}
		}
	})
	return out
}

func compound(r *lockset.Result, loc ir.LocationID, s1, s2 *lockset.Section) (finding.Finding, bool) {
	tr := r.Trace
	locks := s1.Locks.Union(s2.Locks)

	var interleaved []finding.Evidence
	for _, u := range tr.Threads {
		if u == s1.Thread {
			continue
		}
		for _, e := range u.Events {
			if !e.IsAccess() {
				continue
			}
			if tr.HappensBefore(e, s1.Release) || tr.HappensBefore(s2.Acquire, e) {
				continue
			}
			a := r.Access(e)
			if e.Location() == loc || (e.IsWrite() && a.Held.Intersects(locks)) {
				interleaved = append(interleaved, a.Evidence("interleaved"))
				break
			}
		}
	}
	if len(interleaved) == 0 {
		return finding.Finding{}, false
	}

	var ev []finding.Evidence
	for _, a := range s1.Touching(loc) {
		ev = append(ev, a.Evidence("first section"))
	}
	for _, a := range s2.Touching(loc) {
		ev = append(ev, a.Evidence("second section"))
	}
	ev = append(ev, interleaved...)

	t := s1.Thread
	return finding.New(finding.ClassAtomicity, finding.SeverityMedium, string(loc),
		fmt.Sprintf("%s|%s|%d", t.ID, loc, s1.Index),
		fmt.Sprintf("thread %s accesses %s in two critical sections (%s..%s); another thread can run in between",
			t.ID, loc, s1.Release.Pos, s2.Acquire.Pos),
		ev...), true
}

// OrderViolations reports consumers that are not ordered after the producer
// of a shared location.
//
// A producer is a write that publishes freshly allocated storage (an alloc
// write). For every producer p in thread P and every other thread C that
// accesses the same location, C's first access must happen after p. One
// finding is produced per (location, P, C).
func OrderViolations(r *lockset.Result) []finding.Finding {
	tr := r.Trace
	var out []finding.Finding
	for _, loc := range tr.SharedLocations() {
		evs := tr.Accesses(loc)
		first := make(map[*trace.Thread]*trace.Event)
		var consumers []*trace.Thread
		for _, e := range evs {
			if _, ok := first[e.Thread]; !ok {
				first[e.Thread] = e
				consumers = append(consumers, e.Thread)
			}
		}

		seen := make(map[string]bool)
		for _, p := range evs {
			if !p.IsWrite() || !p.Alloc {
				continue
			}
			for _, c := range consumers {
				if c == p.Thread {
					continue
				}
				key := string(loc) + "|" + string(p.Thread.ID) + "|" + string(c.ID)
				ce := first[c]
				if seen[key] || tr.HappensBefore(p, ce) {
					continue
				}
				seen[key] = true
				out = append(out, finding.New(finding.ClassOrder, finding.SeverityHigh, string(loc), key,
					fmt.Sprintf("thread %s may use %s before thread %s initializes it", c.ID, loc, p.Thread.ID),
					r.Access(p).Evidence("producer"),
					r.Access(ce).Evidence("consumer"),
				))
			}
		}
	}
	return out
}

// Package trace implements the event collector.
//
// Collect walks an IR program from its root thread, following spawn
// operations into child threads, and produces a Trace: the resolved thread
// tree plus every access and lock event in per-thread program order.
//
// # Happens-before
//
// Only thread creation and join order events across threads. While walking
// the tree the collector keeps a vector clock per thread:
//
//   - every event ticks the thread's own component and records the result
//     as the event's epoch;
//   - a spawned thread starts from a copy of its parent's clock;
//   - a join folds the joined thread's final clock into the joiner's clock.
//
// Each event also keeps a snapshot of its thread's clock as of the last
// synchronization point. a happens-before b iff a's epoch is covered by b's
// snapshot, so detectors never need a global order of events.
//
// A thread that is never joined never contributes its clock to anyone. Its
// events stay concurrent with everything its parent does after the spawn,
// which is exactly the conservative treatment unjoined threads need.
package trace

import (
	"sort"

	"github.com/kolkov/rdao/internal/rdao/epoch"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/vectorclock"
)

// Thread is a node of the thread-creation tree.
type Thread struct {
	ID ir.ThreadID

	// Index is the dense thread index used by clocks and epochs. Indexes
	// follow the sorted order of thread ids.
	Index int

	Parent   *Thread
	Children []*Thread // in spawn order

	// SpawnEvent is the parent's spawn event, nil for the root.
	SpawnEvent *Event

	// JoinEvent is the event that joined this thread, nil if unjoined.
	JoinEvent *Event

	// Events holds every event of the thread in program order.
	Events []*Event

	spawned bool
	final   *vectorclock.VectorClock
}

// Joined reports whether some thread joins t.
func (t *Thread) Joined() bool { return t.JoinEvent != nil }

// SpawnPos returns the source position of the spawn, or "".
func (t *Thread) SpawnPos() string {
	if t.SpawnEvent == nil {
		return ""
	}
	return t.SpawnEvent.Pos
}

// JoinPos returns the source position of the join, or "" when unjoined.
func (t *Thread) JoinPos() string {
	if t.JoinEvent == nil {
		return ""
	}
	return t.JoinEvent.Pos
}

// Depth returns the nesting depth; the root is 0.
func (t *Thread) Depth() int {
	d := 0
	for p := t.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// IsAncestorOf reports whether t is a strict ancestor of u.
func (t *Thread) IsAncestorOf(u *Thread) bool {
	for p := u.Parent; p != nil; p = p.Parent {
		if p == t {
			return true
		}
	}
	return false
}

// Event is one operation of a thread.
type Event struct {
	Thread *Thread

	// Index is the program-order index of the op within its thread.
	Index int

	ir.Op

	// Epoch is the thread's logical time at this event.
	Epoch epoch.Epoch

	// Clock is the thread's clock at the last synchronization point at or
	// before this event. It is shared between events and must not be
	// modified.
	Clock *vectorclock.VectorClock
}

// IsAccess reports whether e reads or writes a location.
func (e *Event) IsAccess() bool { return e.Kind.IsAccess() }

// IsWrite reports whether e writes a location.
func (e *Event) IsWrite() bool { return e.Kind == ir.OpWrite }

// Trace is the collected, immutable view of one program.
type Trace struct {
	Name string

	Root *Thread

	// Threads holds every thread sorted by id.
	Threads []*Thread

	byID      map[ir.ThreadID]*Thread
	locks     map[ir.LockID]ir.LockKind
	locations map[ir.LocationID]ir.Location
	accesses  map[ir.LocationID][]*Event
	accessors map[ir.LocationID]map[*Thread]struct{}
}

// Thread returns the thread with the given id, or nil.
func (tr *Trace) Thread(id ir.ThreadID) *Thread { return tr.byID[id] }

// LockKind returns the kind of lock id. Undeclared locks are plain.
func (tr *Trace) LockKind(id ir.LockID) ir.LockKind { return tr.locks[id] }

// Location returns the declaration of id. Undeclared locations are global.
func (tr *Trace) Location(id ir.LocationID) ir.Location {
	if l, ok := tr.locations[id]; ok {
		return l
	}
	return ir.Location{ID: id, Scope: ir.ScopeGlobal}
}

// Shared reports whether id is reachable from more than one thread: it is
// not thread-local by declaration and at least two threads access it.
func (tr *Trace) Shared(id ir.LocationID) bool {
	if tr.Location(id).Scope == ir.ScopeLocal {
		return false
	}
	return len(tr.accessors[id]) > 1
}

// Locations returns every accessed location, sorted.
func (tr *Trace) Locations() []ir.LocationID {
	ids := make([]ir.LocationID, 0, len(tr.accesses))
	for id := range tr.accesses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SharedLocations returns the shared locations, sorted.
func (tr *Trace) SharedLocations() []ir.LocationID {
	var ids []ir.LocationID
	for _, id := range tr.Locations() {
		if tr.Shared(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Accesses returns the access events on id, grouped by thread in sorted
// thread order and in program order within a thread.
func (tr *Trace) Accesses(id ir.LocationID) []*Event { return tr.accesses[id] }

// HappensBefore reports whether a is ordered before b. Within one thread
// that is program order; across threads only spawn and join order events.
func (tr *Trace) HappensBefore(a, b *Event) bool {
	if a.Thread == b.Thread {
		return a.Index < b.Index
	}
	return a.Epoch.HappensBefore(b.Clock)
}

// Concurrent reports whether a and b are unordered.
func (tr *Trace) Concurrent(a, b *Event) bool {
	return a != b && !tr.HappensBefore(a, b) && !tr.HappensBefore(b, a)
}

// Walk calls fn for every thread, parents before children, children in
// spawn order.
func (tr *Trace) Walk(fn func(*Thread)) {
	var walk func(*Thread)
	walk = func(t *Thread) {
		fn(t)
		for _, c := range t.Children {
			walk(c)
		}
	}
	walk(tr.Root)
}

// Unjoined returns threads other than the root that nobody joins, in walk
// order.
func (tr *Trace) Unjoined() []*Thread {
	var out []*Thread
	tr.Walk(func(t *Thread) {
		if t.Parent != nil && !t.Joined() {
			out = append(out, t)
		}
	})
	return out
}

// Package irtest provides a fluent builder for IR programs used by tests.
//
// Source positions are generated as "<thread>.c:<n>" where n is the 1-based
// op number, so reports built from test programs sort predictably.
//
//	p := irtest.New("race").
//		Main("main", func(t *irtest.T) { t.Spawn("t1").Write("x").Join("t1") }).
//		Thread("t1", "main", func(t *irtest.T) { t.Write("x") }).
//		Program()
package irtest

import (
	"fmt"
	"math/rand"

	"github.com/kolkov/rdao/internal/rdao/ir"
)

// Builder assembles an ir.Program.
type Builder struct {
	p ir.Program
}

// New starts a program called name.
func New(name string) *Builder {
	return &Builder{p: ir.Program{Version: "v1.0.0", Name: name}}
}

// Recursive declares recursive locks.
func (b *Builder) Recursive(ids ...string) *Builder {
	for _, id := range ids {
		b.p.Locks = append(b.p.Locks, ir.Lock{ID: ir.LockID(id), Kind: ir.LockRecursive})
	}
	return b
}

// Local declares thread-local locations.
func (b *Builder) Local(ids ...string) *Builder {
	for _, id := range ids {
		b.p.Locations = append(b.p.Locations, ir.Location{ID: ir.LocationID(id), Scope: ir.ScopeLocal})
	}
	return b
}

// Owned declares a global location owned by the given context.
func (b *Builder) Owned(id, owner string) *Builder {
	b.p.Locations = append(b.p.Locations, ir.Location{ID: ir.LocationID(id), Owner: owner})
	return b
}

// Main adds the root thread.
func (b *Builder) Main(id string, body func(*T)) *Builder {
	return b.Thread(id, "", body)
}

// Thread adds a thread spawned by parent.
func (b *Builder) Thread(id, parent string, body func(*T)) *Builder {
	t := &T{th: ir.Thread{ID: ir.ThreadID(id), Parent: ir.ThreadID(parent)}}
	if body != nil {
		body(t)
	}
	if t.th.Ops == nil {
		t.th.Ops = []ir.Op{}
	}
	b.p.Threads = append(b.p.Threads, t.th)
	return b
}

// Program returns the built program.
func (b *Builder) Program() *ir.Program {
	p := b.p
	return &p
}

// T appends ops to one thread.
type T struct {
	th   ir.Thread
	loop bool
}

func (t *T) add(kind ir.OpKind, target string, alloc bool) *T {
	t.th.Ops = append(t.th.Ops, ir.Op{
		Kind:   kind,
		Target: target,
		Pos:    fmt.Sprintf("%s.c:%d", t.th.ID, len(t.th.Ops)+1),
		InLoop: t.loop,
		Alloc:  alloc,
	})
	return t
}

// Read appends read(loc).
func (t *T) Read(loc string) *T { return t.add(ir.OpRead, loc, false) }

// Write appends write(loc).
func (t *T) Write(loc string) *T { return t.add(ir.OpWrite, loc, false) }

// Alloc appends a write of freshly allocated storage to loc.
func (t *T) Alloc(loc string) *T { return t.add(ir.OpWrite, loc, true) }

// Inc appends read(loc), write(loc).
func (t *T) Inc(loc string) *T { return t.Read(loc).Write(loc) }

// Lock appends lock(l) for each lock, in order.
func (t *T) Lock(ls ...string) *T {
	for _, l := range ls {
		t.add(ir.OpLock, l, false)
	}
	return t
}

// Unlock appends unlock(l) for each lock, in order.
func (t *T) Unlock(ls ...string) *T {
	for _, l := range ls {
		t.add(ir.OpUnlock, l, false)
	}
	return t
}

// Spawn appends spawn(child) for each child.
func (t *T) Spawn(children ...string) *T {
	for _, c := range children {
		t.add(ir.OpSpawn, c, false)
	}
	return t
}

// Join appends join(child) for each child.
func (t *T) Join(children ...string) *T {
	for _, c := range children {
		t.add(ir.OpJoin, c, false)
	}
	return t
}

// Loop appends the ops added by body marked as in-loop.
func (t *T) Loop(body func(*T)) *T {
	prev := t.loop
	t.loop = true
	body(t)
	t.loop = prev
	return t
}

// Shuffled returns a copy of p with its thread list permuted by seed. Each
// thread keeps its own op order.
func Shuffled(p *ir.Program, seed int64) *ir.Program {
	q := *p
	q.Threads = append([]ir.Thread(nil), p.Threads...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(q.Threads), func(i, j int) {
		q.Threads[i], q.Threads[j] = q.Threads[j], q.Threads[i]
	})
	return &q
}

// Reversed returns a copy of p with its thread list reversed.
func Reversed(p *ir.Program) *ir.Program {
	q := *p
	n := len(p.Threads)
	q.Threads = make([]ir.Thread, n)
	for i, t := range p.Threads {
		q.Threads[n-1-i] = t
	}
	return &q
}

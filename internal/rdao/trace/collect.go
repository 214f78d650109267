package trace

import (
	"sort"

	"github.com/kolkov/rdao/internal/rdao/epoch"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/vectorclock"
)

// Collect builds the Trace of p.
//
// The result does not depend on the order of p.Threads: threads are indexed
// by sorted id and visited from the root along spawn operations.
//
// Returns *ir.IllFormedTraceError when the thread tree is malformed (no
// single root, unknown parent, cycle, spawn or join of an unknown thread,
// thread joining itself or an ancestor, double spawn or join, thread never
// spawned) or an op is malformed.
func Collect(p *ir.Program) (*Trace, error) {
	tr := &Trace{
		Name:      p.Name,
		byID:      make(map[ir.ThreadID]*Thread, len(p.Threads)),
		locks:     make(map[ir.LockID]ir.LockKind, len(p.Locks)),
		locations: make(map[ir.LocationID]ir.Location, len(p.Locations)),
		accesses:  make(map[ir.LocationID][]*Event),
		accessors: make(map[ir.LocationID]map[*Thread]struct{}),
	}
	for _, l := range p.Locks {
		if _, dup := tr.locks[l.ID]; dup {
			return nil, ir.NewIllFormedProgram("lock %s declared twice", l.ID)
		}
		tr.locks[l.ID] = l.Kind
	}
	for _, l := range p.Locations {
		if _, dup := tr.locations[l.ID]; dup {
			return nil, ir.NewIllFormedProgram("location %s declared twice", l.ID)
		}
		tr.locations[l.ID] = l
	}

	c := &collector{tr: tr, decl: make(map[ir.ThreadID]*ir.Thread, len(p.Threads))}
	if err := c.declare(p.Threads); err != nil {
		return nil, err
	}
	if err := c.run(tr.Root, vectorclock.New(len(tr.Threads))); err != nil {
		return nil, err
	}
	for _, t := range tr.Threads {
		if t != tr.Root && !t.spawned {
			return nil, ir.NewIllFormed(t.ID, -1, "", "thread is never spawned by its parent %s", t.Parent.ID)
		}
	}

	for _, t := range tr.Threads {
		for _, e := range t.Events {
			if !e.IsAccess() {
				continue
			}
			loc := e.Location()
			tr.accesses[loc] = append(tr.accesses[loc], e)
			if tr.accessors[loc] == nil {
				tr.accessors[loc] = make(map[*Thread]struct{})
			}
			tr.accessors[loc][t] = struct{}{}
		}
	}
	return tr, nil
}

type collector struct {
	tr   *Trace
	decl map[ir.ThreadID]*ir.Thread
}

// declare creates the Thread nodes, indexes them and links parents.
func (c *collector) declare(threads []ir.Thread) error {
	tr := c.tr
	for i := range threads {
		d := &threads[i]
		if d.ID == "" {
			return ir.NewIllFormedProgram("thread %d has no id", i)
		}
		if _, dup := c.decl[d.ID]; dup {
			return ir.NewIllFormedProgram("thread %s declared twice", d.ID)
		}
		c.decl[d.ID] = d
		t := &Thread{ID: d.ID}
		tr.byID[d.ID] = t
		tr.Threads = append(tr.Threads, t)
	}
	sort.Slice(tr.Threads, func(i, j int) bool { return tr.Threads[i].ID < tr.Threads[j].ID })

	for i, t := range tr.Threads {
		t.Index = i
		d := c.decl[t.ID]
		if d.Parent == "" {
			if tr.Root != nil {
				return ir.NewIllFormedProgram("threads %s and %s are both roots", tr.Root.ID, t.ID)
			}
			tr.Root = t
			continue
		}
		parent, ok := tr.byID[d.Parent]
		if !ok {
			return ir.NewIllFormed(t.ID, -1, "", "unknown parent thread %s", d.Parent)
		}
		t.Parent = parent
	}
	if tr.Root == nil && len(tr.Threads) > 0 {
		return ir.NewIllFormedProgram("no root thread: the spawn tree has a cycle")
	}
	if tr.Root == nil {
		return ir.NewIllFormedProgram("program has no threads")
	}

	// Every parent chain must end at the root.
	for _, t := range tr.Threads {
		steps := 0
		for p := t; p.Parent != nil; p = p.Parent {
			if steps++; steps > len(tr.Threads) {
				return ir.NewIllFormed(t.ID, -1, "", "cycle in the spawn tree")
			}
		}
	}
	return nil
}

// run replays t's ops starting from clock vc, recursing into spawned
// children at their spawn point.
func (c *collector) run(t *Thread, vc *vectorclock.VectorClock) error {
	t.spawned = true
	sync := vc.Clone()
	ops := c.decl[t.ID].Ops
	t.Events = make([]*Event, 0, len(ops))

	for i, op := range ops {
		if op.Kind <= ir.OpInvalid || op.Kind > ir.OpJoin {
			return ir.NewIllFormed(t.ID, i, op.Pos, "invalid op kind %d", int(op.Kind))
		}
		if op.Target == "" {
			return ir.NewIllFormed(t.ID, i, op.Pos, "%s without a target", op.Kind)
		}

		ev := &Event{
			Thread: t,
			Index:  i,
			Op:     op,
			Epoch:  epoch.New(t.Index, vc.Increment(t.Index)),
		}
		t.Events = append(t.Events, ev)

		switch op.Kind {
		case ir.OpSpawn:
			child, err := c.spawnTarget(t, i, op)
			if err != nil {
				return err
			}
			child.SpawnEvent = ev
			t.Children = append(t.Children, child)
			if err := c.run(child, vc.Clone()); err != nil {
				return err
			}
		case ir.OpJoin:
			target, err := c.joinTarget(t, i, op)
			if err != nil {
				return err
			}
			target.JoinEvent = ev
			// A sibling spawned later in the walk has no final clock yet;
			// leaving it unordered is the conservative choice.
			if target.final != nil {
				vc.Join(target.final)
				sync = vc.Clone()
			}
		}
		ev.Clock = sync
	}
	t.final = vc.Clone()
	return nil
}

func (c *collector) spawnTarget(t *Thread, i int, op ir.Op) (*Thread, error) {
	child := c.tr.byID[op.Thread()]
	switch {
	case child == nil:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "spawn of unknown thread %s", op.Target)
	case child.Parent != t:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "spawn of %s whose declared parent is %s", child.ID, parentID(child))
	case child.spawned:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "thread %s spawned twice", child.ID)
	}
	return child, nil
}

func (c *collector) joinTarget(t *Thread, i int, op ir.Op) (*Thread, error) {
	target := c.tr.byID[op.Thread()]
	switch {
	case target == nil:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "join of non-existent thread %s", op.Target)
	case target == t:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "thread joins itself")
	case target.IsAncestorOf(t):
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "thread joins its ancestor %s", target.ID)
	case target.JoinEvent != nil:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "thread %s joined twice", target.ID)
	case target.Parent == t && !target.spawned:
		return nil, ir.NewIllFormed(t.ID, i, op.Pos, "join of %s before it is spawned", target.ID)
	}
	return target, nil
}

func parentID(t *Thread) ir.ThreadID {
	if t.Parent == nil {
		return "(none)"
	}
	return t.Parent.ID
}

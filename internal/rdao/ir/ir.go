// Package ir defines the intermediate representation consumed by the
// analysis engine.
//
// The IR is produced by a language front end (not part of this module) and
// describes a multi-threaded program as a thread-creation tree plus, per
// thread, an ordered list of operations:
//
//	read(loc)  write(loc)  lock(l)  unlock(l)  spawn(t)  join(t)
//
// Locations, locks and threads are addressed by caller-supplied identifiers.
// The engine never invents identifiers of its own, so every finding can be
// mapped back to the caller's program.
//
// Example document (YAML; JSON is accepted too):
//
//	version: v1.0.0
//	name: race_condition1
//	locks:
//	  - {id: m}
//	threads:
//	  - id: main
//	    ops:
//	      - {op: spawn, target: t1}
//	      - {op: write, target: counter, pos: "rc1.c:20"}
//	      - {op: join, target: t1}
//	  - id: t1
//	    parent: main
//	    ops:
//	      - {op: write, target: counter, pos: "rc1.c:9"}
package ir

// ThreadID identifies a thread in the caller's program.
type ThreadID string

// LockID identifies a lock (mutex) in the caller's program.
type LockID string

// LocationID identifies a memory location: a global, an escaped heap
// allocation or a struct field.
type LocationID string

// Program is one analysis unit.
type Program struct {
	// Version is the IR format version (semver, major v1).
	Version string `yaml:"version" json:"version"`

	// Name is a human label, typically the source file name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Threads lists every thread, including the root. Order is irrelevant.
	Threads []Thread `yaml:"threads" json:"threads"`

	// Locks declares lock kinds. Undeclared locks are plain.
	Locks []Lock `yaml:"locks,omitempty" json:"locks,omitempty"`

	// Locations declares location scopes. Undeclared locations are global.
	Locations []Location `yaml:"locations,omitempty" json:"locations,omitempty"`
}

// Thread is one thread of execution and its program-ordered operations.
type Thread struct {
	ID ThreadID `yaml:"id" json:"id"`

	// Parent is the spawning thread. Empty for the root thread.
	Parent ThreadID `yaml:"parent,omitempty" json:"parent,omitempty"`

	Ops []Op `yaml:"ops" json:"ops"`
}

// Lock declares a lock and its kind.
type Lock struct {
	ID   LockID   `yaml:"id" json:"id"`
	Kind LockKind `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// Location declares a memory location.
type Location struct {
	ID    LocationID `yaml:"id" json:"id"`
	Scope Scope      `yaml:"scope,omitempty" json:"scope,omitempty"`

	// Owner names the execution context that conventionally owns the
	// location, e.g. "process" for errno. It may name a thread or a
	// context that is not a thread at all. Empty means unowned.
	Owner string `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Op is a single operation in a thread's program order.
type Op struct {
	Kind OpKind `yaml:"op" json:"op"`

	// Target is a LocationID for read/write, a LockID for lock/unlock and a
	// ThreadID for spawn/join.
	Target string `yaml:"target" json:"target"`

	// Pos is an opaque source position forwarded to reports.
	Pos string `yaml:"pos,omitempty" json:"pos,omitempty"`

	// InLoop marks operations inside a loop body.
	InLoop bool `yaml:"loop,omitempty" json:"loop,omitempty"`

	// Alloc marks a write that publishes freshly allocated storage.
	Alloc bool `yaml:"alloc,omitempty" json:"alloc,omitempty"`
}

// Location returns the target as a location id.
func (o Op) Location() LocationID { return LocationID(o.Target) }

// Lock returns the target as a lock id.
func (o Op) Lock() LockID { return LockID(o.Target) }

// Thread returns the target as a thread id.
func (o Op) Thread() ThreadID { return ThreadID(o.Target) }

// LockKind returns the declared kind of lock id, defaulting to LockPlain.
func (p *Program) LockKind(id LockID) LockKind {
	for _, l := range p.Locks {
		if l.ID == id {
			return l.Kind
		}
	}
	return LockPlain
}

// Location returns the declaration of id. Undeclared locations are reported
// as global and unowned.
func (p *Program) Location(id LocationID) Location {
	for _, l := range p.Locations {
		if l.ID == id {
			return l
		}
	}
	return Location{ID: id, Scope: ScopeGlobal}
}
